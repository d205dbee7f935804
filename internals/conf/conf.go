package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	z "github.com/Oudwins/zog"

	"github.com/Oudwins/clipq/internals/env"
	"github.com/Oudwins/clipq/internals/taskstore"
	"github.com/Oudwins/clipq/internals/version"
)

const (
	FileName       = "clipq.json"
	DefaultDataDir = "~/.clipq"
)

type Config struct {
	Version   string          `json:"-"`
	Server    ServerConfig    `json:"server" zog:"server"`
	Downloads DownloadsConfig `json:"downloads" zog:"downloads"`
	Store     StoreConfig     `json:"store" zog:"store"`
	Stream    StreamConfig    `json:"stream" zog:"stream"`
	Progress  ProgressConfig  `json:"progress" zog:"progress"`
	Sweeper   SweeperConfig   `json:"sweeper" zog:"sweeper"`
	Log       LogConfig       `json:"log" zog:"log"`
}

type ServerConfig struct {
	DataDir string `json:"data_dir" zog:"data_dir"`
}

type DownloadsConfig struct {
	Dir          string `json:"dir" zog:"dir"`
	MaxParallel  int    `json:"max_parallel" zog:"max_parallel"`
	FetchTimeout string `json:"fetch_timeout" zog:"fetch_timeout"`
	Diagnostics  bool   `json:"diagnostics" zog:"diagnostics"`
	InstallYTDLP bool   `json:"install_ytdlp" zog:"install_ytdlp"`
}

type StoreConfig struct {
	Backend taskstore.BackendID `json:"backend" zog:"backend"`
}

type StreamConfig struct {
	PollInterval string `json:"poll_interval" zog:"poll_interval"`
	OpenRetries  int    `json:"open_retries" zog:"open_retries"`
	OpenBackoff  string `json:"open_backoff" zog:"open_backoff"`
}

type ProgressConfig struct {
	MinInterval string `json:"min_interval" zog:"min_interval"`
}

type SweeperConfig struct {
	TTL      string `json:"ttl" zog:"ttl"`
	Interval string `json:"interval" zog:"interval"`
}

type LogConfig struct {
	Level string `json:"level" zog:"level"`
}

var serverSchema = z.Struct(z.Shape{
	"DataDir": z.String().Optional().Trim().Transform(expandPathTransform),
})

var downloadsSchema = z.Struct(z.Shape{
	"Dir":          z.String().Optional().Trim().Transform(expandPathTransform),
	"MaxParallel":  z.Int().Default(2).GTE(0),
	"FetchTimeout": z.String().Default("0s").TestFunc(isDuration, z.Message("fetch_timeout must be a duration like 30m")),
	"Diagnostics":  z.Bool().Default(false),
	"InstallYTDLP": z.Bool().Default(false),
})

var storeSchema = z.Struct(z.Shape{
	"Backend": z.StringLike[taskstore.BackendID]().Default(taskstore.BackendSQLite).OneOf(taskstore.DefaultIDs()),
})

var streamSchema = z.Struct(z.Shape{
	"PollInterval": z.String().Default("500ms").TestFunc(isDuration, z.Message("poll_interval must be a duration")),
	"OpenRetries":  z.Int().Default(5).GTE(0),
	"OpenBackoff":  z.String().Default("50ms").TestFunc(isDuration, z.Message("open_backoff must be a duration")),
})

var progressSchema = z.Struct(z.Shape{
	"MinInterval": z.String().Default("1s").TestFunc(isDuration, z.Message("min_interval must be a duration")),
})

var sweeperSchema = z.Struct(z.Shape{
	"TTL":      z.String().Default("1h").TestFunc(isDuration, z.Message("ttl must be a duration")),
	"Interval": z.String().Default("5m").TestFunc(isDuration, z.Message("interval must be a duration")),
})

var logSchema = z.Struct(z.Shape{
	"Level": z.String().Default("info").Trim().OneOf([]string{"debug", "info", "warn", "error"}),
})

var ConfigSchema = z.Struct(z.Shape{
	"Server":    serverSchema,
	"Downloads": downloadsSchema,
	"Store":     storeSchema,
	"Stream":    streamSchema,
	"Progress":  progressSchema,
	"Sweeper":   sweeperSchema,
	"Log":       logSchema,
})

// sections are the top-level keys of clipq.json. Missing ones are parsed
// as empty objects so their defaults apply.
var sections = []string{"server", "downloads", "store", "stream", "progress", "sweeper", "log"}

var config *Config

// GetConfig loads the config once per process and exits on error.
func GetConfig() *Config {
	if config == nil {
		dataDir := env.Get().DATA_DIR
		if dataDir == "" {
			dataDir = DefaultDataDir
		}
		loaded, err := Load(dataDir)
		if err != nil {
			log.Fatal("[Clipq] Failed to load config: ", err)
		}
		config = loaded
	}
	return config
}

// Load reads <dataDir>/clipq.json if present and applies defaults.
func Load(dataDir string) (*Config, error) {
	dataDir, err := expandPath(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand data dir: %w", err)
	}
	dataDir = filepath.Clean(dataDir)

	payload := map[string]any{}
	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.TrimSpace(string(data)) != "" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	for _, section := range sections {
		if _, ok := payload[section]; !ok {
			payload[section] = map[string]any{}
		}
	}

	parsed := &Config{}
	if errs := ConfigSchema.Parse(payload, parsed); errs != nil {
		return nil, fmt.Errorf("invalid config:\n%s", z.Issues.Prettify(errs))
	}
	parsed.Version = version.Version()
	parsed.Server.DataDir = dataDir
	if parsed.Downloads.Dir == "" {
		parsed.Downloads.Dir = filepath.Join(dataDir, "downloads")
	}
	return parsed, nil
}

func (c *Config) StorePath() string {
	return filepath.Join(c.Server.DataDir, "tasks", "tasks.db")
}

func (c *Config) CredentialsDir() string {
	return filepath.Join(c.Downloads.Dir, "credentials")
}

func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Duration parses a value already checked by the schema.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func isDuration(valPtr *string, ctx z.Ctx) bool {
	_, err := time.ParseDuration(*valPtr)
	return err == nil
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
