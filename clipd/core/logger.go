package core

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/Oudwins/clipq/internals/assert"
	"github.com/Oudwins/clipq/internals/conf"
)

// InitLogger writes colored logs to stdout and plain logs to
// <data_dir>/log.txt, and installs the result as the slog default.
func InitLogger(config *conf.Config) (*slog.Logger, *os.File) {
	logPath := filepath.Join(config.Server.DataDir, "log.txt")
	assert.AssertNil(os.MkdirAll(filepath.Dir(logPath), 0o755), "[CORE] Failed to initialize log directory")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	assert.AssertNil(err, "[CORE] Failed to open log file")

	logger := NewLogger(os.Stdout, logFile, config.LogLevel())
	slog.SetDefault(logger)
	return logger, logFile
}

func NewLogger(console *os.File, file io.Writer, level slog.Level) *slog.Logger {
	noColor := !isatty.IsTerminal(console.Fd()) && !isatty.IsCygwinTerminal(console.Fd())
	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:   level,
		NoColor: noColor,
	})
	if file == nil {
		return slog.New(consoleHandler)
	}
	fileHandler := tint.NewHandler(file, &tint.Options{
		Level:     level,
		NoColor:   true,
		AddSource: true,
	})
	return slog.New(fanout{consoleHandler, fileHandler})
}
