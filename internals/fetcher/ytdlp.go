// Package fetcher adapts yt-dlp to the task engine.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/Oudwins/clipq/internals/schemas"
)

const defaultProgressInterval = 250 * time.Millisecond

type YTDLP struct {
	logger           *slog.Logger
	progressInterval time.Duration
}

func NewYTDLP(logger *slog.Logger) *YTDLP {
	return &YTDLP{logger: logger, progressInterval: defaultProgressInterval}
}

// Install makes sure a yt-dlp binary is available, downloading one if needed.
func (y *YTDLP) Install(ctx context.Context) error {
	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}
	y.logger.Info("yt-dlp ready", "path", resolved.Executable)
	return nil
}

func (y *YTDLP) Fetch(ctx context.Context, req schemas.FetchRequest, progress func(schemas.ProgressEvent)) (string, error) {
	plan := PlanFetch(req)

	cmd := ytdlp.New().
		NoPlaylist().
		ForceOverwrites().
		Output(plan.Template).
		Format(plan.Format)
	if plan.ExtractAudio {
		cmd = cmd.ExtractAudio().AudioFormat(audioCodec).AudioQuality(audioQuality)
	}
	if req.CookieFile != "" {
		cmd = cmd.Cookies(req.CookieFile)
	}
	cmd.ProgressFunc(y.progressInterval, func(update ytdlp.ProgressUpdate) {
		if event, ok := progressEvent(update, time.Now()); ok {
			progress(event)
		}
	})

	y.logger.Debug("Running yt-dlp", "task_id", req.TaskID, "format", plan.Format, "template", plan.Template)
	result, err := cmd.Run(ctx, req.Source)
	if err != nil {
		return "", err
	}

	if plan.Artifact != "" {
		return plan.Artifact, nil
	}
	if name := extractedName(result, req.OutputDir); name != "" {
		return name, nil
	}
	return findArtifact(req.OutputDir, plan.Base)
}

func extractedName(result *ytdlp.Result, outputDir string) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		return ""
	}
	name := filepath.Base(*info[0].Filename)
	if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
		return ""
	}
	return name
}

// findArtifact looks for the finished file yt-dlp wrote for base.
func findArtifact(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+".") || isPartial(name) {
			continue
		}
		return name, nil
	}
	return "", errors.New("yt-dlp finished without writing an output file")
}

func isPartial(name string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
