package fetcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lrstanley/go-ytdlp"

	"github.com/Oudwins/clipq/internals/schemas"
)

func progressEvent(update ytdlp.ProgressUpdate, now time.Time) (schemas.ProgressEvent, bool) {
	switch update.Status {
	case ytdlp.ProgressStatusDownloading:
		return downloadingEvent(update, now), true
	case ytdlp.ProgressStatusFinished:
		return schemas.StageComplete("finished " + updateName(update)), true
	case ytdlp.ProgressStatusPostProcessing:
		return schemas.StageComplete("post-processing " + updateName(update)), true
	case ytdlp.ProgressStatusError:
		return schemas.ProgressFailure("yt-dlp reported an error for " + updateName(update)), true
	default:
		return schemas.ProgressEvent{}, false
	}
}

func downloadingEvent(update ytdlp.ProgressUpdate, now time.Time) schemas.ProgressEvent {
	downloaded := uint64(max(update.DownloadedBytes, 0))
	if update.TotalBytes <= 0 {
		return schemas.ProgressEvent{
			Kind:    schemas.ProgressDownloading,
			Message: humanize.IBytes(downloaded) + " downloaded",
		}
	}

	percent := float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
	message := fmt.Sprintf("%.1f%% of %s", percent, humanize.IBytes(uint64(update.TotalBytes)))
	if !update.Started.IsZero() {
		if elapsed := now.Sub(update.Started).Seconds(); elapsed > 0 {
			message += " at " + humanize.IBytes(uint64(float64(downloaded)/elapsed)) + "/s"
		}
	}
	if eta := update.ETA(); eta > 0 {
		message += " ETA " + eta.Round(time.Second).String()
	}
	return schemas.Downloading(message, percent)
}

func updateName(update ytdlp.ProgressUpdate) string {
	if update.Filename != "" {
		return filepath.Base(update.Filename)
	}
	if update.Info != nil {
		if update.Info.Filename != nil && *update.Info.Filename != "" {
			return filepath.Base(*update.Info.Filename)
		}
		if update.Info.Title != nil && *update.Info.Title != "" {
			return *update.Info.Title
		}
	}
	return "stream"
}
