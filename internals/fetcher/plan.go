package fetcher

import (
	"path/filepath"
	"strings"

	"github.com/Oudwins/clipq/internals/schemas"
)

const (
	audioFormat  = "bestaudio/best"
	audioCodec   = "mp3"
	audioQuality = "192"
)

// Plan is the yt-dlp invocation derived from a fetch request.
type Plan struct {
	Template     string
	Format       string
	ExtractAudio bool
	// Base is the output name without extension.
	Base string
	// Artifact is the final file name when it is known up front.
	Artifact string
}

func PlanFetch(req schemas.FetchRequest) Plan {
	base := baseName(req.Filename)
	if base == "" {
		base = "video_" + req.TaskID
	}
	plan := Plan{
		Template: filepath.Join(req.OutputDir, base+".%(ext)s"),
		Format:   req.FormatID,
		Base:     base,
	}
	if strings.EqualFold(req.FormatID, schemas.FormatMP3) {
		plan.Format = audioFormat
		plan.ExtractAudio = true
		plan.Artifact = base + "." + audioCodec
	}
	if plan.Format == "" {
		plan.Format = "best"
	}
	return plan
}

func baseName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimLeft(name, ".")
}
