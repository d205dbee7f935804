package schemas

import (
	"strings"

	z "github.com/Oudwins/zog"
)

const FormatMP3 = "mp3"

type TaskCreateRequest struct {
	URL      string `json:"url" zog:"url"`
	FormatID string `json:"format_id,omitempty" zog:"format_id"`
	Filename string `json:"filename,omitempty" zog:"filename"`
	Cookies  string `json:"cookies,omitempty" zog:"cookies"`
}

type TaskCreateResponse struct {
	TaskID string `json:"task_id"`
}

var TaskCreateSchema = z.Struct(z.Shape{
	"URL":      z.String().Required(z.Message("url is required")).Trim().URL(z.Message("url must be a valid URL")),
	"FormatID": z.String().Default("best").Trim().Max(64),
	"Filename": z.String().Optional().Trim().Transform(flattenFilenameTransform).Max(200),
	"Cookies":  z.String().Optional(),
})

// JobSpec is what a worker needs to run one fetch.
type JobSpec struct {
	Source   string
	FormatID string
	Filename string
	Cookies  string
}

func (r TaskCreateRequest) JobSpec() JobSpec {
	return JobSpec{
		Source:   r.URL,
		FormatID: r.FormatID,
		Filename: r.Filename,
		Cookies:  r.Cookies,
	}
}

// FetchRequest is handed to a fetcher. OutputDir is private to the task.
type FetchRequest struct {
	TaskID     string
	Source     string
	FormatID   string
	OutputDir  string
	Filename   string
	CookieFile string
}

func flattenFilenameTransform(valPtr *string, c z.Ctx) error {
	*valPtr = strings.NewReplacer("/", "_", "\\", "_").Replace(*valPtr)
	*valPtr = strings.TrimLeft(*valPtr, ".")
	return nil
}
