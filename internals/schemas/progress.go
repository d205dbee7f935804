package schemas

type ProgressKind string

const (
	ProgressDownloading   ProgressKind = "downloading"
	ProgressStageComplete ProgressKind = "stageComplete"
	ProgressError         ProgressKind = "error"
)

// ProgressEvent is reported by a fetcher while it runs. Percent is nil when
// the total size is unknown.
type ProgressEvent struct {
	Kind    ProgressKind
	Message string
	Percent *float64
}

func Downloading(message string, percent float64) ProgressEvent {
	return ProgressEvent{Kind: ProgressDownloading, Message: message, Percent: &percent}
}

func StageComplete(message string) ProgressEvent {
	return ProgressEvent{Kind: ProgressStageComplete, Message: message}
}

func ProgressFailure(message string) ProgressEvent {
	return ProgressEvent{Kind: ProgressError, Message: message}
}
