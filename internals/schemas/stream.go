package schemas

type StreamEventKind string

const (
	StreamEventLog  StreamEventKind = "log"
	StreamEventDone StreamEventKind = "done"
)

type StreamOutcome string

const (
	OutcomeComplete StreamOutcome = "complete"
	OutcomeError    StreamOutcome = "error"
	OutcomeNotFound StreamOutcome = "not_found"
)

// StreamEvent is one frame of a task stream. Line is set for log events,
// Done for the single terminal event.
type StreamEvent struct {
	Kind StreamEventKind
	Line string
	Done *StreamDone
}

type StreamDone struct {
	Outcome StreamOutcome `json:"outcome"`
	Result  string        `json:"result,omitempty"`
}

func LogEvent(line string) StreamEvent {
	return StreamEvent{Kind: StreamEventLog, Line: line}
}

func DoneEvent(outcome StreamOutcome, result string) StreamEvent {
	return StreamEvent{Kind: StreamEventDone, Done: &StreamDone{Outcome: outcome, Result: result}}
}
