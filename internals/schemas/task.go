package schemas

import (
	"fmt"
	"slices"
	"time"
)

type TaskStatus string

const (
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusError    TaskStatus = "error"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusError
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusRunning, TaskStatusComplete, TaskStatusError:
		return true
	}
	return false
}

// Task is the persisted state of one asynchronous fetch.
type Task struct {
	ID         string
	Status     TaskStatus
	Log        []string
	Result     string
	CreatedAt  time.Time
	FinishedAt time.Time
	// Claimed is set while an artifact handoff is in flight.
	Claimed bool
}

func NewTask(id string, firstLine string, now time.Time) Task {
	return Task{
		ID:        id,
		Status:    TaskStatusRunning,
		Log:       []string{firstLine},
		CreatedAt: now.UTC(),
	}
}

// Clone returns a copy that shares no memory with t.
func (t Task) Clone() Task {
	out := t
	out.Log = slices.Clone(t.Log)
	return out
}

func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTransition)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, t.Status)
	}
	if (t.Result != "") != (t.Status == TaskStatusComplete) {
		return fmt.Errorf("%w: result must be set iff status is complete (status=%s)", ErrInvalidTransition, t.Status)
	}
	if t.Claimed && !t.Status.IsTerminal() {
		return fmt.Errorf("%w: only finished tasks can be claimed", ErrInvalidTransition)
	}
	return nil
}

// CheckTransition reports whether next is a legal successor of prev.
func CheckTransition(prev, next Task) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if next.ID != prev.ID {
		return fmt.Errorf("%w: id changed", ErrInvalidTransition)
	}
	if !next.CreatedAt.Equal(prev.CreatedAt) {
		return fmt.Errorf("%w: created_at changed", ErrInvalidTransition)
	}
	if len(next.Log) < len(prev.Log) || !slices.Equal(prev.Log, next.Log[:len(prev.Log)]) {
		return fmt.Errorf("%w: log is append-only", ErrInvalidTransition)
	}
	if prev.Status.IsTerminal() {
		if next.Status != prev.Status || next.Result != prev.Result || !next.FinishedAt.Equal(prev.FinishedAt) {
			return fmt.Errorf("%w: task %s is already %s", ErrInvalidTransition, prev.ID, prev.Status)
		}
		if len(next.Log) != len(prev.Log) {
			return fmt.Errorf("%w: log of finished task %s is sealed", ErrInvalidTransition, prev.ID)
		}
	}
	return nil
}

type TaskResponse struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	Log        []string   `json:"log"`
	Result     string     `json:"result,omitempty"`
	CreatedAt  string     `json:"created_at"`
	FinishedAt string     `json:"finished_at,omitempty"`
}

func (t Task) Response() TaskResponse {
	resp := TaskResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		Log:       slices.Clone(t.Log),
		Result:    t.Result,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Log == nil {
		resp.Log = []string{}
	}
	if !t.FinishedAt.IsZero() {
		resp.FinishedAt = t.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
