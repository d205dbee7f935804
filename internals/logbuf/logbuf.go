// Package logbuf collects the log entries of one request so they can be
// written as a single record when the request ends.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a buffer; long-lived requests such as task
// streams keep only their newest entries.
const DefaultMaxEntries = 64

type Entry struct {
	Level   slog.Level
	Message string
	At      time.Time
	Seq     uint64
	Attrs   []slog.Attr
}

type Logger struct {
	mu     sync.Mutex
	parent *Logger
	attrs  []slog.Attr
	buffer *buffer
}

type buffer struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	seq     uint64
	dropped int
}

func New(attrs ...slog.Attr) *Logger {
	return &Logger{
		attrs:  append([]slog.Attr(nil), attrs...),
		buffer: &buffer{max: DefaultMaxEntries},
	}
}

// With returns a child that shares the parent's buffer and adds attrs to
// every flush.
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	return &Logger{
		parent: l,
		attrs:  append([]slog.Attr(nil), attrs...),
		buffer: l.buffer,
	}
}

// Fork returns a child with its own empty buffer. Use it to start a new
// unit of work, such as one request, under shared attrs.
func (l *Logger) Fork(attrs ...slog.Attr) *Logger {
	max := DefaultMaxEntries
	if l.buffer != nil {
		max = l.buffer.max
	}
	return &Logger{
		parent: l,
		attrs:  append([]slog.Attr(nil), attrs...),
		buffer: &buffer{max: max},
	}
}

func (l *Logger) Add(attrs ...slog.Attr) {
	if len(attrs) == 0 {
		return
	}
	l.mu.Lock()
	l.attrs = append(l.attrs, attrs...)
	l.mu.Unlock()
}

func (l *Logger) Debug(message string, attrs ...slog.Attr) {
	l.buffer.append(slog.LevelDebug, message, attrs)
}

func (l *Logger) Info(message string, attrs ...slog.Attr) {
	l.buffer.append(slog.LevelInfo, message, attrs)
}

func (l *Logger) Warn(message string, attrs ...slog.Attr) {
	l.buffer.append(slog.LevelWarn, message, attrs)
}

func (l *Logger) Error(message string, attrs ...slog.Attr) {
	l.buffer.append(slog.LevelError, message, attrs)
}

// Flush drains the buffer into one group attr holding every inherited attr
// and the buffered entries.
func (l *Logger) Flush() slog.Attr {
	entries, dropped := l.buffer.drain()

	attrs := l.collectAttrs()
	if dropped > 0 {
		attrs = append(attrs, slog.Int("dropped_entries", dropped))
	}
	attrs = append(attrs, slog.Any("entries", entriesToPayload(entries)))

	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return slog.Group("", args...)
}

// MaxLevel is the most severe level buffered since the last flush.
func (l *Logger) MaxLevel() slog.Level {
	l.buffer.mu.Lock()
	defer l.buffer.mu.Unlock()
	level := slog.LevelDebug
	for _, entry := range l.buffer.entries {
		if entry.Level > level {
			level = entry.Level
		}
	}
	return level
}

func (b *buffer) append(level slog.Level, message string, attrs []slog.Attr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	entry := Entry{
		Level:   level,
		Message: message,
		At:      time.Now(),
		Seq:     b.seq,
		Attrs:   append([]slog.Attr(nil), attrs...),
	}
	if b.max > 0 && len(b.entries) >= b.max {
		b.entries = append(b.entries[:0], b.entries[1:]...)
		b.dropped++
	}
	b.entries = append(b.entries, entry)
}

func (b *buffer) drain() ([]Entry, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.entries
	dropped := b.dropped
	b.entries = nil
	b.dropped = 0
	b.seq = 0
	return entries, dropped
}

func (l *Logger) collectAttrs() []slog.Attr {
	var chain []*Logger
	for current := l; current != nil; current = current.parent {
		chain = append(chain, current)
	}
	var attrs []slog.Attr
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.Lock()
		attrs = append(attrs, chain[i].attrs...)
		chain[i].mu.Unlock()
	}
	return attrs
}

func entriesToPayload(entries []Entry) []map[string]any {
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"message": entry.Message,
			"level":   entry.Level.String(),
			"at":      entry.At,
			"seq":     entry.Seq,
		}
		for _, attr := range entry.Attrs {
			if _, taken := item[attr.Key]; taken || attr.Key == "" {
				continue
			}
			item[attr.Key] = attr.Value.Resolve().Any()
		}
		payload = append(payload, item)
	}
	return payload
}
