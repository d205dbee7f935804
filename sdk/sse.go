package sdk

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxEventLine = 1 << 20

type event struct {
	Type string
	Data string
}

type eventDecoder struct {
	scanner *bufio.Scanner
}

func newEventDecoder(reader io.Reader) *eventDecoder {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &eventDecoder{scanner: scanner}
}

// Decode returns the next event, or io.EOF once the stream ends. Data lines
// are joined with newlines.
func (d *eventDecoder) Decode() (*event, error) {
	ev := &event{}
	hasData := false

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if hasData || ev.Type != "" {
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				ev.Data += "\n"
			}
			ev.Data += value
			hasData = true
		}
	}

	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	if hasData || ev.Type != "" {
		return ev, nil
	}
	return nil, io.EOF
}
