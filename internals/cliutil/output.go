package cliutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Oudwins/clipq/internals/schemas"
)

var (
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleSuccess = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleRunning = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleStage   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func StatusLabel(status schemas.TaskStatus) string {
	switch status {
	case schemas.TaskStatusComplete:
		return styleSuccess.Render(string(status))
	case schemas.TaskStatusError:
		return styleError.Bold(true).Render(string(status))
	default:
		return styleRunning.Render(string(status))
	}
}

// LogLine colors a task log line by its prefix.
func LogLine(line string) string {
	switch {
	case strings.HasPrefix(line, "[error]"):
		return styleError.Render(line)
	case strings.HasPrefix(line, "[stage]"):
		return styleStage.Render(line)
	case strings.HasPrefix(line, "[download]"), strings.HasPrefix(line, "[queued]"):
		return styleDim.Render(line)
	default:
		return line
	}
}

func PrintTaskStarted(w io.Writer, response *schemas.TaskCreateResponse) {
	fmt.Fprintf(w, "%s %s\n", styleDim.Render("task:"), styleBold.Render(response.TaskID))
}

func PrintTask(w io.Writer, task *schemas.TaskResponse, withLog bool) {
	fmt.Fprintf(w, "%s %s\n", styleDim.Render("task:  "), styleBold.Render(task.TaskID))
	fmt.Fprintf(w, "%s %s\n", styleDim.Render("status:"), StatusLabel(task.Status))
	if task.Result != "" {
		fmt.Fprintf(w, "%s %s\n", styleDim.Render("result:"), task.Result)
	}
	fmt.Fprintf(w, "%s %s\n", styleDim.Render("since: "), task.CreatedAt)
	if task.FinishedAt != "" {
		fmt.Fprintf(w, "%s %s\n", styleDim.Render("ended: "), task.FinishedAt)
	}
	if !withLog {
		return
	}
	for _, line := range task.Log {
		fmt.Fprintln(w, "  "+LogLine(line))
	}
}

func PrintDone(w io.Writer, done *schemas.StreamDone) {
	switch done.Outcome {
	case schemas.OutcomeComplete:
		fmt.Fprintf(w, "%s %s\n", styleSuccess.Render("done:"), done.Result)
	case schemas.OutcomeNotFound:
		fmt.Fprintln(w, styleError.Render("task not found"))
	default:
		fmt.Fprintln(w, styleError.Bold(true).Render("task failed"))
	}
}

func PrintSaved(w io.Writer, path string, size int64) {
	fmt.Fprintf(w, "%s %s (%s)\n", styleSuccess.Render("saved:"), FileLink(path), humanize.IBytes(uint64(size)))
}
