package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/blockcar/vehicled/internal/events"
)

const (
	maxEventLog   = 50
	maxOutputLog  = 200
	visibleEvents = 10
	visibleOutput = 8
)

func renderOutput(lines []string, theme Theme, width int) string {
	body := theme.Dim.Render("  No output yet")
	if len(lines) > 0 {
		start := 0
		if len(lines) > visibleOutput {
			start = len(lines) - visibleOutput
		}
		body = lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines[start:], "\n"))
	}
	return theme.Border.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("SCRIPT OUTPUT"), body),
	)
}

func renderEventStream(log []events.Event, theme Theme, width int) string {
	body := theme.Dim.Render("  Waiting for events...")
	if len(log) > 0 {
		var lines []string
		for i, e := range log {
			if i >= visibleEvents {
				break
			}
			lines = append(lines, formatEvent(e, theme))
		}
		body = lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	}
	return theme.Border.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENTS"), body),
	)
}

func formatEvent(e events.Event, theme Theme) string {
	style := theme.Dim
	switch e.Type {
	case events.ExecutionFinished:
		style = theme.Idle
	case events.ExecutionFailed, events.ExecutionTimedOut, events.EmergencyStop:
		style = theme.Failed
	case events.ExecutionStopped:
		style = theme.Interrupted
	case events.ExecutionStarted:
		style = theme.Running
	}
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-24s", e.Type)),
		describe(e),
	)
}

// describe extracts a one-line summary from an event payload.
func describe(e events.Event) string {
	var data map[string]any
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["execution_id"].(string); ok && id != "" {
		parts = append(parts, "["+shortID(id)+"]")
	}
	if line, ok := data["line"].(string); ok {
		parts = append(parts, fmt.Sprintf("%q", line))
	}
	if kind, ok := data["kind"].(string); ok {
		parts = append(parts, kind)
	}
	if msg, ok := data["error"].(string); ok {
		parts = append(parts, msg)
	}
	if ms, ok := data["duration_ms"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%.0fms", ms))
	}
	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

// shortID keeps the last eight characters of long ids.
func shortID(id string) string {
	if len(id) > 13 {
		return "…" + id[len(id)-8:]
	}
	return id
}

func payloadFields(e events.Event) (id, line string) {
	var data struct {
		ExecutionID string `json:"execution_id"`
		Line        string `json:"line"`
	}
	_ = json.Unmarshal(e.Data, &data)
	return data.ExecutionID, data.Line
}
