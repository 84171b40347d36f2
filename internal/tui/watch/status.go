package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func renderStatus(st statusMsg, connected bool, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	var state string
	switch {
	case !connected:
		state = theme.Failed.Render("OFFLINE")
	case st.Executing:
		state = theme.Running.Render("RUNNING " + spin)
	case st.Interrupted:
		state = theme.Interrupted.Render("INTERRUPTED")
	default:
		state = theme.Idle.Render("IDLE")
	}

	vehicle := st.VehicleID
	if vehicle == "" {
		vehicle = "?"
	}
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	title := fmt.Sprintf(" VEHICLED %s", theme.Accent.Render(vehicle))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	lines := []string{title + strings.Repeat(" ", pad) + clock + " "}

	execLine := " State: " + state
	if st.CurrentID != "" {
		execLine += "  Execution: " + theme.Accent.Render(st.CurrentID)
	}
	if st.StopRequested {
		execLine += theme.Dim.Render("  (stop requested)")
	}
	lines = append(lines, execLine)

	if hw := st.Hardware; hw != nil {
		battery := fmt.Sprintf("%.2fV", hw.Battery)
		if hw.BatteryLow {
			battery = theme.Failed.Render(battery + " LOW")
		}
		lines = append(lines,
			fmt.Sprintf(" Motors FL/FR/RL/RR: %4d %4d %4d %4d", hw.Motors[0], hw.Motors[1], hw.Motors[2], hw.Motors[3]),
			fmt.Sprintf(" Sonar: %dmm  Line: %s  Battery: %s  Gimbal: pan %d tilt %d",
				hw.DistanceMM, renderLine(hw.LineSensors), battery, hw.GimbalPan, hw.GimbalTilt),
		)
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderLine(sensors [4]bool) string {
	var b strings.Builder
	for _, on := range sensors {
		if on {
			b.WriteString("■")
		} else {
			b.WriteString("□")
		}
	}
	return b.String()
}
