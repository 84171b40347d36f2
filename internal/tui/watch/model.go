package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/blockcar/vehicled/internal/events"
)

const pollInterval = time.Second

// Model is the console's bubbletea model.
type Model struct {
	client *Client
	keys   KeyMap
	theme  Theme

	width  int
	height int

	status    statusMsg
	connected bool
	eventLog  []events.Event
	output    []string
	outputID  string
	spinner   spinner.Model
	notice    string
	lastError string

	hubEvents chan events.Event
}

// New creates a console for the daemon behind client.
func New(client *Client) *Model {
	theme := NewDefaultTheme()
	return &Model{
		client:    client,
		keys:      DefaultKeyMap,
		theme:     theme,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Running)),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchStatus,
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Stop):
			m.notice = "stopping script..."
			return m, m.client.post("stop", "/api/stop")
		case key.Matches(msg, m.keys.EmergencyStop):
			m.notice = "EMERGENCY STOP sent"
			return m, m.client.post("emergency stop", "/api/emergency-stop")
		case key.Matches(msg, m.keys.Refresh):
			return m, m.client.fetchStatus
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusMsg:
		m.status = msg
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.client.fetchStatus

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case actionMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.notice = msg.action + " acknowledged"
		}
		return m, m.client.fetchStatus

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.hubEvents)

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return pollMsg{} })
	}

	return m, nil
}

// applyEvent folds one daemon event into the view state.
func (m *Model) applyEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.connected = true

	id, line := payloadFields(e)
	switch e.Type {
	case events.ExecutionStarted:
		m.output = nil
		m.outputID = id
		m.status.Executing = true
		m.status.CurrentID = id
	case events.ScriptOutput:
		if id != m.outputID {
			m.output = nil
			m.outputID = id
		}
		m.output = append(m.output, line)
		if len(m.output) > maxOutputLog {
			m.output = m.output[len(m.output)-maxOutputLog:]
		}
	case events.ExecutionFinished, events.ExecutionFailed:
		m.status.Executing = false
		m.status.CurrentID = ""
	case events.ExecutionTimedOut, events.ExecutionStopped:
		m.status.Executing = false
		m.status.CurrentID = ""
		m.status.Interrupted = true
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to vehicle..."
	}

	parts := []string{
		renderStatus(m.status, m.connected, m.spinner.View(), m.theme, m.width),
		renderOutput(m.output, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Accent.Render(" "+m.notice))
	}
	parts = append(parts, m.theme.Help.Render(m.keys.helpLine()))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Run starts the console and blocks until the operator quits.
func Run(client *Client) error {
	_, err := tea.NewProgram(New(client)).Run()
	return err
}
