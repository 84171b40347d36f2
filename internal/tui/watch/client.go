package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/blockcar/vehicled/internal/events"
)

// Client talks to a running daemon's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

// NewClient returns a client for the daemon at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 3 * time.Second},
		stream:  &http.Client{},
	}
}

// statusMsg mirrors the daemon's /api/status response.
type statusMsg struct {
	VehicleID     string        `json:"vehicle_id"`
	Executing     bool          `json:"executing"`
	CurrentID     string        `json:"current_execution_id"`
	Interrupted   bool          `json:"interrupted"`
	StopRequested bool          `json:"stop_requested"`
	Hardware      *hardwareView `json:"hardware"`
}

type hardwareView struct {
	DistanceMM  int     `json:"distance_mm"`
	LineSensors [4]bool `json:"line_sensors"`
	Battery     float64 `json:"battery_voltage"`
	BatteryLow  bool    `json:"battery_low"`
	Motors      [4]int  `json:"motor_speeds"`
	GimbalPan   int     `json:"gimbal_pan"`
	GimbalTilt  int     `json:"gimbal_tilt"`
}

type eventMsg events.Event

type actionMsg struct {
	action string
	err    error
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type sseDisconnectedMsg struct{}

type reconnectMsg struct{}

type pollMsg struct{}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// fetchStatus queries /api/status.
func (c *Client) fetchStatus() tea.Msg {
	req, err := c.newRequest(context.Background(), http.MethodGet, "/api/status")
	if err != nil {
		return errMsg{err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errMsg{fmt.Errorf("status: HTTP %d", resp.StatusCode)}
	}

	var st statusMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return errMsg{err}
	}
	return st
}

// post returns a command that calls one of the stop endpoints.
func (c *Client) post(action, path string) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest(context.Background(), http.MethodPost, path)
		if err != nil {
			return actionMsg{action: action, err: err}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return actionMsg{action: action, err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			var body struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body.Error == "" {
				body.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
			}
			return actionMsg{action: action, err: fmt.Errorf("%s", body.Error)}
		}
		return actionMsg{action: action}
	}
}

// subscribe reads the SSE stream into ch until the connection drops.
func (c *Client) subscribe(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest(context.Background(), http.MethodGet, "/events")
		if err != nil {
			return errMsg{err}
		}
		resp, err := c.stream.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg{fmt.Errorf("events: HTTP %d", resp.StatusCode)}
		}

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses server-sent events into ch until the scanner is exhausted.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var ev events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Data != nil {
				ev.At = time.Now()
				ch <- ev
			}
			ev = events.Event{}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				ev.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			ev.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			ev.Data = json.RawMessage(line[6:])
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
