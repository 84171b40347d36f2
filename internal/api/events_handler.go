package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/blockcar/vehicled/internal/events"
)

const keepAliveInterval = 15 * time.Second

// handleEvents handles GET /events as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.Since(last) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		last = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= last {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			last = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
