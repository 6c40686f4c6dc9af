package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams workspace changes as server-sent events. Each event
// is a JSON {type, path} object.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented, "change events are disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeStreamUnsupported, "streaming unsupported")
		return
	}

	id, events, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	s.logger.Debug("event subscriber connected", "subscriber", id)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	var seq int
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event subscriber gone", "subscriber", id)
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			seq++
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", seq, data)
			flusher.Flush()
		}
	}
}
