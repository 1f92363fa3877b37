package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/imedina/evidens/internal/model"
)

const defaultHeartbeat = 15 * time.Second

// handleEvents streams progress events for one request as
// server-sent events. Heartbeat comments let the client tell slow
// work from a dead connection. The stream ends with the terminal
// event or the client going away; the pipeline itself keeps running
// either way.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "requestId is required", Code: "BadRequest"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "streaming unsupported", Code: "InternalError"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A finished request has no publisher left. Replay its terminal
	// event from the result registry so a reconnecting client is not
	// left hanging on heartbeats.
	if _, ok := s.coord.Result(requestID); ok {
		w.WriteHeader(http.StatusOK)
		if err := writeEvent(w, model.Done()); err == nil {
			flusher.Flush()
		}
		return
	}

	events, cancel := s.hub.Subscribe(requestID)
	defer cancel()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := s.cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
			if event.Terminal {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event model.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}
