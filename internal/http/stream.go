package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// streamHeartbeat is how often an idle stream sends a comment line so proxies keep it open.
var streamHeartbeat = 15 * time.Second

// prepareSSE sets the event-stream headers and returns the flusher, nil if unsupported.
func prepareSSE(w http.ResponseWriter) http.Flusher {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return flusher
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, id uint64, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// GetWeatherStream handles GET /weather/stream: one "state" event per controller state
// change, starting with the current state. Ends when the client leaves, the session closes
// or the server shuts down.
func (h *Handler) GetWeatherStream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	flusher := prepareSSE(w)
	if flusher == nil {
		writeError(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming unsupported")
		return
	}
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	states := s.Controller().Subscribe(r.Context())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case state, ok := <-states:
			if !ok {
				_ = writeEvent(w, flusher, "closed", 0, map[string]bool{"closed": true})
				return
			}
			if err := writeEvent(w, flusher, "state", state.Generation, newWeatherView(state, "session")); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-h.streams:
			_ = writeEvent(w, flusher, "closed", 0, map[string]bool{"closed": true})
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
