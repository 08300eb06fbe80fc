package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qrinfo/hunt/internal/hunt"
	"github.com/qrinfo/hunt/internal/live"
)

// handleEvents streams the session's live feed as Server-Sent Events. Each
// connection first receives the current projection, then every change.
func handleEvents(logger *slog.Logger, engine *hunt.Engine, feed live.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if _, err := engine.GetSession(r.Context(), sessionID); err != nil {
			writeEngineError(w, r, logger, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ch, unsubscribe, err := feed.Subscribe(r.Context(), sessionID)
		if err != nil {
			logger.Warn("feed subscribe failed", "session_id", sessionID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "live feed unavailable")
			return
		}
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		snapshot, err := feed.Snapshot(r.Context(), sessionID)
		if err != nil {
			logger.Warn("feed snapshot failed", "session_id", sessionID, "error", err)
		}
		for _, msg := range snapshot {
			data, _ := json.Marshal(msg)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
		}
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				var msg live.Message
				if err := json.Unmarshal(data, &msg); err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
