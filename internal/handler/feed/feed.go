// Package feed serves a session's live projection over WebSocket for
// leaderboard screens and operator consoles.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/qrinfo/hunt/internal/hunt"
	"github.com/qrinfo/hunt/internal/live"
)

// SessionGetter confirms a session exists before a stream is opened.
type SessionGetter interface {
	GetSession(ctx context.Context, sessionID string) (hunt.Session, error)
}

type Handler struct {
	sessions SessionGetter
	feed     live.Feed
	logger   *slog.Logger
	maxAge   time.Duration
}

func NewHandler(logger *slog.Logger, sessions SessionGetter, feed live.Feed) *Handler {
	return &Handler{sessions: sessions, feed: feed, logger: logger, maxAge: time.Hour}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sessions/{sessionID}", h.stream)
	return r
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hunt.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(r.Context(), h.maxAge)
	defer cancel()
	// Displays only listen; CloseRead answers pings and ends ctx on close.
	ctx = conn.CloseRead(ctx)

	ch, unsubscribe, err := h.feed.Subscribe(ctx, sessionID)
	if err != nil {
		h.logger.Warn("feed subscribe failed", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusTryAgainLater, "live feed unavailable")
		return
	}
	defer unsubscribe()

	snapshot, err := h.feed.Snapshot(ctx, sessionID)
	if err != nil {
		h.logger.Warn("feed snapshot failed", "session_id", sessionID, "error", err)
	}
	for _, msg := range snapshot {
		data, _ := json.Marshal(msg)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
