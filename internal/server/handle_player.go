package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qrinfo/hunt/internal/hunt"
)

type RegisterRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	TeamID string `json:"teamId,omitempty"`
}

type ScanRequest struct {
	Target string `json:"target"`
}

func handleRegister(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, err := engine.Register(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r), hunt.Registration{
			Name:   req.Name,
			Avatar: req.Avatar,
			TeamID: req.TeamID,
		})
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleStart(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := engine.Start(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleScan(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := engine.SubmitScan(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r), req.Target)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleMe(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := engine.GetPlayer(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// SessionInfo is the public, device-facing view of a session.
type SessionInfo struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Mode               hunt.Mode   `json:"mode"`
	Phase              hunt.Phase  `json:"phase"`
	Teams              []hunt.Team `json:"teams"`
	TargetCount        int         `json:"targetCount"`
	CountdownSeconds   int         `json:"countdownSeconds"`
	CountdownStartedAt *time.Time  `json:"countdownStartedAt,omitempty"`
	StartedAt          *time.Time  `json:"startedAt,omitempty"`
}

func handleSessionInfo(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		teams := sess.Teams
		if teams == nil {
			teams = []hunt.Team{}
		}
		writeJSON(w, http.StatusOK, SessionInfo{
			ID:                 sess.ID,
			Name:               sess.Name,
			Mode:               sess.Mode,
			Phase:              sess.Phase,
			Teams:              teams,
			TargetCount:        sess.TargetCount(""),
			CountdownSeconds:   sess.CountdownSeconds,
			CountdownStartedAt: sess.CountdownStartedAt,
			StartedAt:          sess.StartedAt,
		})
	}
}

func handleLeaderboard(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := engine.GetLeaderboard(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleStats(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := engine.GetStats(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
