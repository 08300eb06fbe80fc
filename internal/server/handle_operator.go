package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qrinfo/hunt/internal/hunt"
	"github.com/qrinfo/hunt/internal/identity"
)

type PhaseRequest struct {
	Phase hunt.Phase `json:"phase"`
}

type TokenResponse struct {
	PlayerID  string    `json:"playerId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

const deviceTokenTTL = 12 * time.Hour

func handleConfigureSession(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg hunt.SessionConfig
		if err := readJSON(r, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cfg.ID = chi.URLParam(r, "sessionID")

		sess, err := engine.ConfigureSession(r.Context(), cfg)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleGetSession(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleSetPhase(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PhaseRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := engine.SetPhase(r.Context(), chi.URLParam(r, "sessionID"), req.Phase)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleListPlayers(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		players, err := engine.GetPlayers(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, players)
	}
}

func handleDeletePlayer(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := engine.DeletePlayer(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "playerID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleFinishPlayer(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := engine.FinishPlayer(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "playerID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleReset(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := engine.Reset(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleResync(logger *slog.Logger, engine *hunt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := engine.Resync(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleIssueToken mints a device identity for kiosks and printed badges
// when signed identities are enabled.
func handleIssueToken(logger *slog.Logger, engine *hunt.Engine, resolver *identity.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !resolver.Signed() {
			writeError(w, http.StatusConflict, "signed identities are disabled")
			return
		}
		if _, err := engine.GetSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
			writeEngineError(w, r, logger, err)
			return
		}

		playerID := uuid.NewString()
		token, err := resolver.Issue(playerID, deviceTokenTTL)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, TokenResponse{
			PlayerID:  playerID,
			Token:     token,
			ExpiresAt: time.Now().UTC().Add(deviceTokenTTL),
		})
	}
}
