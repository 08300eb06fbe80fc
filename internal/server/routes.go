package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/qrinfo/hunt/internal/hunt"
	"github.com/qrinfo/hunt/internal/identity"
	"github.com/qrinfo/hunt/internal/live"
)

// Deps are the collaborators the HTTP API is built on.
type Deps struct {
	Engine          *hunt.Engine
	Feed            live.Feed
	Identity        *identity.Resolver
	OperatorKeyHash string
}

func addRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	engine := d.Engine

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Hunt API", "/openapi.json", "/docs"))

	// Public session routes: displays and devices before registration.
	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", handleSessionInfo(logger, engine))
		r.Get("/leaderboard", handleLeaderboard(logger, engine))
		r.Get("/stats", handleStats(logger, engine))
		r.Get("/events", handleEvents(logger, engine, d.Feed))

		// Player routes: identity resolved by playerMiddleware.
		r.Group(func(r chi.Router) {
			r.Use(playerMiddleware(d.Identity))
			r.Post("/register", handleRegister(logger, engine))
			r.Post("/start", handleStart(logger, engine))
			r.Post("/scan", handleScan(logger, engine))
			r.Get("/me", handleMe(logger, engine))
		})
	})

	// Operator routes, keyed by X-Operator-Key.
	r.Route("/api/operator/sessions/{sessionID}", func(r chi.Router) {
		r.Use(operatorAuthMiddleware(d.OperatorKeyHash))
		r.Put("/", handleConfigureSession(logger, engine))
		r.Get("/", handleGetSession(logger, engine))
		r.Post("/phase", handleSetPhase(logger, engine))
		r.Get("/players", handleListPlayers(logger, engine))
		r.Delete("/players/{playerID}", handleDeletePlayer(logger, engine))
		r.Post("/players/{playerID}/finish", handleFinishPlayer(logger, engine))
		r.Post("/reset", handleReset(logger, engine))
		r.Post("/resync", handleResync(logger, engine))
		r.Post("/tokens", handleIssueToken(logger, engine, d.Identity))
	})
}
