package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/qrinfo/hunt/internal/config"
	"github.com/qrinfo/hunt/internal/database"
	"github.com/qrinfo/hunt/internal/handler/feed"
	"github.com/qrinfo/hunt/internal/handler/health"
	"github.com/qrinfo/hunt/internal/hunt"
	"github.com/qrinfo/hunt/internal/identity"
	"github.com/qrinfo/hunt/internal/live"
	"github.com/qrinfo/hunt/internal/migrations"
	"github.com/qrinfo/hunt/internal/server"
	"github.com/qrinfo/hunt/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	version, err := migrations.Run(ctx, db)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath, "schema_version", version)

	checks := map[string]health.Checker{
		"sqlite": dbChecker{db},
	}

	// --- Live channel ---
	var channel live.Channel
	switch cfg.LiveBackend {
	case "redis":
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		channel = live.NewRedis(rdb)
		checks["redis"] = redisChecker{rdb}
		logger.Info("connected to redis")
	default:
		channel = live.NewMemory()
		checks["live"] = health.CheckerFunc(channel.Ping)
		logger.Warn("using in-process live channel")
	}

	engine := hunt.New(store.NewDocStore(db), channel, logger,
		hunt.WithLiveTimeout(cfg.LiveTimeout),
	)

	if cfg.SeedDemo {
		if err := server.SeedDemo(ctx, logger, engine); err != nil {
			return fmt.Errorf("seeding demo sessions: %w", err)
		}
	}

	resolver := identity.NewResolver(cfg.IdentitySecret)
	if !resolver.Signed() {
		logger.Warn("player identities are unsigned", "header", identity.Header)
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Engine:          engine,
		Feed:            channel,
		Identity:        resolver,
		OperatorKeyHash: cfg.OperatorKeyHash,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
		r.Mount("/ws", feed.NewHandler(logger, engine, channel).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		advanceCountdowns(gctx, logger, engine, cfg.DueInterval)
		return nil
	})

	return g.Wait()
}

// advanceCountdowns starts sessions whose countdown has elapsed until ctx
// is done.
func advanceCountdowns(ctx context.Context, logger *slog.Logger, engine *hunt.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.AdvanceAllDue(ctx); err != nil && ctx.Err() == nil {
				logger.Error("advancing countdowns", "error", err)
			}
		}
	}
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
