package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qrinfo/hunt/internal/hunt"
)

// DemoSessions are the sessions SeedDemo creates: one code hunt and one
// station race.
func DemoSessions() []hunt.SessionConfig {
	hunt1 := hunt.SessionConfig{
		ID:               "demo-hunt",
		Name:             "Museum Code Hunt",
		Mode:             hunt.ModeTypeScored,
		CountdownSeconds: 10,
		Rules: hunt.Rules{
			AssignTypes:        true,
			MaxDurationSeconds: 1800,
		},
	}
	for i, typ := range []string{"red", "blue", "green"} {
		for n := 1; n <= 4; n++ {
			id := fmt.Sprintf("%s-%d", typ, n)
			hunt1.Targets = append(hunt1.Targets, hunt.Target{
				ID:       id,
				ShortID:  fmt.Sprintf("%c%d", 'A'+i, n),
				Category: typ,
				Points:   10 * n,
				Active:   true,
			})
		}
	}

	race := hunt.SessionConfig{
		ID:   "demo-race",
		Name: "Campus Station Race",
		Mode: hunt.ModeSequential,
		Teams: []hunt.Team{
			{ID: "falcons", Name: "Falcons", Color: "#e4572e"},
			{ID: "otters", Name: "Otters", Color: "#29335c"},
		},
		Rules: hunt.Rules{
			PointsPerStation:  100,
			AllowOutOfOrder:   true,
			OutOfOrderMessage: "Nice find! Keep following the route for full credit.",
		},
	}
	for n := 1; n <= 5; n++ {
		race.Targets = append(race.Targets, hunt.Target{
			ID:      fmt.Sprintf("station-%d", n),
			ShortID: fmt.Sprintf("S%d", n),
			Order:   n,
			Active:  true,
		})
	}

	return []hunt.SessionConfig{hunt1, race}
}

// SeedDemo creates the demo sessions that do not exist yet.
// Idempotent: existing sessions are left untouched.
func SeedDemo(ctx context.Context, logger *slog.Logger, engine *hunt.Engine) error {
	for _, cfg := range DemoSessions() {
		_, err := engine.GetSession(ctx, cfg.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, hunt.ErrNotFound) {
			return err
		}
		if _, err := engine.ConfigureSession(ctx, cfg); err != nil {
			return fmt.Errorf("seeding %s: %w", cfg.ID, err)
		}
		logger.Info("demo session seeded", "session_id", cfg.ID)
	}
	return nil
}
