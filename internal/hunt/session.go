package hunt

import (
	"context"
	"fmt"
)

// SessionConfig is the operator-editable part of a session.
type SessionConfig struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Mode             Mode     `json:"mode"`
	Targets          []Target `json:"targets"`
	Teams            []Team   `json:"teams"`
	Rules            Rules    `json:"rules"`
	CountdownSeconds int      `json:"countdownSeconds"`
}

// ConfigureSession creates the session or replaces its configuration,
// keeping phase, timing and players as they are.
func (e *Engine) ConfigureSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if err := validateConfig(&cfg); err != nil {
		return Session{}, err
	}

	now := e.now()
	created := false
	sess, err := e.store.UpsertSession(ctx, cfg.ID, func(s *Session, exists bool) error {
		if !exists {
			*s = Session{ID: cfg.ID, Phase: PhaseRegistration, CreatedAt: now}
			created = true
		}
		if exists && s.Mode != cfg.Mode && s.Phase != PhaseRegistration {
			return fmt.Errorf("%w: mode cannot change after registration", ErrInvalidState)
		}
		s.Name = cfg.Name
		s.Mode = cfg.Mode
		s.Targets = cfg.Targets
		s.Teams = cfg.Teams
		s.Rules = cfg.Rules
		s.CountdownSeconds = cfg.CountdownSeconds
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("configuring session: %w", err)
	}

	e.logger.Info("session configured", "session_id", sess.ID, "mode", sess.Mode, "targets", len(sess.Targets), "created", created)
	e.publishSession(ctx, sess)
	return sess, nil
}

// resolveTarget finds an active target by id or short id.
func (s *Session) resolveTarget(ref string) (Target, bool) {
	for _, t := range s.Targets {
		if !t.Active {
			continue
		}
		if equalRef(t.ID, ref) || (t.ShortID != "" && equalRef(t.ShortID, ref)) {
			return t, true
		}
	}
	return Target{}, false
}

func (s *Session) station(order int) (Target, bool) {
	for _, t := range s.Targets {
		if t.Active && t.Order == order {
			return t, true
		}
	}
	return Target{}, false
}
