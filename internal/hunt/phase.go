package hunt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

func (s *Session) CanRegister() bool {
	return s.Phase == PhaseRegistration || s.Phase == PhaseCountdown || s.Phase == PhasePlaying
}

// CanStart reports whether players may begin individually. Countdown is
// excluded so the whole room starts together.
func (s *Session) CanStart() bool {
	return s.Phase == PhaseRegistration || s.Phase == PhasePlaying
}

func (s *Session) CanScan() bool {
	return s.Phase == PhaseRegistration || s.Phase == PhasePlaying
}

func applyPhase(s *Session, phase Phase, at time.Time) {
	s.Phase = phase
	switch phase {
	case PhaseCountdown:
		s.CountdownStartedAt = &at
	case PhasePlaying:
		if s.StartedAt == nil {
			s.StartedAt = &at
		}
	case PhaseFinished:
		s.EndedAt = &at
	}
	s.UpdatedAt = at
}

// SetPhase moves the session forward to phase. Setting the current phase is
// a no-op on the store but still republishes the session projection.
// Returning to registration is only possible through Reset.
func (e *Engine) SetPhase(ctx context.Context, sessionID string, phase Phase) (Session, error) {
	if !phase.Valid() {
		return Session{}, fmt.Errorf("%w: unknown phase %q", ErrValidation, phase)
	}

	now := e.now()
	sess, err := e.store.ModifySession(ctx, sessionID, func(s *Session) error {
		if s.Phase == phase {
			return ErrSkipWrite
		}
		if phase.rank() < s.Phase.rank() {
			return fmt.Errorf("%w: cannot move from %s back to %s", ErrInvalidState, s.Phase, phase)
		}
		applyPhase(s, phase, now)
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("setting phase: %w", err)
	}

	e.logger.Info("session phase set", "session_id", sessionID, "phase", sess.Phase)
	e.publishSession(ctx, sess)
	return sess, nil
}

// AdvanceDue moves a session whose countdown has elapsed into playing. It is
// safe to call redundantly from any number of callers.
func (e *Engine) AdvanceDue(ctx context.Context, sessionID string) (Session, bool, error) {
	now := e.now()
	advanced := false
	sess, err := e.store.ModifySession(ctx, sessionID, func(s *Session) error {
		if !s.countdownDue(now) {
			return ErrSkipWrite
		}
		due := s.CountdownStartedAt.Add(time.Duration(s.CountdownSeconds) * time.Second)
		applyPhase(s, PhasePlaying, due)
		advanced = true
		return nil
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("advancing session: %w", err)
	}

	if advanced {
		e.logger.Info("countdown elapsed", "session_id", sessionID)
		e.publishSession(ctx, sess)
	}
	return sess, advanced, nil
}

// AdvanceAllDue sweeps every session in countdown and returns how many moved
// to playing.
func (e *Engine) AdvanceAllDue(ctx context.Context) (int, error) {
	ids, err := e.store.ListSessionIDs(ctx, PhaseCountdown)
	if err != nil {
		return 0, fmt.Errorf("listing countdown sessions: %w", err)
	}

	var errs []error
	n := 0
	for _, id := range ids {
		_, advanced, err := e.AdvanceDue(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if advanced {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// session loads a session, first applying any due countdown transition.
func (e *Engine) session(ctx context.Context, sessionID string) (Session, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}
	if sess.countdownDue(e.now()) {
		sess, _, err = e.AdvanceDue(ctx, sessionID)
		if err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

func (e *Engine) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return e.session(ctx, sessionID)
}
