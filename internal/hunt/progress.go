package hunt

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ScanResult struct {
	Accepted   bool    `json:"accepted"`
	Delta      int     `json:"delta"`
	Score      int     `json:"score"`
	Completed  bool    `json:"completed"`
	NextTarget *Target `json:"nextTarget,omitempty"`
	Reason     Reason  `json:"reason,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// verdict is a progress rule's decision on one scan.
type verdict struct {
	accept  bool
	delta   int
	advance bool
	reason  Reason
	message string
}

func reject(reason Reason, message string) verdict {
	return verdict{reason: reason, message: message}
}

// progressRule is the mode-specific part of scan acceptance. Everything
// else (phase gating, persistence, stats, leaderboard) is shared.
type progressRule interface {
	judge(sess *Session, p *Player, t Target, now time.Time) verdict
	done(sess *Session, p *Player) bool
	next(sess *Session, p *Player) *Target
}

func ruleFor(mode Mode) progressRule {
	if mode == ModeSequential {
		return sequential{}
	}
	return typeScored{}
}

type typeScored struct{}

func (typeScored) judge(sess *Session, p *Player, t Target, now time.Time) verdict {
	if p.AssignedType != "" && t.Category != p.AssignedType {
		return reject(ReasonWrongType, fmt.Sprintf("this code is not a %s code", p.AssignedType))
	}
	if p.hasCompleted(t.ID) {
		if !sess.Rules.AllowRepeats {
			return reject(ReasonAlreadyCompleted, "code already scanned")
		}
		cooldown := defaultRepeatCooldown
		if sess.Rules.RepeatCooldownSeconds > 0 {
			cooldown = time.Duration(sess.Rules.RepeatCooldownSeconds) * time.Second
		}
		if last, ok := p.LastScans[t.ID]; ok && now.Sub(last) < cooldown {
			return reject(ReasonAlreadyCompleted, "code scanned moments ago")
		}
	}
	return verdict{accept: true, delta: t.Points}
}

func (typeScored) done(sess *Session, p *Player) bool {
	return len(p.Completed) >= sess.TargetCount(p.AssignedType)
}

func (typeScored) next(*Session, *Player) *Target { return nil }

type sequential struct{}

func (sequential) judge(sess *Session, p *Player, t Target, _ time.Time) verdict {
	points := t.Points
	if sess.Rules.PointsPerStation > 0 {
		points = sess.Rules.PointsPerStation
	}

	expected := p.CurrentIndex + 1
	switch {
	case t.Order < expected:
		return reject(ReasonAlreadyCompleted, "station already completed")
	case t.Order == expected:
		// A station taken out of order earlier only moves the cursor now.
		if p.hasCompleted(t.ID) {
			points = 0
		}
		return verdict{accept: true, delta: points, advance: true}
	case !sess.Rules.AllowOutOfOrder:
		return reject(ReasonOutOfOrder, fmt.Sprintf("find station %d first", expected))
	case p.hasCompleted(t.ID):
		return reject(ReasonAlreadyCompleted, "station already scanned")
	default:
		return verdict{accept: true, delta: points, message: sess.Rules.OutOfOrderMessage}
	}
}

func (sequential) done(sess *Session, p *Player) bool {
	return p.CurrentIndex >= sess.TargetCount("")
}

func (sequential) next(sess *Session, p *Player) *Target {
	t, ok := sess.station(p.CurrentIndex + 1)
	if !ok {
		return nil
	}
	return &t
}

func equalRef(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// SubmitScan validates one scan and, when accepted, records it. Submitting
// the same scan again after it was recorded returns an AlreadyCompleted
// result and changes nothing. The phase is checked again inside the player
// transaction, so no scan is recorded after the session has finished.
func (e *Engine) SubmitScan(ctx context.Context, sessionID, identity, targetRef string) (ScanResult, error) {
	identity, err := playerID(identity)
	if err != nil {
		return ScanResult{}, err
	}
	targetRef = strings.TrimSpace(targetRef)
	if targetRef == "" {
		return ScanResult{}, fmt.Errorf("%w: target is required", ErrValidation)
	}

	sess, err := e.session(ctx, sessionID)
	if err != nil {
		return ScanResult{}, err
	}
	if !sess.CanScan() {
		return ScanResult{}, fmt.Errorf("%w: scanning is closed (phase %s)", ErrInvalidState, sess.Phase)
	}
	target, ok := sess.resolveTarget(targetRef)
	if !ok {
		return ScanResult{}, fmt.Errorf("%w: target %q", ErrNotFound, targetRef)
	}

	rule := ruleFor(sess.Mode)
	now := e.now()
	var res ScanResult
	finishedNow := false

	p, err := e.store.ModifyPlayer(ctx, sessionID, identity, func(sess *Session, p *Player) ([]ProgressEvent, error) {
		res = ScanResult{Score: p.Score}
		finishedNow = false

		if !sess.CanScan() {
			return nil, fmt.Errorf("%w: scanning is closed (phase %s)", ErrInvalidState, sess.Phase)
		}
		if !p.Started() {
			return nil, fmt.Errorf("%w: player has not started", ErrInvalidState)
		}
		if p.Finished {
			res.Completed = true
			res.Reason = ReasonAlreadyCompleted
			res.Message = "hunt already completed"
			return nil, ErrSkipWrite
		}
		if limit := sess.Rules.MaxDurationSeconds; limit > 0 && now.Sub(*p.StartedAt) > time.Duration(limit)*time.Second {
			return nil, fmt.Errorf("%w: time is up", ErrInvalidState)
		}

		v := rule.judge(sess, p, target, now)
		if !v.accept {
			res.Reason = v.reason
			res.Message = v.message
			res.NextTarget = rule.next(sess, p)
			return nil, ErrSkipWrite
		}

		p.Score += v.delta
		p.EventCount++
		if !p.hasCompleted(target.ID) {
			p.Completed = append(p.Completed, target.ID)
		}
		if p.LastScans == nil {
			p.LastScans = map[string]time.Time{}
		}
		p.LastScans[target.ID] = now
		if v.advance {
			p.CurrentIndex++
			if p.StationTimes == nil {
				p.StationTimes = map[string]int64{}
			}
			p.StationTimes[target.ID] = now.Sub(*p.StartedAt).Milliseconds()
		}
		if rule.done(sess, p) {
			p.finish(now)
			finishedNow = true
		}

		res = ScanResult{
			Accepted:  true,
			Delta:     v.delta,
			Score:     p.Score,
			Completed: p.Finished,
			Message:   v.message,
		}
		if !p.Finished {
			res.NextTarget = rule.next(sess, p)
		}
		return []ProgressEvent{{
			ID:        e.newID(),
			SessionID: sessionID,
			PlayerID:  p.ID,
			TargetID:  target.ID,
			Delta:     v.delta,
			ScannedAt: now,
		}}, nil
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("submitting scan: %w", err)
	}

	if !res.Accepted {
		e.logger.Debug("scan rejected", "session_id", sessionID, "player_id", identity, "target_id", target.ID, "reason", res.Reason)
		return res, nil
	}

	d := StatsDelta{Events: 1, TopScore: p.Score}
	if finishedNow {
		d.Playing = -1
		d.Finished = 1
		e.logger.Info("player completed hunt", "session_id", sessionID, "player_id", p.ID, "score", p.Score, "elapsed_ms", p.ElapsedMs)
	}
	e.afterChange(ctx, sessionID, d, &p)
	return res, nil
}
