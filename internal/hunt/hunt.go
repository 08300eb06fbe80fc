// Package hunt implements the live game-session engine shared by the
// type-scored code hunt and the sequential station hunt.
//
// The engine sits between two collaborators: a SessionStore, the durable
// system of record, and a LiveChannel, a disposable projection read by
// displays. Gameplay rules are enforced against the store only.
package hunt

import (
	"context"
	"time"
)

type Phase string

const (
	PhaseRegistration Phase = "registration"
	PhaseCountdown    Phase = "countdown"
	PhasePlaying      Phase = "playing"
	PhaseFinished     Phase = "finished"
)

// rank orders phases for the forward-only transition rule.
func (p Phase) rank() int {
	switch p {
	case PhaseRegistration:
		return 0
	case PhaseCountdown:
		return 1
	case PhasePlaying:
		return 2
	case PhaseFinished:
		return 3
	}
	return -1
}

func (p Phase) Valid() bool { return p.rank() >= 0 }

type Mode string

const (
	ModeTypeScored Mode = "type-scored"
	ModeSequential Mode = "sequential-stations"
)

// Target is a scannable unit: a code in type-scored mode, a station in
// sequential mode.
type Target struct {
	ID       string `json:"id"`
	ShortID  string `json:"shortId"`
	Order    int    `json:"order"`
	Category string `json:"category"`
	Points   int    `json:"points"`
	Active   bool   `json:"active"`
}

type Team struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Rules struct {
	// MinTargetsToFinish of 0 means every active target (of the player's
	// assigned type, if any) is required.
	MinTargetsToFinish    int    `json:"minTargetsToFinish"`
	AllowRepeats          bool   `json:"allowRepeats"`
	RepeatCooldownSeconds int    `json:"repeatCooldownSeconds"`
	AllowOutOfOrder       bool   `json:"allowOutOfOrder"`
	OutOfOrderMessage     string `json:"outOfOrderMessage"`
	PointsPerStation      int    `json:"pointsPerStation"`
	AssignTypes           bool   `json:"assignTypes"`
	MaxDurationSeconds    int    `json:"maxDurationSeconds"`
}

type Session struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Mode               Mode       `json:"mode"`
	Phase              Phase      `json:"phase"`
	Targets            []Target   `json:"targets"`
	Teams              []Team     `json:"teams"`
	Rules              Rules      `json:"rules"`
	CountdownSeconds   int        `json:"countdownSeconds"`
	CountdownStartedAt *time.Time `json:"countdownStartedAt"`
	StartedAt          *time.Time `json:"startedAt"`
	EndedAt            *time.Time `json:"endedAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (s *Session) TeamMode() bool { return len(s.Teams) > 0 }

func (s *Session) team(id string) (Team, bool) {
	for _, t := range s.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}

func (s *Session) activeTargets() []Target {
	var out []Target
	for _, t := range s.Targets {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// enabledTypes returns the distinct categories of active targets in
// configuration order.
func (s *Session) enabledTypes() []string {
	seen := map[string]bool{}
	var types []string
	for _, t := range s.activeTargets() {
		if t.Category == "" || seen[t.Category] {
			continue
		}
		seen[t.Category] = true
		types = append(types, t.Category)
	}
	return types
}

// TargetCount is the number of targets a player assigned assignedType must
// complete to finish. An empty type counts every active target.
func (s *Session) TargetCount(assignedType string) int {
	n := 0
	for _, t := range s.activeTargets() {
		if assignedType == "" || t.Category == assignedType {
			n++
		}
	}
	if need := s.Rules.MinTargetsToFinish; need > 0 && need < n {
		return need
	}
	return n
}

// countdownDue reports whether a running countdown has elapsed at now.
func (s *Session) countdownDue(now time.Time) bool {
	if s.Phase != PhaseCountdown || s.CountdownStartedAt == nil {
		return false
	}
	return !now.Before(s.CountdownStartedAt.Add(time.Duration(s.CountdownSeconds) * time.Second))
}

type Player struct {
	ID           string               `json:"id"`
	SessionID    string               `json:"sessionId"`
	Name         string               `json:"name"`
	Avatar       string               `json:"avatar"`
	TeamID       string               `json:"teamId,omitempty"`
	AssignedType string               `json:"assignedType,omitempty"`
	RegisteredAt time.Time            `json:"registeredAt"`
	StartedAt    *time.Time           `json:"startedAt"`
	FinishedAt   *time.Time           `json:"finishedAt"`
	Score        int                  `json:"score"`
	Completed    []string             `json:"completed"`
	CurrentIndex int                  `json:"currentIndex"`
	EventCount   int                  `json:"eventCount"`
	StationTimes map[string]int64     `json:"stationTimes,omitempty"`
	LastScans    map[string]time.Time `json:"lastScans,omitempty"`
	ElapsedMs    int64                `json:"elapsedMs,omitempty"`
	Finished     bool                 `json:"finished"`
}

func (p *Player) Started() bool { return p.StartedAt != nil }

// Playing reports a started player who has not finished.
func (p *Player) Playing() bool { return p.StartedAt != nil && !p.Finished }

func (p *Player) hasCompleted(targetID string) bool {
	for _, id := range p.Completed {
		if id == targetID {
			return true
		}
	}
	return false
}

// finish marks the player complete at now.
func (p *Player) finish(now time.Time) {
	p.Finished = true
	p.FinishedAt = &now
	if p.StartedAt != nil {
		p.ElapsedMs = now.Sub(*p.StartedAt).Milliseconds()
	}
}

// ProgressEvent is the append-only record of one accepted scan.
type ProgressEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	PlayerID  string    `json:"playerId"`
	TargetID  string    `json:"targetId"`
	Delta     int       `json:"delta"`
	ScannedAt time.Time `json:"scannedAt"`
}

// LeaderboardEntry is derived data; it exists only in the live projection
// and in read responses.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	TeamID   string `json:"teamId,omitempty"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
	TieBreak int64  `json:"tieBreak"`
	Finished bool   `json:"finished"`
}

type Stats struct {
	TotalPlayers    int `json:"totalPlayers"`
	PlayersPlaying  int `json:"playersPlaying"`
	PlayersFinished int `json:"playersFinished"`
	TopScore        int `json:"topScore"`
	TotalEvents     int `json:"totalEvents"`
}

// StatsDelta is a relative adjustment applied transactionally against the
// stored counters. Counters are clamped at zero and TopScore is raised with
// max semantics.
type StatsDelta struct {
	Players  int
	Playing  int
	Finished int
	Events   int
	TopScore int
	// TopScoreFrom replaces the top score when set. The channel calls it
	// inside the stats transaction, so it must read current state.
	TopScoreFrom func(context.Context) (int, error)
}

func (d StatsDelta) empty() bool {
	return d.Players == 0 && d.Playing == 0 && d.Finished == 0 &&
		d.Events == 0 && d.TopScore == 0 && d.TopScoreFrom == nil
}

// Apply returns s adjusted by the counters and TopScore of d.
func (d StatsDelta) Apply(s Stats) Stats {
	s.TotalPlayers = clamp(s.TotalPlayers + d.Players)
	s.PlayersPlaying = clamp(s.PlayersPlaying + d.Playing)
	s.PlayersFinished = clamp(s.PlayersFinished + d.Finished)
	s.TotalEvents = clamp(s.TotalEvents + d.Events)
	if d.TopScore > s.TopScore {
		s.TopScore = d.TopScore
	}
	return s
}

// Resolve is Apply followed by TopScoreFrom. Channels call it with the
// stored stats while holding their transaction.
func (d StatsDelta) Resolve(ctx context.Context, s Stats) (Stats, error) {
	s = d.Apply(s)
	if d.TopScoreFrom != nil {
		top, err := d.TopScoreFrom(ctx)
		if err != nil {
			return Stats{}, err
		}
		s.TopScore = clamp(top)
	}
	return s, nil
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// SessionState is the session-level projection pushed to displays.
type SessionState struct {
	SessionID          string     `json:"sessionId"`
	Phase              Phase      `json:"phase"`
	CountdownSeconds   int        `json:"countdownSeconds"`
	CountdownStartedAt *time.Time `json:"countdownStartedAt"`
	StartedAt          *time.Time `json:"startedAt"`
	Stats              Stats      `json:"stats"`
}
