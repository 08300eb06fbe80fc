package hunt

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameRunes = 30
	maxAvatarLen = 512
	maxAvatarTag = 64
	nameSymbols  = "-_.'!"
)

var avatarSchemes = []string{"http://", "https://"}

func validateName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrValidation, maxNameRunes)
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == ' ':
		case strings.ContainsRune(nameSymbols, r):
		default:
			return "", fmt.Errorf("%w: name contains %q", ErrValidation, r)
		}
	}
	return name, nil
}

// validateAvatar accepts an http(s) image reference or a short emoji/tag.
func validateAvatar(raw string) (string, error) {
	avatar := strings.TrimSpace(raw)
	if avatar == "" {
		return "", nil
	}
	if len(avatar) > maxAvatarLen {
		return "", fmt.Errorf("%w: avatar is too long", ErrValidation)
	}
	for _, r := range avatar {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: avatar contains control characters", ErrValidation)
		}
	}
	for _, scheme := range avatarSchemes {
		if strings.HasPrefix(avatar, scheme) {
			return avatar, nil
		}
	}
	if strings.Contains(avatar, "://") || utf8.RuneCountInString(avatar) > maxAvatarTag {
		return "", fmt.Errorf("%w: avatar must be an emoji, a tag or an http(s) URL", ErrValidation)
	}
	return avatar, nil
}

func validateConfig(cfg *SessionConfig) error {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.ID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if cfg.Mode != ModeTypeScored && cfg.Mode != ModeSequential {
		return fmt.Errorf("%w: mode must be %s or %s", ErrValidation, ModeTypeScored, ModeSequential)
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrValidation)
	}
	if cfg.CountdownSeconds < 0 {
		return fmt.Errorf("%w: countdownSeconds must not be negative", ErrValidation)
	}
	r := cfg.Rules
	if r.MinTargetsToFinish < 0 || r.RepeatCooldownSeconds < 0 || r.PointsPerStation < 0 || r.MaxDurationSeconds < 0 {
		return fmt.Errorf("%w: rule values must not be negative", ErrValidation)
	}

	ids := map[string]bool{}
	shortIDs := map[string]bool{}
	var orders []int
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		t.ID = strings.TrimSpace(t.ID)
		t.ShortID = strings.TrimSpace(t.ShortID)
		t.Category = strings.TrimSpace(t.Category)
		if t.ID == "" {
			return fmt.Errorf("%w: target %d has no id", ErrValidation, i+1)
		}
		if ids[strings.ToLower(t.ID)] {
			return fmt.Errorf("%w: duplicate target id %q", ErrValidation, t.ID)
		}
		ids[strings.ToLower(t.ID)] = true
		if t.ShortID != "" {
			if shortIDs[strings.ToLower(t.ShortID)] {
				return fmt.Errorf("%w: duplicate target shortId %q", ErrValidation, t.ShortID)
			}
			shortIDs[strings.ToLower(t.ShortID)] = true
		}
		if t.Points < 0 {
			return fmt.Errorf("%w: target %q has negative points", ErrValidation, t.ID)
		}
		if t.Active {
			orders = append(orders, t.Order)
		}
	}

	if cfg.Mode == ModeSequential {
		if len(orders) == 0 {
			return fmt.Errorf("%w: at least one active station is required", ErrValidation)
		}
		sort.Ints(orders)
		for i, o := range orders {
			if o != i+1 {
				return fmt.Errorf("%w: active station orders must be 1..%d", ErrValidation, len(orders))
			}
		}
	}

	teams := map[string]bool{}
	for _, t := range cfg.Teams {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: team id is required", ErrValidation)
		}
		if teams[t.ID] {
			return fmt.Errorf("%w: duplicate team id %q", ErrValidation, t.ID)
		}
		teams[t.ID] = true
	}
	return nil
}
