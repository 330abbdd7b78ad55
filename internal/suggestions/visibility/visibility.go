// Package visibility implements the per-(user, surface) throttle that decides
// whether the winning candidate may be surfaced right now.
//
// It manages a state machine with four stored states:
//
//	ELIGIBLE  -> Nothing surfaced yet under the current scope key
//	SHOWN     -> Surfaced; repeated evaluations re-surface without a new impression
//	DISMISSED -> User dismissed; hidden until the frequency cooldown elapses
//	ACCEPTED  -> User accepted; hidden for this scope key indefinitely
//
// Suppression is not stored. It is computed from (status, last transition,
// cooldown) on every evaluation, see Suppressed.
//
// Transitions:
//   - Evaluate: ELIGIBLE -> SHOWN, DISMISSED -> SHOWN once the cooldown elapsed
//   - Accept:   SHOWN -> ACCEPTED
//   - Dismiss:  SHOWN -> DISMISSED
//   - Scope key change: any state -> ELIGIBLE with the new key
//
// Every write is a compare-and-swap on the stored (status, scope_key) pair.
package visibility

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runger/tidum/internal/suggestions/policy"
)

// Status is a stored throttle state.
type Status string

const (
	StatusEligible  Status = StateEligible
	StatusShown     Status = StateShown
	StatusDismissed Status = StateDismissed
	StatusAccepted  Status = StateAccepted
)

// IsValid returns true if s is a recognized status.
func (s Status) IsValid() bool {
	switch s {
	case StatusEligible, StatusShown, StatusDismissed, StatusAccepted:
		return true
	}
	return false
}

var (
	// ErrTransitionConflict is returned to the loser of a concurrent
	// transition on the same (user, surface).
	ErrTransitionConflict = errors.New("visibility transition conflict")

	// ErrNotShown is returned by Accept and Dismiss when nothing is currently
	// shown under the given scope key.
	ErrNotShown = errors.New("suggestion not shown under this scope key")

	errRequiredFields = errors.New("user_id, surface, and scope_key are required")
)

// Config holds the cooldown per frequency tier.
type Config struct {
	Cooldowns map[policy.Frequency]time.Duration
}

// DefaultConfig returns the default throttle configuration.
func DefaultConfig() Config {
	return Config{Cooldowns: map[policy.Frequency]time.Duration{
		policy.FrequencyLow:    24 * time.Hour,
		policy.FrequencyNormal: 4 * time.Hour,
		policy.FrequencyHigh:   0,
	}}
}

// Validate checks that every tier is present and low >= normal >= high >= 0.
func (c Config) Validate() error {
	low, okLow := c.Cooldowns[policy.FrequencyLow]
	normal, okNormal := c.Cooldowns[policy.FrequencyNormal]
	high, okHigh := c.Cooldowns[policy.FrequencyHigh]
	if !okLow || !okNormal || !okHigh {
		return errors.New("cooldowns must define low, normal, and high")
	}
	if high < 0 || normal < high || low < normal {
		return fmt.Errorf("cooldowns must satisfy low >= normal >= high >= 0 (got %s, %s, %s)", low, normal, high)
	}
	return nil
}

// Cooldown returns the re-show delay after a dismissal at frequency f.
// Unknown frequencies get the normal tier.
func (c Config) Cooldown(f policy.Frequency) time.Duration {
	if d, ok := c.Cooldowns[f]; ok {
		return d
	}
	return c.Cooldowns[policy.FrequencyNormal]
}

func (c Config) orDefault(logger *slog.Logger) Config {
	if err := c.Validate(); err != nil {
		logger.Warn("invalid visibility cooldowns, using defaults", "error", err)
		return DefaultConfig()
	}
	return c
}

// State is the stored throttle row for one (user, surface).
type State struct {
	LastTransitionAt time.Time `json:"lastTransitionAt"`
	UserID           string    `json:"userId"`
	Surface          string    `json:"surface"`
	ScopeKey         string    `json:"scopeKey"`
	Status           Status    `json:"status"`
	Impressions      int       `json:"impressions"`
}

// Suppressed reports whether st hides its candidate at now. Callers must
// already have reset st if the scope key changed.
func Suppressed(st State, cooldown time.Duration, now time.Time) bool {
	switch st.Status {
	case StatusAccepted:
		return true
	case StatusDismissed:
		return now.Sub(st.LastTransitionAt) < cooldown
	}
	return false
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Status        Status `json:"status"`
	ScopeKey      string `json:"scopeKey"`
	Reason        string `json:"reason"`
	Show          bool   `json:"show"`
	NewImpression bool   `json:"newImpression"`
}

// Decision reasons.
const (
	ReasonShown      = "shown"
	ReasonResurfaced = "resurfaced"
	ReasonCooldown   = "cooldown"
	ReasonAccepted   = "accepted"
	ReasonConflict   = "conflict"
)

// MakeScopeKey fingerprints a candidate's identity for the period it applies
// to, e.g. "project:2026-01-24:3f1a09c2e4b7d5a1". Values are hashed so the
// stored key carries no free text.
func MakeScopeKey(t policy.CandidateType, value, period string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%s:%s:%s", t, period, hex.EncodeToString(sum[:8]))
}
