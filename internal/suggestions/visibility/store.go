package visibility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runger/tidum/internal/suggestions/policy"
)

// Store manages persistent throttle state and its transitions.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// NewStore creates a new visibility store. Invalid cooldowns are replaced by
// the defaults with a warning.
func NewStore(db *sql.DB, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, cfg: cfg.orDefault(logger), logger: logger}
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Get returns the stored state, or nil if the surface was never evaluated.
func (s *Store) Get(ctx context.Context, userID string, surface policy.Surface) (*State, error) {
	var st State
	var status string
	var lastMs int64
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, surface, scope_key, status, last_transition_ms, impressions FROM visibility_state WHERE user_id = ? AND surface = ?",
		userID, string(surface)).Scan(&st.UserID, &st.Surface, &st.ScopeKey, &status, &lastMs, &st.Impressions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, policy.Unavailable("load visibility state", err)
	}
	st.Status = Status(status)
	if !st.Status.IsValid() {
		return nil, fmt.Errorf("invalid status in database: %q", status)
	}
	st.LastTransitionAt = time.UnixMilli(lastMs)
	return &st, nil
}

// Evaluate decides whether the candidate fingerprinted by scopeKey may be
// shown on surface at now, and records the eligible -> shown transition.
//
// Only a real transition into SHOWN is a new impression. Re-evaluating an
// already SHOWN state re-surfaces it without counting again.
func (s *Store) Evaluate(ctx context.Context, userID string, surface policy.Surface, freq policy.Frequency, scopeKey string, now time.Time) (Decision, error) {
	if userID == "" || surface == "" || scopeKey == "" {
		return Decision{}, errRequiredFields
	}

	st, err := s.ensure(ctx, userID, surface, scopeKey, now)
	if err != nil {
		return Decision{}, err
	}

	if st.ScopeKey != scopeKey {
		st, err = s.rescope(ctx, *st, scopeKey, now)
		if errors.Is(err, ErrTransitionConflict) {
			return s.afterConflict(ctx, userID, surface, scopeKey)
		}
		if err != nil {
			return Decision{}, err
		}
	}

	d := Decision{Status: st.Status, ScopeKey: scopeKey}
	switch st.Status {
	case StatusShown:
		d.Show, d.Reason = true, ReasonResurfaced
		return d, nil
	case StatusAccepted:
		d.Reason = ReasonAccepted
		return d, nil
	}

	to, ok, err := next(st.Status, EventEvaluate, !Suppressed(*st, s.cfg.Cooldown(freq), now))
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		d.Reason = ReasonCooldown
		return d, nil
	}

	won, err := s.swap(ctx, *st, to, scopeKey, now, 1)
	if err != nil {
		return Decision{}, err
	}
	if !won {
		return s.afterConflict(ctx, userID, surface, scopeKey)
	}

	s.logger.Debug("suggestion shown",
		"user_id", userID,
		"surface", surface,
		"scope_key", scopeKey,
		"from", st.Status,
	)
	return Decision{Status: to, ScopeKey: scopeKey, Reason: ReasonShown, Show: true, NewImpression: true}, nil
}

// Accept records SHOWN -> ACCEPTED for scopeKey.
func (s *Store) Accept(ctx context.Context, userID string, surface policy.Surface, scopeKey string, now time.Time) (State, error) {
	return s.respond(ctx, userID, surface, scopeKey, EventAccept, now)
}

// Dismiss records SHOWN -> DISMISSED for scopeKey.
func (s *Store) Dismiss(ctx context.Context, userID string, surface policy.Surface, scopeKey string, now time.Time) (State, error) {
	return s.respond(ctx, userID, surface, scopeKey, EventDismiss, now)
}

func (s *Store) respond(ctx context.Context, userID string, surface policy.Surface, scopeKey, event string, now time.Time) (State, error) {
	if userID == "" || surface == "" || scopeKey == "" {
		return State{}, errRequiredFields
	}

	st, err := s.Get(ctx, userID, surface)
	if err != nil {
		return State{}, err
	}
	if st == nil || st.ScopeKey != scopeKey {
		return State{}, ErrNotShown
	}

	to, ok, err := next(st.Status, event, false)
	if err != nil {
		return State{}, err
	}
	if !ok {
		// A duplicate response that already landed is a lost race, not a
		// client error.
		if (event == EventAccept && st.Status == StatusAccepted) || (event == EventDismiss && st.Status == StatusDismissed) {
			return *st, ErrTransitionConflict
		}
		return *st, ErrNotShown
	}

	won, err := s.swap(ctx, *st, to, scopeKey, now, 0)
	if err != nil {
		return State{}, err
	}
	if !won {
		return *st, ErrTransitionConflict
	}

	s.logger.Debug("suggestion response recorded",
		"user_id", userID,
		"surface", surface,
		"scope_key", scopeKey,
		"status", to,
	)
	st.Status = to
	st.LastTransitionAt = time.UnixMilli(now.UnixMilli())
	return *st, nil
}

// ensure loads the row, creating it lazily as ELIGIBLE under scopeKey.
func (s *Store) ensure(ctx context.Context, userID string, surface policy.Surface, scopeKey string, now time.Time) (*State, error) {
	st, err := s.Get(ctx, userID, surface)
	if err != nil || st != nil {
		return st, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO visibility_state (user_id, surface, scope_key, status, last_transition_ms, impressions)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(user_id, surface) DO NOTHING
	`, userID, string(surface), scopeKey, string(StatusEligible), now.UnixMilli())
	if err != nil {
		return nil, policy.Unavailable("create visibility state", err)
	}

	// Re-read: a concurrent request may have created the row first.
	st, err = s.Get(ctx, userID, surface)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, policy.Unavailable("create visibility state", sql.ErrNoRows)
	}
	return st, nil
}

// rescope resets st to ELIGIBLE under a new scope key.
func (s *Store) rescope(ctx context.Context, st State, scopeKey string, now time.Time) (*State, error) {
	to := StatusEligible
	if st.Status != StatusEligible {
		var ok bool
		var err error
		to, ok, err = next(st.Status, EventRescope, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("rescope not allowed from %s", st.Status)
		}
	}

	won, err := s.swap(ctx, st, to, scopeKey, now, 0)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrTransitionConflict
	}

	s.logger.Debug("scope key changed, reset to eligible",
		"user_id", st.UserID,
		"surface", st.Surface,
		"old_scope_key", st.ScopeKey,
		"scope_key", scopeKey,
	)
	st.Status = to
	st.ScopeKey = scopeKey
	st.LastTransitionAt = time.UnixMilli(now.UnixMilli())
	return &st, nil
}

// swap performs the conditional update. It reports false when another writer
// moved the row off (from.Status, from.ScopeKey) first.
func (s *Store) swap(ctx context.Context, from State, to Status, scopeKey string, now time.Time, impressions int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE visibility_state
		SET status = ?, scope_key = ?, last_transition_ms = ?, impressions = impressions + ?
		WHERE user_id = ? AND surface = ? AND status = ? AND scope_key = ?
	`, string(to), scopeKey, now.UnixMilli(), impressions,
		from.UserID, from.Surface, string(from.Status), from.ScopeKey)
	if err != nil {
		return false, policy.Unavailable("update visibility state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, policy.Unavailable("update visibility state", err)
	}
	return n == 1, nil
}

// afterConflict re-reads the row after a lost CAS. If the winner surfaced the
// same key, the loser shows it too but without counting an impression.
func (s *Store) afterConflict(ctx context.Context, userID string, surface policy.Surface, scopeKey string) (Decision, error) {
	st, err := s.Get(ctx, userID, surface)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{ScopeKey: scopeKey, Reason: ReasonConflict}
	if st != nil {
		d.Status = st.Status
		d.Show = st.Status == StatusShown && st.ScopeKey == scopeKey
	}
	s.logger.Debug("visibility transition conflict",
		"user_id", userID,
		"surface", surface,
		"scope_key", scopeKey,
		"show", d.Show,
	)
	return d, nil
}
