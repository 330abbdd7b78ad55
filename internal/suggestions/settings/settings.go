// Package settings stores per-user suggestion configuration and per-role team
// defaults, and resolves them into the effective policy for a request.
//
// Precedence, first match wins:
//
//	user override  -> only when user_override = 1
//	role preset    -> team_default_preset row for the user's role
//	global default -> team_default_preset row for role "default"
//	builtin        -> policy.BuiltinPreset, if even the default row is gone
//
// Resolve is a pure read. Only UpdateSettings sets the override flag, and only
// ResetToTeamDefault clears it. Neither touches the blocklist.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"time"

	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/runger/tidum/internal/suggestions/blocklist"
	"github.com/runger/tidum/internal/suggestions/policy"
)

var rolePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Config holds rollout bucketing configuration.
type Config struct {
	// RolloutSource names the experiment the variants belong to.
	RolloutSource string
	// Variants are the buckets users are hashed into. Default: ["control"].
	// Order does not matter, and adding a variant only moves users into it.
	Variants []string
}

// DefaultConfig returns the default settings configuration.
func DefaultConfig() Config {
	return Config{RolloutSource: "suggestions-2026", Variants: []string{"control"}}
}

// Patch is a partial update written by the user. Nil fields are untouched.
type Patch struct {
	Mode                *policy.Mode      `json:"mode,omitempty"`
	Frequency           *policy.Frequency `json:"frequency,omitempty"`
	ConfidenceThreshold *float64          `json:"confidenceThreshold,omitempty"`
}

// IsEmpty reports whether the patch writes nothing.
func (p Patch) IsEmpty() bool {
	return p.Mode == nil && p.Frequency == nil && p.ConfidenceThreshold == nil
}

// Validate checks every field present in the patch.
func (p Patch) Validate() error {
	if p.Mode != nil && !p.Mode.IsValid() {
		return &policy.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", *p.Mode)}
	}
	if p.Frequency != nil && !p.Frequency.IsValid() {
		return &policy.ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", *p.Frequency)}
	}
	if p.ConfidenceThreshold != nil {
		return policy.ValidateThreshold(*p.ConfidenceThreshold)
	}
	return nil
}

func (p Patch) apply(base policy.Preset) policy.Preset {
	if p.Mode != nil {
		base.Mode = *p.Mode
	}
	if p.Frequency != nil {
		base.Frequency = *p.Frequency
	}
	if p.ConfidenceThreshold != nil {
		base.ConfidenceThreshold = *p.ConfidenceThreshold
	}
	return base
}

// Store manages user settings and team default presets.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
	buckets *rendezvous.Rendezvous
	cfg     Config
}

// NewStore creates a new settings store.
func NewStore(db *sql.DB, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = DefaultConfig().Variants
	}
	if cfg.RolloutSource == "" {
		cfg.RolloutSource = DefaultConfig().RolloutSource
	}
	return &Store{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		buckets: rendezvous.New(cfg.Variants, hashString),
	}
}

// userRow mirrors a user_settings row.
type userRow struct {
	mode           sql.NullString
	frequency      sql.NullString
	threshold      sql.NullFloat64
	rolloutSource  string
	rolloutVariant string
	updatedAtMs    int64
	override       bool
}

func (r *userRow) preset() (policy.Preset, bool) {
	if !r.override || !r.mode.Valid || !r.frequency.Valid || !r.threshold.Valid {
		return policy.Preset{}, false
	}
	return policy.Preset{
		Mode:                policy.Mode(r.mode.String),
		Frequency:           policy.Frequency(r.frequency.String),
		ConfidenceThreshold: r.threshold.Float64,
	}, true
}

// tier is one optional link of the precedence chain.
type tier struct {
	load   func(ctx context.Context) (policy.Preset, bool, error)
	source policy.Source
}

// Resolve merges the user's override, the role preset, the global default and
// the experiment bucket into the effective settings for userID.
// An unknown role falls back silently; only storage failures are returned.
func (s *Store) Resolve(ctx context.Context, userID, role string) (policy.Settings, error) {
	if userID == "" {
		return policy.Settings{}, &policy.ValidationError{Field: "userId", Message: "is required"}
	}

	row, err := s.loadUser(ctx, userID)
	if err != nil {
		return policy.Settings{}, policy.Unavailable("resolve settings", err)
	}

	chain := []tier{
		{source: policy.SourceUserOverride, load: func(context.Context) (policy.Preset, bool, error) {
			if row == nil {
				return policy.Preset{}, false, nil
			}
			p, ok := row.preset()
			return p, ok, nil
		}},
		{source: policy.SourceRoleDefault, load: func(ctx context.Context) (policy.Preset, bool, error) {
			if role == "" || role == policy.DefaultRole {
				return policy.Preset{}, false, nil
			}
			p, ok, err := s.loadPreset(ctx, role)
			if err == nil && !ok {
				s.logger.Debug("falling back to default preset",
					"user_id", userID,
					"error", &policy.ConfigurationError{Kind: "role", Value: role},
				)
			}
			return p, ok, err
		}},
		{source: policy.SourceGlobalDefault, load: func(ctx context.Context) (policy.Preset, bool, error) {
			return s.loadPreset(ctx, policy.DefaultRole)
		}},
		{source: policy.SourceBuiltin, load: func(context.Context) (policy.Preset, bool, error) {
			return policy.BuiltinPreset(), true, nil
		}},
	}

	out := policy.Settings{UserID: userID, Role: role}
	for _, t := range chain {
		p, ok, err := t.load(ctx)
		if err != nil {
			return policy.Settings{}, policy.Unavailable("resolve settings", err)
		}
		if ok {
			out.Preset = p
			out.Source = t.source
			break
		}
	}

	if row != nil {
		out.UserOverride = out.Source == policy.SourceUserOverride
		out.RolloutSource = row.rolloutSource
		out.RolloutVariant = row.rolloutVariant
		out.UpdatedAt = time.UnixMilli(row.updatedAtMs)
	} else {
		out.RolloutSource, out.RolloutVariant = s.bucket(userID)
	}

	out.Blocked, err = blocklist.Load(ctx, s.db, userID)
	if err != nil {
		return policy.Settings{}, policy.Unavailable("resolve settings", err)
	}
	return out, nil
}

// UpdateSettings writes the patched fields as the user's own override.
// Fields missing from the patch are frozen at their current effective value so
// the override row is always complete. An empty patch changes nothing.
func (s *Store) UpdateSettings(ctx context.Context, userID, role string, patch Patch) (policy.Settings, error) {
	if err := patch.Validate(); err != nil {
		return policy.Settings{}, err
	}
	current, err := s.Resolve(ctx, userID, role)
	if err != nil {
		return policy.Settings{}, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	next := patch.apply(current.Preset)
	nowMs := s.now().UnixMilli()
	rolloutSource, rolloutVariant := current.RolloutSource, current.RolloutVariant

	// Rollout columns are only written on insert; they are immutable per user.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings
			(user_id, mode, frequency, confidence_threshold, user_override,
			 rollout_source, rollout_variant, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mode = excluded.mode,
			frequency = excluded.frequency,
			confidence_threshold = excluded.confidence_threshold,
			user_override = 1,
			updated_at_ms = excluded.updated_at_ms
	`, userID, string(next.Mode), string(next.Frequency), next.ConfidenceThreshold,
		rolloutSource, rolloutVariant, nowMs, nowMs)
	if err != nil {
		return policy.Settings{}, policy.Unavailable("update settings", err)
	}

	s.logger.Debug("updated suggestion settings",
		"user_id", userID,
		"mode", next.Mode,
		"frequency", next.Frequency,
		"confidence_threshold", next.ConfidenceThreshold,
	)
	return s.Resolve(ctx, userID, role)
}

// ResetToTeamDefault drops the user's override so the role preset applies
// again. The blocklist and rollout bucket are kept.
func (s *Store) ResetToTeamDefault(ctx context.Context, userID, role string) (policy.Settings, error) {
	if userID == "" {
		return policy.Settings{}, &policy.ValidationError{Field: "userId", Message: "is required"}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_settings
		SET mode = NULL, frequency = NULL, confidence_threshold = NULL,
		    user_override = 0, updated_at_ms = ?
		WHERE user_id = ?
	`, s.now().UnixMilli(), userID)
	if err != nil {
		return policy.Settings{}, policy.Unavailable("reset settings", err)
	}
	s.logger.Debug("reset suggestion settings to team default", "user_id", userID)
	return s.Resolve(ctx, userID, role)
}

// TeamDefaults returns every stored preset keyed by role.
func (s *Store) TeamDefaults(ctx context.Context) (map[string]policy.Preset, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, mode, frequency, confidence_threshold FROM team_default_preset ORDER BY role")
	if err != nil {
		return nil, policy.Unavailable("list team defaults", err)
	}
	defer rows.Close()

	out := make(map[string]policy.Preset)
	for rows.Next() {
		var role, mode, frequency string
		var threshold float64
		if err := rows.Scan(&role, &mode, &frequency, &threshold); err != nil {
			return nil, policy.Unavailable("list team defaults", err)
		}
		out[role] = policy.Preset{Mode: policy.Mode(mode), Frequency: policy.Frequency(frequency), ConfidenceThreshold: threshold}
	}
	if err := rows.Err(); err != nil {
		return nil, policy.Unavailable("list team defaults", err)
	}
	return out, nil
}

// SetTeamDefault stores the preset for role and returns the updated map.
func (s *Store) SetTeamDefault(ctx context.Context, role string, preset policy.Preset, actor string) (map[string]policy.Preset, error) {
	if !rolePattern.MatchString(role) {
		return nil, &policy.ValidationError{Field: "role", Message: "must be lowercase letters, digits, '-' or '_'"}
	}
	if err := policy.ValidatePreset(preset); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_default_preset (role, mode, frequency, confidence_threshold, updated_at_ms, updated_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			mode = excluded.mode,
			frequency = excluded.frequency,
			confidence_threshold = excluded.confidence_threshold,
			updated_at_ms = excluded.updated_at_ms,
			updated_by = excluded.updated_by
	`, role, string(preset.Mode), string(preset.Frequency), preset.ConfidenceThreshold, s.now().UnixMilli(), actor)
	if err != nil {
		return nil, policy.Unavailable("set team default", err)
	}

	s.logger.Info("team default preset updated",
		"role", role,
		"mode", preset.Mode,
		"frequency", preset.Frequency,
		"confidence_threshold", preset.ConfidenceThreshold,
		"actor", actor,
	)
	return s.TeamDefaults(ctx)
}

func (s *Store) loadUser(ctx context.Context, userID string) (*userRow, error) {
	var r userRow
	var override int
	err := s.db.QueryRowContext(ctx, `
		SELECT mode, frequency, confidence_threshold, user_override,
		       rollout_source, rollout_variant, updated_at_ms
		FROM user_settings WHERE user_id = ?
	`, userID).Scan(&r.mode, &r.frequency, &r.threshold, &override,
		&r.rolloutSource, &r.rolloutVariant, &r.updatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user settings: %w", err)
	}
	r.override = override == 1
	return &r, nil
}

func (s *Store) loadPreset(ctx context.Context, role string) (policy.Preset, bool, error) {
	var mode, frequency string
	var threshold float64
	err := s.db.QueryRowContext(ctx,
		"SELECT mode, frequency, confidence_threshold FROM team_default_preset WHERE role = ?",
		role).Scan(&mode, &frequency, &threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Preset{}, false, nil
	}
	if err != nil {
		return policy.Preset{}, false, fmt.Errorf("failed to query team default %q: %w", role, err)
	}
	return policy.Preset{Mode: policy.Mode(mode), Frequency: policy.Frequency(frequency), ConfidenceThreshold: threshold}, true, nil
}

// bucket deterministically assigns a rollout variant from the user ID. Users
// without a stored row are re-derived on every read, so only a change of
// their own variant's membership can move them.
func (s *Store) bucket(userID string) (string, string) {
	return s.cfg.RolloutSource, s.buckets.Lookup(userID)
}

func hashString(v string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(v))
	return h.Sum64()
}
