// Package feedback manages the append-only suggestion feedback log and the
// blocklist mutations it drives.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/runger/tidum/internal/suggestions/blocklist"
	"github.com/runger/tidum/internal/suggestions/policy"
)

// Outcome is the user's response to a surfaced suggestion.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// IsValid returns true if o is a recognized outcome.
func (o Outcome) IsValid() bool {
	return o == OutcomeAccepted || o == OutcomeRejected
}

// Metadata is the free-form context a surface attaches to an event. The
// typed fields drive throttling and blocking. Every other key is kept in
// Extra and written back as received.
type Metadata struct {
	Surface    policy.Surface             `json:"surface,omitempty"`
	Placement  string                     `json:"placement,omitempty"`
	ScopeKey   string                     `json:"scopeKey,omitempty"`
	Category   policy.Category            `json:"category,omitempty"`
	NeverAgain bool                       `json:"neverAgain,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// metadataFields has Metadata's layout without its JSON methods.
type metadataFields Metadata

var typedMetadataKeys = []string{"surface", "placement", "scopeKey", "category", "neverAgain"}

// MarshalJSON writes the typed fields merged over Extra.
func (m Metadata) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(metadataFields(m))
	if err != nil || len(m.Extra) == 0 {
		return typed, err
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+len(typedMetadataKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and keeps the remaining keys.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var typed metadataFields
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range typedMetadataKeys {
		delete(all, k)
	}
	*m = Metadata(typed)
	m.Extra = nil
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}

// Event is a single feedback log entry. It is immutable once recorded.
type Event struct {
	CreatedAt      time.Time            `json:"createdAt"`
	ID             string               `json:"id"`
	UserID         string               `json:"userId"`
	Role           string               `json:"role,omitempty"`
	SuggestionType policy.CandidateType `json:"suggestionType"`
	Outcome        Outcome              `json:"outcome"`
	SuggestedValue string               `json:"suggestedValue,omitempty"`
	ChosenValue    string               `json:"chosenValue,omitempty"`
	Period         string               `json:"period,omitempty"`
	Metadata       Metadata             `json:"metadata"`
}

// Period is a day (2026-01-24) or a month (2026-01).
var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?$`)

const maxTypeLen = 64

var errRequiredUser = errors.New("user_id is required")

// Validate checks the event before it is written.
func (e *Event) Validate() error {
	if e.UserID == "" {
		return errRequiredUser
	}
	if e.SuggestionType == "" || len(e.SuggestionType) > maxTypeLen {
		return &policy.ValidationError{Field: "suggestionType", Message: "required, at most 64 characters"}
	}
	if !e.Outcome.IsValid() {
		return &policy.ValidationError{Field: "outcome", Message: fmt.Sprintf("unknown outcome %q", e.Outcome)}
	}
	if len(e.SuggestedValue) > blocklist.MaxValueLen || len(e.ChosenValue) > blocklist.MaxValueLen {
		return &policy.ValidationError{Field: "suggestedValue", Message: fmt.Sprintf("exceeds max length %d", blocklist.MaxValueLen)}
	}
	if e.Period != "" && !periodPattern.MatchString(e.Period) {
		return &policy.ValidationError{Field: "period", Message: "must be YYYY-MM-DD or YYYY-MM"}
	}
	if e.Metadata.Surface != "" && !e.Metadata.Surface.IsValid() {
		return &policy.ValidationError{Field: "metadata.surface", Message: fmt.Sprintf("unknown surface %q", e.Metadata.Surface)}
	}
	if e.Metadata.Category != "" && !e.Metadata.Category.IsValid() {
		return &policy.ValidationError{Field: "metadata.category", Message: fmt.Sprintf("unknown category %q", e.Metadata.Category)}
	}
	return nil
}

// blocks reports whether recording e also blocks its suggested value.
func (e *Event) blocks() bool {
	return e.Outcome == OutcomeRejected && e.Metadata.NeverAgain
}

// blockTarget returns the category e.SuggestedValue is blocked under. ok is
// false when e does not block or has nothing blockable; the event is still
// recorded in that case.
func (e *Event) blockTarget() (policy.Category, bool) {
	if !e.blocks() || e.SuggestedValue == "" {
		return "", false
	}
	return e.blockCategory()
}

func (e *Event) blockCategory() (policy.Category, bool) {
	if e.Metadata.Category != "" {
		return e.Metadata.Category, true
	}
	return policy.CategoryFor(e.SuggestionType)
}

// Config holds write retry configuration.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultConfig returns the default feedback configuration.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond}
}

// Recorder persists feedback events and the blocklist.
type Recorder struct {
	db       *sql.DB
	logger   *slog.Logger
	now      func() time.Time
	retryCfg retry.Config
}

// NewRecorder creates a new feedback recorder.
func NewRecorder(db *sql.DB, cfg Config, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Recorder{
		db:     db,
		logger: logger,
		now:    time.Now,
		retryCfg: retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// Record appends ev to the log and returns its ID. A rejected event with
// metadata.neverAgain also blocks the suggested value in the same
// transaction. Storage failures wrap policy.ErrStorageUnavailable.
func (r *Recorder) Record(ctx context.Context, ev *Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("feedback event is nil")
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}

	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if _, ok := ev.blockTarget(); ev.blocks() && !ok {
		r.logger.Warn("neverAgain has no blockable value, recording without blocking",
			"user_id", ev.UserID,
			"suggestion_type", ev.SuggestionType,
		)
	}

	retryer := retry.New[bool](r.retryCfg)
	blocked, err := retryer.Do(ctx, func(ctx context.Context) (bool, error) {
		return r.insert(ctx, ev, meta)
	})
	if err != nil {
		r.logger.Warn("failed to record feedback", "user_id", ev.UserID, "error", err)
		return "", policy.Unavailable("record feedback", err)
	}

	r.logger.Debug("recorded feedback",
		"id", ev.ID,
		"user_id", ev.UserID,
		"suggestion_type", ev.SuggestionType,
		"outcome", ev.Outcome,
		"blocked", blocked,
	)
	return ev.ID, nil
}

func (r *Recorder) insert(ctx context.Context, ev *Event, meta []byte) (blocked bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// OR IGNORE keeps a retried attempt from failing on its own earlier commit.
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO suggestion_feedback
			(id, user_id, user_role, suggestion_type, outcome, suggested_value, chosen_value, period, metadata_json, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.UserID, ev.Role, string(ev.SuggestionType), string(ev.Outcome),
		nullStr(ev.SuggestedValue), nullStr(ev.ChosenValue), nullStr(ev.Period), string(meta), ev.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert feedback: %w", err)
	}

	if category, ok := ev.blockTarget(); ok {
		if blocked, err = blocklist.Add(ctx, tx, ev.UserID, category, ev.SuggestedValue, ev.CreatedAt); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit feedback: %w", err)
	}
	return blocked, nil
}

// Block adds value to the user's blocklist and returns the updated list.
func (r *Recorder) Block(ctx context.Context, userID string, category policy.Category, value string) (policy.Blocklist, error) {
	return r.mutate(ctx, "block", userID, category, value, func(ctx context.Context) (bool, error) {
		return blocklist.Add(ctx, r.db, userID, category, value, r.now())
	})
}

// Unblock removes value from the user's blocklist and returns the updated
// list. Removing an absent value is a no-op.
func (r *Recorder) Unblock(ctx context.Context, userID string, category policy.Category, value string) (policy.Blocklist, error) {
	return r.mutate(ctx, "unblock", userID, category, value, func(ctx context.Context) (bool, error) {
		return blocklist.Remove(ctx, r.db, userID, category, value)
	})
}

func (r *Recorder) mutate(ctx context.Context, op, userID string, category policy.Category, value string, fn func(context.Context) (bool, error)) (policy.Blocklist, error) {
	if err := blocklist.Validate(userID, category, value); err != nil {
		return policy.Blocklist{}, err
	}

	retryer := retry.New[bool](r.retryCfg)
	changed, err := retryer.Do(ctx, fn)
	if err != nil {
		return policy.Blocklist{}, policy.Unavailable(op, err)
	}

	list, err := blocklist.Load(ctx, r.db, userID)
	if err != nil {
		return policy.Blocklist{}, policy.Unavailable(op, err)
	}
	r.logger.Debug("blocklist updated", "op", op, "user_id", userID, "category", category, "changed", changed)
	return list, nil
}

// List returns the user's most recent events, newest first.
func (r *Recorder) List(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const queryFeedbackByUser = `
		SELECT id, user_id, user_role, suggestion_type, outcome, suggested_value, chosen_value, period, metadata_json, ts_ms
		FROM suggestion_feedback
		WHERE user_id = ?
		ORDER BY ts_ms DESC, id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, queryFeedbackByUser, userID, limit)
	if err != nil {
		return nil, policy.Unavailable("query feedback", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var typ, outcome string
		var suggested, chosen, period, meta sql.NullString
		var tsMs int64
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Role, &typ, &outcome, &suggested, &chosen, &period, &meta, &tsMs); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		ev.SuggestionType = policy.CandidateType(typ)
		ev.Outcome = Outcome(outcome)
		ev.SuggestedValue = suggested.String
		ev.ChosenValue = chosen.String
		ev.Period = period.String
		ev.CreatedAt = time.UnixMilli(tsMs)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
				r.logger.Warn("skipping unreadable feedback metadata", "id", ev.ID, "error", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
