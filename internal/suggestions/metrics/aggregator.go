// Package metrics rolls the feedback log into acceptance, override and
// time-saved statistics, and holds the process-wide observability counters.
//
// Metrics are recomputed from the log with SQL aggregates and memoized for a
// short TTL. Concurrent recomputes of the same key are coalesced. Rates are
// nil, not zero, when their denominator is zero.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/runger/tidum/internal/suggestions/policy"
)

// Window holds the statistics for one time range.
type Window struct {
	AcceptanceRate            *float64 `json:"acceptanceRate"`
	OverrideRate              *float64 `json:"overrideRate"`
	TotalFeedback             int      `json:"totalFeedback"`
	Accepted                  int      `json:"accepted"`
	Rejected                  int      `json:"rejected"`
	EstimatedTimeSavedMinutes int      `json:"estimatedTimeSavedMinutes"`
	PreventedMisentries       int      `json:"preventedMisentries"`

	overridden int
}

// TypeCounts is the per-suggestion-type breakdown.
type TypeCounts struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Metrics is the derived view of the feedback log. All-time fields are
// inlined, the trailing window is nested.
type Metrics struct {
	ComputedAt     time.Time             `json:"computedAt"`
	FeedbackByType map[string]TypeCounts `json:"feedbackByType"`
	Last7Days      Window                `json:"last7Days"`
	Window
}

// Config holds aggregation configuration.
type Config struct {
	// TimeSavedMinutes is the minute credit per accepted suggestion type.
	TimeSavedMinutes map[policy.CandidateType]int
	// Prevented lists the types whose acceptance counts as a prevented misentry.
	Prevented []policy.CandidateType
	// TTL bounds how stale a cached result may be. Default: 2m.
	TTL time.Duration
	// Window is the trailing range of the second block. Default: 7x24h.
	Window time.Duration
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		TimeSavedMinutes: map[policy.CandidateType]int{
			policy.TypeProject:      1,
			policy.TypeDescription:  1,
			policy.TypeHours:        1,
			policy.TypeBulkCopy:     5,
			policy.TypeTemplateCopy: 10,
			policy.TypeCaseID:       1,
		},
		Prevented: []policy.CandidateType{policy.TypeBulkCopy},
		TTL:       2 * time.Minute,
		Window:    7 * 24 * time.Hour,
	}
}

// Aggregator computes metrics from the feedback log.
type Aggregator struct {
	db       *sql.DB
	cache    Cache
	counters *Counters
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
	cfg      Config
}

// NewAggregator creates an aggregator. A nil cache means an in-process one;
// nil counters means Global.
func NewAggregator(db *sql.DB, cfg Config, cache Cache, counters *Counters, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TimeSavedMinutes == nil {
		cfg.TimeSavedMinutes = def.TimeSavedMinutes
	}
	if cfg.Prevented == nil {
		cfg.Prevented = def.Prevented
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cache == nil {
		cache = NewMemoryCache(1024)
	}
	if counters == nil {
		counters = Global
	}
	return &Aggregator{db: db, cache: cache, counters: counters, logger: logger, now: time.Now, cfg: cfg}
}

// Compute returns the metrics for one user.
func (a *Aggregator) Compute(ctx context.Context, userID string) (Metrics, error) {
	if userID == "" {
		return Metrics{}, fmt.Errorf("user_id is required")
	}
	return a.cached(ctx, "user:"+userID, "user_id = ?", userID)
}

// ComputeTeam aggregates over every user of role. An empty role covers
// everyone.
func (a *Aggregator) ComputeTeam(ctx context.Context, role string) (Metrics, error) {
	if role == "" {
		return a.cached(ctx, "team:*", "1 = 1")
	}
	return a.cached(ctx, "team:"+role, "user_role = ?", role)
}

// Invalidate drops the cached result for a user.
func (a *Aggregator) Invalidate(ctx context.Context, userID string) {
	if err := a.cache.Delete(ctx, "user:"+userID); err != nil {
		a.logger.Debug("metrics cache delete failed", "user_id", userID, "error", err)
	}
}

func (a *Aggregator) cached(ctx context.Context, key, where string, args ...any) (Metrics, error) {
	m, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Debug("metrics cache read failed", "key", key, "error", err)
	}
	if ok {
		a.counters.CacheHits.Add(1)
		return m, nil
	}
	a.counters.CacheMisses.Add(1)

	v, err, shared := a.group.Do(key, func() (any, error) {
		m, err := a.compute(ctx, where, args...)
		if err != nil {
			return Metrics{}, err
		}
		if err := a.cache.Set(ctx, key, m, a.cfg.TTL); err != nil {
			a.logger.Debug("metrics cache write failed", "key", key, "error", err)
		}
		return m, nil
	})
	if err != nil {
		return Metrics{}, err
	}
	if shared {
		a.logger.Debug("metrics recompute coalesced", "key", key)
	}
	return v.(Metrics), nil
}

const aggregateQuery = `
	SELECT suggestion_type,
		SUM(outcome = 'accepted'),
		SUM(outcome = 'rejected'),
		SUM(outcome = 'accepted' AND chosen_value IS NOT NULL AND chosen_value != COALESCE(suggested_value, '')),
		SUM(ts_ms >= ? AND outcome = 'accepted'),
		SUM(ts_ms >= ? AND outcome = 'rejected'),
		SUM(ts_ms >= ? AND outcome = 'accepted' AND chosen_value IS NOT NULL AND chosen_value != COALESCE(suggested_value, ''))
	FROM suggestion_feedback
	WHERE %s
	GROUP BY suggestion_type
`

func (a *Aggregator) compute(ctx context.Context, where string, args ...any) (Metrics, error) {
	now := a.now()
	since := now.Add(-a.cfg.Window).UnixMilli()

	queryArgs := append([]any{since, since, since}, args...)
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(aggregateQuery, where), queryArgs...)
	if err != nil {
		return Metrics{}, policy.Unavailable("aggregate feedback", err)
	}
	defer rows.Close()

	m := Metrics{ComputedAt: now, FeedbackByType: map[string]TypeCounts{}}
	for rows.Next() {
		var typ string
		var acc, rej, over, acc7, rej7, over7 int
		if err := rows.Scan(&typ, &acc, &rej, &over, &acc7, &rej7, &over7); err != nil {
			return Metrics{}, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		t := policy.CandidateType(typ)
		m.Window.add(t, acc, rej, over, a.cfg)
		m.Last7Days.add(t, acc7, rej7, over7, a.cfg)
		m.FeedbackByType[typ] = TypeCounts{Accepted: acc, Rejected: rej}
	}
	if err := rows.Err(); err != nil {
		return Metrics{}, policy.Unavailable("aggregate feedback", err)
	}

	m.Window.finish()
	m.Last7Days.finish()
	return m, nil
}

func (w *Window) add(t policy.CandidateType, accepted, rejected, overridden int, cfg Config) {
	w.Accepted += accepted
	w.Rejected += rejected
	w.TotalFeedback += accepted + rejected
	w.overridden += overridden
	w.EstimatedTimeSavedMinutes += accepted * cfg.TimeSavedMinutes[t]
	if slices.Contains(cfg.Prevented, t) {
		w.PreventedMisentries += accepted
	}
}

func (w *Window) finish() {
	w.AcceptanceRate = ratio(w.Accepted, w.TotalFeedback)
	w.OverrideRate = ratio(w.overridden, w.Accepted)
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}

// Types returns the suggestion types present in m, sorted.
func (m Metrics) Types() []string {
	types := make([]string, 0, len(m.FeedbackByType))
	for t := range m.FeedbackByType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
