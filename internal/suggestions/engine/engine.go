// Package engine runs one suggestion decision end to end:
//
//	resolve settings -> filter candidates -> throttle -> maybe surface
//
// and routes user responses through the throttle into the feedback log.
// Nothing here is fatal to the host request: every failure degrades to
// "no suggestion shown" or "feedback not recorded".
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/runger/tidum/internal/suggestions/feedback"
	"github.com/runger/tidum/internal/suggestions/filter"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/policy"
	"github.com/runger/tidum/internal/suggestions/settings"
	"github.com/runger/tidum/internal/suggestions/visibility"
)

// Result reasons beyond the throttle's own.
const (
	ReasonUnknownSurface = "unknown_surface"
	ReasonNoCandidate    = "no_candidate"
	ReasonDegraded       = "degraded"
)

// Deps are the stores an engine orchestrates.
type Deps struct {
	Settings   *settings.Store
	Visibility *visibility.Store
	Feedback   *feedback.Recorder
	Metrics    *metrics.Aggregator
	Counters   *metrics.Counters
}

// Engine orchestrates the policy stages for a request.
type Engine struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine. Nil counters means metrics.Global.
func New(deps Deps, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Counters == nil {
		deps.Counters = metrics.Global
	}
	return &Engine{deps: deps, logger: logger, now: time.Now}
}

// Request asks whether a suggestion may be shown on a surface.
type Request struct {
	UserID     string
	Role       string
	Surface    policy.Surface
	Period     string
	Candidates []policy.Candidate
}

// Result is the evaluation outcome. Suggestion is nil when nothing may be
// shown.
type Result struct {
	Suggestion    *policy.Candidate `json:"suggestion"`
	ScopeKey      string            `json:"scopeKey,omitempty"`
	Reason        string            `json:"reason"`
	Policy        *policy.Settings  `json:"policy,omitempty"`
	NewImpression bool              `json:"newImpression"`
	Degraded      bool              `json:"degraded,omitempty"`
}

// Evaluate decides what, if anything, the surface shows. It never fails.
func (e *Engine) Evaluate(ctx context.Context, req Request) Result {
	start := e.now()
	c := e.deps.Counters
	c.Evaluations.Add(1)
	defer func() { c.LatencySumMs.Add(e.now().Sub(start).Milliseconds()) }()

	if !req.Surface.IsValid() {
		e.logger.Debug("suggestion evaluation skipped",
			"user_id", req.UserID,
			"error", &policy.ConfigurationError{Kind: "surface", Value: string(req.Surface)},
		)
		c.Empty.Add(1)
		return Result{Reason: ReasonUnknownSurface}
	}

	eff, err := e.deps.Settings.Resolve(ctx, req.UserID, req.Role)
	if err != nil {
		return e.degrade("resolve settings", req, err)
	}

	winner := filter.Select(req.Candidates, eff, req.Surface)
	if winner == nil {
		c.Empty.Add(1)
		return Result{Reason: ReasonNoCandidate, Policy: &eff}
	}

	period := req.Period
	if period == "" {
		period = start.Format(time.DateOnly)
	}
	scopeKey := visibility.MakeScopeKey(winner.Type, winner.Value, period)

	d, err := e.deps.Visibility.Evaluate(ctx, req.UserID, req.Surface, eff.Frequency, scopeKey, start)
	if err != nil {
		return e.degrade("evaluate visibility", req, err)
	}

	res := Result{ScopeKey: scopeKey, Reason: d.Reason, Policy: &eff, NewImpression: d.NewImpression}
	if !d.Show {
		c.Suppressed.Add(1)
		return res
	}
	c.Shown.Add(1)
	if d.NewImpression {
		c.Impressions.Add(1)
	}
	res.Suggestion = winner
	return res
}

func (e *Engine) degrade(op string, req Request, err error) Result {
	e.deps.Counters.StorageFailures.Add(1)
	e.logger.Warn("suggestion evaluation degraded",
		"op", op,
		"user_id", req.UserID,
		"surface", req.Surface,
		"error", err,
	)
	return Result{Reason: ReasonDegraded, Degraded: true}
}

// Ack acknowledges a feedback submission.
type Ack struct {
	ID        string `json:"id,omitempty"`
	Recorded  bool   `json:"recorded"`
	Degraded  bool   `json:"degraded,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Respond records a user's response. When the metadata names a surface and a
// scope key, the throttle moves SHOWN -> ACCEPTED or DISMISSED first. Only an
// invalid event is returned as an error; storage failures degrade the Ack.
func (e *Engine) Respond(ctx context.Context, ev feedback.Event) (Ack, error) {
	if err := ev.Validate(); err != nil {
		return Ack{}, err
	}
	now := e.now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	if ev.Metadata.Surface != "" && ev.Metadata.ScopeKey != "" {
		var err error
		if ev.Outcome == feedback.OutcomeAccepted {
			_, err = e.deps.Visibility.Accept(ctx, ev.UserID, ev.Metadata.Surface, ev.Metadata.ScopeKey, now)
		} else {
			_, err = e.deps.Visibility.Dismiss(ctx, ev.UserID, ev.Metadata.Surface, ev.Metadata.ScopeKey, now)
		}
		switch {
		case errors.Is(err, visibility.ErrTransitionConflict):
			// Another request already recorded this response.
			e.logger.Debug("duplicate suggestion response", "user_id", ev.UserID, "scope_key", ev.Metadata.ScopeKey)
			return Ack{Duplicate: true}, nil
		case errors.Is(err, visibility.ErrNotShown):
			e.logger.Debug("response for a suggestion not shown", "user_id", ev.UserID, "scope_key", ev.Metadata.ScopeKey)
		case err != nil:
			e.deps.Counters.StorageFailures.Add(1)
			e.logger.Warn("failed to update visibility", "user_id", ev.UserID, "error", err)
		}
	}

	id, err := e.deps.Feedback.Record(ctx, &ev)
	if err != nil {
		if policy.IsValidation(err) {
			return Ack{}, err
		}
		e.deps.Counters.StorageFailures.Add(1)
		return Ack{Degraded: true}, nil
	}

	if ev.Outcome == feedback.OutcomeAccepted {
		e.deps.Counters.FeedbackAccepted.Add(1)
	} else {
		e.deps.Counters.FeedbackRejected.Add(1)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.Invalidate(ctx, ev.UserID)
	}
	return Ack{ID: id, Recorded: true}, nil
}
