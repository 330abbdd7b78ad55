// Package api exposes the suggestion policy engine over HTTP.
//
// Identity comes from the upstream gateway (X-User-ID, X-User-Role). Every
// user route answers for the calling user only; /api/admin routes require an
// administrator role.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runger/tidum/internal/suggestions/engine"
	"github.com/runger/tidum/internal/suggestions/feedback"
	"github.com/runger/tidum/internal/suggestions/generator"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/policy"
	"github.com/runger/tidum/internal/suggestions/settings"
)

// EvaluateRequest asks whether a surface may show a suggestion. Candidates
// come either from a raw generator payload or as a ready list; both are
// merged.
type EvaluateRequest struct {
	Payload    *generator.Payload `json:"payload,omitempty"`
	Surface    policy.Surface     `json:"surface"`
	Period     string             `json:"period,omitempty"`
	Candidates []policy.Candidate `json:"candidates,omitempty"`
}

// FeedbackRequest is the body of POST /api/suggestions/feedback.
type FeedbackRequest struct {
	Metadata       *feedback.Metadata   `json:"metadata,omitempty"`
	SuggestionType policy.CandidateType `json:"suggestionType"`
	Outcome        feedback.Outcome     `json:"outcome"`
	SuggestedValue string               `json:"suggestedValue,omitempty"`
	ChosenValue    string               `json:"chosenValue,omitempty"`
	Date           string               `json:"date,omitempty"`
	Month          string               `json:"month,omitempty"`
}

func (r *FeedbackRequest) period() string {
	if r.Date != "" {
		return r.Date
	}
	return r.Month
}

// UnblockRequest is the body of POST /api/suggestions/settings/unblock.
type UnblockRequest struct {
	Category policy.Category `json:"category"`
	Value    string          `json:"value"`
}

// TeamDefaultRequest is the body of PATCH /api/admin/suggestions/team-defaults.
type TeamDefaultRequest struct {
	Role   string        `json:"role"`
	Preset policy.Preset `json:"preset"`
}

// APIError is the error payload.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}

// ErrorEnvelope wraps every error response.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Handler provides HTTP handlers for the suggestions API.
type Handler struct {
	engine   *engine.Engine
	settings *settings.Store
	feedback *feedback.Recorder
	metrics  *metrics.Aggregator
	counters *metrics.Counters
	ping     func(context.Context) error
	logger   *slog.Logger
}

// HandlerDependencies contains required dependencies for the handler.
type HandlerDependencies struct {
	Engine   *engine.Engine
	Settings *settings.Store
	Feedback *feedback.Recorder
	Metrics  *metrics.Aggregator
	Counters *metrics.Counters
	// Ping checks storage for /healthcheck. Nil always reports healthy.
	Ping   func(context.Context) error
	Logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps HandlerDependencies) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Counters == nil {
		deps.Counters = metrics.Global
	}
	return &Handler{
		engine:   deps.Engine,
		settings: deps.Settings,
		feedback: deps.Feedback,
		metrics:  deps.Metrics,
		counters: deps.Counters,
		ping:     deps.Ping,
		logger:   deps.Logger,
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// IsAdmin decides access to /api/admin. Nil denies everyone.
	IsAdmin        func(role string) bool
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(h.logger))

	r.GET("/healthcheck", h.HealthCheck)
	r.GET("/debug/counters", h.DebugCounters)

	limiter := NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)

	api := r.Group("/api")
	api.Use(Identity())
	if opts.RequestTimeout > 0 {
		api.Use(Timeout(opts.RequestTimeout))
	}

	sugg := api.Group("/suggestions")
	{
		sugg.GET("/settings", h.GetSettings)
		sugg.PATCH("/settings", limiter.Middleware(), h.UpdateSettings)
		sugg.POST("/settings/reset-to-team-default", limiter.Middleware(), h.ResetSettings)
		sugg.POST("/settings/unblock", limiter.Middleware(), h.Unblock)
		sugg.POST("/feedback", limiter.Middleware(), h.RecordFeedback)
		sugg.GET("/feedback", h.ListFeedback)
		sugg.GET("/metrics", h.GetMetrics)
		sugg.POST("/evaluate", h.Evaluate)
	}

	admin := api.Group("/admin/suggestions")
	admin.Use(RequireAdmin(opts.IsAdmin))
	{
		admin.GET("/team-defaults", h.GetTeamDefaults)
		admin.PATCH("/team-defaults", limiter.Middleware(), h.UpdateTeamDefaults)
		admin.GET("/metrics", h.GetTeamMetrics)
	}

	return r
}

// GET /healthcheck
func (h *Handler) HealthCheck(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			h.logger.Warn("healthcheck failed", "error", err)
			respondError(c, http.StatusServiceUnavailable, "storage_unavailable", err)
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

// GET /debug/counters
func (h *Handler) DebugCounters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"counters":                    h.counters.Snapshot(),
		"average_evaluate_latency_ms": h.counters.AverageEvaluateLatencyMs(),
		"metrics_cache_hit_rate":      h.counters.CacheHitRate(),
	})
}

// GET /api/suggestions/settings
func (h *Handler) GetSettings(c *gin.Context) {
	id := identityFrom(c)
	s, err := h.settings.Resolve(c.Request.Context(), id.UserID, id.Role)
	if err != nil {
		h.fail(c, "resolve settings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// PATCH /api/suggestions/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch settings.Patch
	if !bindJSON(c, &patch) {
		return
	}
	id := identityFrom(c)
	s, err := h.settings.UpdateSettings(c.Request.Context(), id.UserID, id.Role, patch)
	if err != nil {
		h.fail(c, "update settings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// POST /api/suggestions/settings/reset-to-team-default
func (h *Handler) ResetSettings(c *gin.Context) {
	id := identityFrom(c)
	s, err := h.settings.ResetToTeamDefault(c.Request.Context(), id.UserID, id.Role)
	if err != nil {
		h.fail(c, "reset settings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// POST /api/suggestions/settings/unblock
func (h *Handler) Unblock(c *gin.Context) {
	var req UnblockRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.checkResult(c, ValidateUnblockRequest(&req)) {
		return
	}
	id := identityFrom(c)
	bl, err := h.feedback.Unblock(c.Request.Context(), id.UserID, req.Category, req.Value)
	if err != nil {
		h.fail(c, "unblock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": bl})
}

// POST /api/suggestions/feedback
//
// Storage failures are not errors here: the response is 200 with
// recorded=false and degraded=true so the calling UI never blocks on it.
func (h *Handler) RecordFeedback(c *gin.Context) {
	var req FeedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.checkResult(c, ValidateFeedbackRequest(&req)) {
		return
	}
	id := identityFrom(c)
	ev := feedback.Event{
		UserID:         id.UserID,
		Role:           id.Role,
		SuggestionType: req.SuggestionType,
		Outcome:        req.Outcome,
		SuggestedValue: req.SuggestedValue,
		ChosenValue:    req.ChosenValue,
		Period:         req.period(),
	}
	if req.Metadata != nil {
		ev.Metadata = *req.Metadata
	}

	ack, err := h.engine.Respond(c.Request.Context(), ev)
	if err != nil {
		h.fail(c, "record feedback", err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// GET /api/suggestions/feedback?limit=
func (h *Handler) ListFeedback(c *gin.Context) {
	limit, result := ClampLimit(c.Query("limit"))
	if !h.checkResult(c, result) {
		return
	}
	events, err := h.feedback.List(c.Request.Context(), identityFrom(c).UserID, limit)
	if err != nil {
		h.fail(c, "list feedback", err)
		return
	}
	if events == nil {
		events = []feedback.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GET /api/suggestions/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	m, err := h.metrics.Compute(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		h.fail(c, "compute metrics", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// POST /api/suggestions/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.checkResult(c, ValidateEvaluateRequest(&req)) {
		return
	}

	candidates := req.Candidates
	if req.Payload != nil {
		fromPayload, err := req.Payload.Candidates()
		if err != nil {
			respondValidation(c, &policy.ValidationError{Field: "payload", Message: err.Error()})
			return
		}
		candidates = append(candidates, fromPayload...)
	}

	id := identityFrom(c)
	res := h.engine.Evaluate(c.Request.Context(), engine.Request{
		UserID:     id.UserID,
		Role:       id.Role,
		Surface:    req.Surface,
		Period:     req.Period,
		Candidates: candidates,
	})
	c.JSON(http.StatusOK, res)
}

// GET /api/admin/suggestions/team-defaults
func (h *Handler) GetTeamDefaults(c *gin.Context) {
	presets, err := h.settings.TeamDefaults(c.Request.Context())
	if err != nil {
		h.fail(c, "list team defaults", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teamDefaults": presets})
}

// PATCH /api/admin/suggestions/team-defaults
func (h *Handler) UpdateTeamDefaults(c *gin.Context) {
	var req TeamDefaultRequest
	if !bindJSON(c, &req) {
		return
	}
	presets, err := h.settings.SetTeamDefault(c.Request.Context(), req.Role, req.Preset, identityFrom(c).UserID)
	if err != nil {
		h.fail(c, "set team default", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teamDefaults": presets})
}

// GET /api/admin/suggestions/metrics?role=
func (h *Handler) GetTeamMetrics(c *gin.Context) {
	role := c.Query("role")
	m, err := h.metrics.ComputeTeam(c.Request.Context(), role)
	if err != nil {
		h.fail(c, "compute team metrics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "metrics": m})
}

// checkResult logs clamping warnings and answers 400 on the first error.
func (h *Handler) checkResult(c *gin.Context, result *ValidationResult) bool {
	result.LogWarnings(h.logger)
	if ve := result.FirstError(); ve != nil {
		respondValidation(c, ve)
		return false
	}
	return true
}

// fail maps a store error to its status: 400 for validation, 503 for
// storage, 500 otherwise.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	var ve *policy.ValidationError
	switch {
	case errors.As(err, &ve):
		respondValidation(c, ve)
	case errors.Is(err, policy.ErrStorageUnavailable):
		h.counters.StorageFailures.Add(1)
		h.logger.Warn("suggestion storage unavailable", "op", op, "error", err)
		respondError(c, http.StatusServiceUnavailable, "storage_unavailable", errors.New("suggestion storage unavailable"))
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "timeout", err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		respondError(c, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return false
	}
	return true
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func respondValidation(c *gin.Context, ve *policy.ValidationError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorEnvelope{Error: APIError{
		Message: ve.Error(),
		Code:    "invalid_argument",
		Field:   ve.Field,
	}})
}
