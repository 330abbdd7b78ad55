package api

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/runger/tidum/internal/suggestions/blocklist"
	"github.com/runger/tidum/internal/suggestions/policy"
)

// Request limits.
const (
	MaxUserIDLen     = 128
	MaxRoleLen       = 64
	MaxCandidates    = 64
	MaxTypeLen       = 64
	MaxReasonLen     = 512
	MaxPlacementLen  = 128
	MaxScopeKeyLen   = 256
	MaxMetadataKeys  = 32
	MaxRequestIDLen  = 128
	MaxBodyBytes     = 256 << 10
	MinLimit         = 1
	MaxLimit         = 100
	DefaultLimit     = 20
	errExceedsMaxFmt = "exceeds max length %d"
)

// userIDPattern matches opaque gateway identities: letters, digits and
// -_.@: separators.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:-]*$`)

// periodPattern is a day (2026-01-24) or a month (2026-01).
var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?$`)

// ValidationResult holds the result of validating a request.
// It collects hard errors (which block processing) and warnings
// (where values were clamped to valid ranges).
type ValidationResult struct {
	Errors   []policy.ValidationError
	Warnings []ValidationWarning
}

// ValidationWarning is logged but does not reject the request.
// The offending value is clamped to a valid range instead.
type ValidationWarning struct {
	Field   string
	Message string
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// FirstError returns the first validation error, or nil.
func (r *ValidationResult) FirstError() *policy.ValidationError {
	if len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[0]
}

func (r *ValidationResult) addError(field, message string) {
	r.Errors = append(r.Errors, policy.ValidationError{Field: field, Message: message})
}

func (r *ValidationResult) addWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message})
}

// LogWarnings logs all warnings to the given logger.
func (r *ValidationResult) LogWarnings(logger *slog.Logger) {
	for _, w := range r.Warnings {
		logger.Warn("input validation clamped value",
			"field", w.Field,
			"detail", w.Message,
		)
	}
}

// ValidateIdentity checks the gateway headers.
func ValidateIdentity(userID, role string) *ValidationResult {
	result := &ValidationResult{}
	switch {
	case userID == "":
		result.addError("userId", "is required")
	case len(userID) > MaxUserIDLen:
		result.addError("userId", fmt.Sprintf(errExceedsMaxFmt, MaxUserIDLen))
	case !userIDPattern.MatchString(userID):
		result.addError("userId", "contains invalid characters")
	}
	if len(role) > MaxRoleLen {
		result.addError("role", fmt.Sprintf(errExceedsMaxFmt, MaxRoleLen))
	}
	return result
}

// ValidateEvaluateRequest validates an evaluation request. Candidate
// confidences are clamped in place. An unknown surface is not an error; the
// engine answers it with "nothing to show".
func ValidateEvaluateRequest(req *EvaluateRequest) *ValidationResult {
	result := &ValidationResult{}

	if req.Surface == "" {
		result.addError("surface", "is required")
	}
	validatePeriod(result, req.Period)

	if len(req.Candidates) > MaxCandidates {
		result.addError("candidates", fmt.Sprintf("exceeds max count %d", MaxCandidates))
		return result
	}
	if req.Payload != nil && len(req.Payload.Suggestion) > MaxCandidates {
		result.addError("payload.suggestion", fmt.Sprintf("exceeds max count %d", MaxCandidates))
		return result
	}

	for i := range req.Candidates {
		validateCandidate(result, "candidates["+strconv.Itoa(i)+"]", &req.Candidates[i])
	}
	return result
}

func validateCandidate(result *ValidationResult, field string, c *policy.Candidate) {
	if c.Type == "" {
		result.addError(field+".type", "is required")
	} else if len(c.Type) > MaxTypeLen {
		result.addError(field+".type", fmt.Sprintf(errExceedsMaxFmt, MaxTypeLen))
	}
	if len(c.Value) > blocklist.MaxValueLen {
		result.addError(field+".value", fmt.Sprintf(errExceedsMaxFmt, blocklist.MaxValueLen))
	}
	if len(c.Reason) > MaxReasonLen {
		c.Reason = truncateUTF8(c.Reason, MaxReasonLen)
		result.addWarning(field+".reason", fmt.Sprintf("truncated to %d bytes", MaxReasonLen))
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 {
		result.addWarning(field+".confidence", fmt.Sprintf("clamped %v to 0", c.Confidence))
		c.Confidence = 0
	} else if c.Confidence > 1 {
		result.addWarning(field+".confidence", fmt.Sprintf("clamped %v to 1", c.Confidence))
		c.Confidence = 1
	}
	if c.SampleSize < 0 {
		result.addWarning(field+".sampleSize", fmt.Sprintf("clamped %d to 0", c.SampleSize))
		c.SampleSize = 0
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ValidateFeedbackRequest checks the transport-level limits of a feedback
// body. Domain rules are enforced by feedback.Event.Validate.
func ValidateFeedbackRequest(req *FeedbackRequest) *ValidationResult {
	result := &ValidationResult{}
	if req.Date != "" && req.Month != "" {
		result.addError("date", "date and month are mutually exclusive")
	}
	validatePeriod(result, req.period())
	if req.Metadata != nil {
		if len(req.Metadata.Placement) > MaxPlacementLen {
			result.addError("metadata.placement", fmt.Sprintf(errExceedsMaxFmt, MaxPlacementLen))
		}
		if len(req.Metadata.ScopeKey) > MaxScopeKeyLen {
			result.addError("metadata.scopeKey", fmt.Sprintf(errExceedsMaxFmt, MaxScopeKeyLen))
		}
		if len(req.Metadata.Extra) > MaxMetadataKeys {
			result.addError("metadata", fmt.Sprintf("exceeds max count %d of extra keys", MaxMetadataKeys))
		}
	}
	return result
}

// ValidateUnblockRequest validates an unblock body.
func ValidateUnblockRequest(req *UnblockRequest) *ValidationResult {
	result := &ValidationResult{}
	if !req.Category.IsValid() {
		result.addError("category", fmt.Sprintf("unknown category %q", req.Category))
	}
	if strings.TrimSpace(req.Value) == "" {
		result.addError("value", "is required")
	} else if len(req.Value) > blocklist.MaxValueLen {
		result.addError("value", fmt.Sprintf(errExceedsMaxFmt, blocklist.MaxValueLen))
	}
	return result
}

// ClampLimit parses a list limit, clamping it to [MinLimit, MaxLimit].
// An empty value yields DefaultLimit; garbage is an error.
func ClampLimit(raw string) (int, *ValidationResult) {
	result := &ValidationResult{}
	if raw == "" {
		return DefaultLimit, result
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		result.addError("limit", "must be an integer")
		return 0, result
	}
	switch {
	case n < MinLimit:
		result.addWarning("limit", fmt.Sprintf("clamped %d to %d", n, MinLimit))
		n = MinLimit
	case n > MaxLimit:
		result.addWarning("limit", fmt.Sprintf("clamped %d to %d", n, MaxLimit))
		n = MaxLimit
	}
	return n, result
}

// SanitizeRequestID keeps a caller-provided request ID only when it is short
// and printable.
func SanitizeRequestID(id string) string {
	if id == "" || len(id) > MaxRequestIDLen {
		return ""
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return id
}

func validatePeriod(result *ValidationResult, period string) {
	if period != "" && !periodPattern.MatchString(period) {
		result.addError("period", "must be YYYY-MM or YYYY-MM-DD")
	}
}
