package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Gateway headers.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"
)

const (
	ctxKeyIdentity  = "tidum.identity"
	ctxKeyRequestID = "tidum.request_id"
)

// identity is the caller as asserted by the gateway.
type identity struct {
	UserID string
	Role   string
}

func identityFrom(c *gin.Context) identity {
	if v, ok := c.Get(ctxKeyIdentity); ok {
		if id, ok := v.(identity); ok {
			return id
		}
	}
	return identity{}
}

// RequestID propagates X-Request-ID or assigns a fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := SanitizeRequestID(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Identity rejects requests without a valid X-User-ID. Roles are matched
// case-insensitively.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole)))
		if ve := ValidateIdentity(userID, role).FirstError(); ve != nil {
			respondError(c, http.StatusUnauthorized, "unauthenticated", ve)
			return
		}
		c.Set(ctxKeyIdentity, identity{UserID: userID, Role: role})
		c.Next()
	}
}

// RequireAdmin allows the request only when isAdmin accepts the caller's role.
func RequireAdmin(isAdmin func(role string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin == nil || !isAdmin(identityFrom(c).Role) {
			respondError(c, http.StatusForbidden, "forbidden", errors.New("administrator role required"))
			return
		}
		c.Next()
	}
}

// Timeout bounds the request context.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs one line per request; the level follows the status.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.GetString(ctxKeyRequestID); id != "" {
			fields = append(fields, "request_id", id)
		}
		if id := identityFrom(c); id.UserID != "" {
			fields = append(fields, "user_id", id.UserID)
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", fields...)
		case status >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}

// limiterIdleTTL is how long an unused per-user bucket is kept.
const limiterIdleTTL = 10 * time.Minute

// RateLimiter holds one token bucket per user.
type RateLimiter struct {
	buckets   map[string]*bucket
	now       func() time.Time
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	mu        sync.Mutex
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per user with the given
// burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether userID may make a request now.
func (l *RateLimiter) Allow(userID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware answers 429 once the caller's bucket is empty.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(identityFrom(c).UserID) {
			respondError(c, http.StatusTooManyRequests, "rate_limited", errors.New("too many requests"))
			return
		}
		c.Next()
	}
}
