package metrics

import (
	"sync/atomic"
)

// Counters holds atomic observability counters for the policy engine.
// All fields use sync/atomic for lock-free concurrent access.
type Counters struct {
	Evaluations      atomic.Int64 // total evaluate calls
	Shown            atomic.Int64 // evaluations that surfaced a suggestion
	Impressions      atomic.Int64 // real transitions into shown
	Suppressed       atomic.Int64 // winner hidden by the throttle
	Empty            atomic.Int64 // nothing survived the filter
	FeedbackAccepted atomic.Int64 // accepted feedback events
	FeedbackRejected atomic.Int64 // rejected feedback events
	StorageFailures  atomic.Int64 // operations degraded on ErrStorageUnavailable
	CacheHits        atomic.Int64 // metrics cache hits
	CacheMisses      atomic.Int64 // metrics cache misses
	LatencySumMs     atomic.Int64 // cumulative evaluate latency for average calculation
}

// Global is the process-wide counters singleton.
var Global = &Counters{}

// Snapshot returns a point-in-time copy of all counters as a string-keyed map.
// The snapshot is consistent per-field but not across fields.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"evaluations":       c.Evaluations.Load(),
		"shown":             c.Shown.Load(),
		"impressions":       c.Impressions.Load(),
		"suppressed":        c.Suppressed.Load(),
		"empty":             c.Empty.Load(),
		"feedback_accepted": c.FeedbackAccepted.Load(),
		"feedback_rejected": c.FeedbackRejected.Load(),
		"storage_failures":  c.StorageFailures.Load(),
		"cache_hits":        c.CacheHits.Load(),
		"cache_misses":      c.CacheMisses.Load(),
		"latency_sum_ms":    c.LatencySumMs.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Evaluations.Store(0)
	c.Shown.Store(0)
	c.Impressions.Store(0)
	c.Suppressed.Store(0)
	c.Empty.Store(0)
	c.FeedbackAccepted.Store(0)
	c.FeedbackRejected.Store(0)
	c.StorageFailures.Store(0)
	c.CacheHits.Store(0)
	c.CacheMisses.Store(0)
	c.LatencySumMs.Store(0)
}

// AverageEvaluateLatencyMs returns the mean evaluate latency in milliseconds.
// Returns 0 if no evaluations have been recorded.
func (c *Counters) AverageEvaluateLatencyMs() float64 {
	n := c.Evaluations.Load()
	if n == 0 {
		return 0
	}
	return float64(c.LatencySumMs.Load()) / float64(n)
}

// CacheHitRate returns the metrics cache hit rate as a fraction in [0, 1].
// Returns 0 if no lookups have been recorded.
func (c *Counters) CacheHitRate() float64 {
	hits := c.CacheHits.Load()
	total := hits + c.CacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
