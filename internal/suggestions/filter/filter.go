// Package filter narrows generator candidates down to the single suggestion a
// surface may show.
//
// Steps, in order:
//  1. drop blocked values (category derived from the candidate type)
//  2. drop candidates below the confidence threshold
//  3. mode off: nothing
//  4. mode dashboard_only: nothing outside the dashboard
//  5. rank by surface priority, confidence, sample size
package filter

import (
	"cmp"
	"slices"

	"github.com/runger/tidum/internal/suggestions/policy"
)

// surfacePriority orders candidate types per surface. An exact prefill
// outranks a bulk-copy fallback. Types not listed rank after every listed one.
var surfacePriority = map[policy.Surface][]policy.CandidateType{
	policy.SurfaceDashboard: {
		policy.TypeProject, policy.TypeDescription, policy.TypeHours, policy.TypeBulkCopy,
	},
	policy.SurfaceTimeEntry: {
		policy.TypeProject, policy.TypeDescription, policy.TypeHours, policy.TypeBulkCopy,
	},
	policy.SurfaceCaseReport: {
		policy.TypeCaseID, policy.TypeTemplateCopy, policy.TypeDescription,
	},
	policy.SurfaceInvoice: {
		policy.TypeProject, policy.TypeHours, policy.TypeDescription,
	},
	policy.SurfaceRecurringEntry: {
		policy.TypeProject, policy.TypeDescription, policy.TypeHours,
	},
}

// Priority returns the rank of t on surface; lower ranks win.
func Priority(surface policy.Surface, t policy.CandidateType) int {
	order := surfacePriority[surface]
	if i := slices.Index(order, t); i >= 0 {
		return i
	}
	return len(order)
}

// Eligible applies the blocklist and the confidence threshold (steps 1-2).
// The input slice is not modified.
func Eligible(candidates []policy.Candidate, s policy.Settings) []policy.Candidate {
	out := make([]policy.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if cat, ok := policy.CategoryFor(c.Type); ok && s.Blocked.Contains(cat, c.Value) {
			continue
		}
		if c.Confidence < s.ConfidenceThreshold {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Rank returns every candidate that survives steps 1-4, best first.
func Rank(candidates []policy.Candidate, s policy.Settings, surface policy.Surface) []policy.Candidate {
	survivors := Eligible(candidates, s)
	if !s.SurfaceAllowed(surface) {
		return nil
	}
	slices.SortStableFunc(survivors, func(a, b policy.Candidate) int {
		return cmp.Or(
			cmp.Compare(Priority(surface, a.Type), Priority(surface, b.Type)),
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(b.SampleSize, a.SampleSize),
			cmp.Compare(a.Value, b.Value),
		)
	})
	return survivors
}

// Select returns the winning candidate, or nil when nothing may be shown.
// Callers must treat nil as "show nothing", never as an error.
func Select(candidates []policy.Candidate, s policy.Settings, surface policy.Surface) *policy.Candidate {
	ranked := Rank(candidates, s, surface)
	if len(ranked) == 0 {
		return nil
	}
	winner := ranked[0]
	return &winner
}
