// Package generator decodes the external candidate generator's payload into
// policy candidates.
package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/runger/tidum/internal/suggestions/policy"
)

// Field is one scored suggestion in the payload.
type Field struct {
	Value      json.RawMessage `json:"value"`
	Reason     string          `json:"reason,omitempty"`
	Confidence float64         `json:"confidence"`
	SampleSize int             `json:"sampleSize"`
}

// Personalization summarizes the feedback the generator already took into
// account.
type Personalization struct {
	AcceptanceRate *float64       `json:"acceptanceRate"`
	FeedbackByType map[string]any `json:"feedbackByType,omitempty"`
	TotalFeedback  int            `json:"totalFeedback"`
}

// PolicyHint echoes the policy the generator was asked to respect.
type PolicyHint struct {
	ConfidenceThreshold *float64    `json:"confidenceThreshold,omitempty"`
	Mode                policy.Mode `json:"mode,omitempty"`
	Source              string      `json:"source,omitempty"`
}

// Payload is the generator response for one surface.
type Payload struct {
	Suggestion      map[string]Field `json:"suggestion"`
	Personalization *Personalization `json:"personalization,omitempty"`
	Policy          *PolicyHint      `json:"policy,omitempty"`
	AnalyzedEntries int              `json:"analyzedEntries,omitempty"`
	AnalyzedReports int              `json:"analyzedReports,omitempty"`
}

// fieldTypes maps payload field names to candidate types. Unknown names are
// kept verbatim as their own type.
var fieldTypes = map[string]policy.CandidateType{
	"project":      policy.TypeProject,
	"projectId":    policy.TypeProject,
	"description":  policy.TypeDescription,
	"hours":        policy.TypeHours,
	"bulkCopy":     policy.TypeBulkCopy,
	"templateCopy": policy.TypeTemplateCopy,
	"caseId":       policy.TypeCaseID,
}

// TypeFor returns the candidate type for a payload field name.
func TypeFor(field string) policy.CandidateType {
	if t, ok := fieldTypes[field]; ok {
		return t
	}
	return policy.CandidateType(field)
}

// Decode parses a raw payload.
func Decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode generator payload: %w", err)
	}
	return &p, nil
}

// Candidates flattens the payload into candidates sorted by field name.
// Fields with a null or empty value are skipped. Confidence is clamped to
// [0,1] and NaN counts as 0.
func (p *Payload) Candidates() ([]policy.Candidate, error) {
	if p == nil {
		return nil, nil
	}
	names := make([]string, 0, len(p.Suggestion))
	for name := range p.Suggestion {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]policy.Candidate, 0, len(names))
	for _, name := range names {
		f := p.Suggestion[name]
		value, err := valueString(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		if value == "" {
			continue
		}
		out = append(out, policy.Candidate{
			Type:       TypeFor(name),
			Value:      value,
			Reason:     f.Reason,
			Confidence: clamp(f.Confidence),
			SampleSize: max(f.SampleSize, 0),
		})
	}
	return out, nil
}

// valueString renders a JSON value as the string the blocklist and scope key
// compare against: strings unquoted, numbers in shortest form, anything else
// as compact JSON.
func valueString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return strconv.FormatFloat(n, 'f', -1, 64), nil
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	return math.Min(c, 1)
}
