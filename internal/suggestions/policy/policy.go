// Package policy defines the vocabulary shared by every stage of the
// suggestion policy engine: modes, frequencies, surfaces, candidate types,
// blocklist categories, presets and the effective settings a surface is
// evaluated against.
package policy

import (
	"slices"
	"time"
)

// Mode controls where suggestions may appear at all.
type Mode string

const (
	ModeOff           Mode = "off"
	ModeDashboardOnly Mode = "dashboard_only"
	ModeBalanced      Mode = "balanced"
	ModeProactive     Mode = "proactive"
)

// IsValid returns true if m is a recognized mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeOff, ModeDashboardOnly, ModeBalanced, ModeProactive:
		return true
	}
	return false
}

// Frequency controls how soon a dismissed suggestion may come back.
type Frequency string

const (
	FrequencyLow    Frequency = "low"
	FrequencyNormal Frequency = "normal"
	FrequencyHigh   Frequency = "high"
)

// IsValid returns true if f is a recognized frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyLow, FrequencyNormal, FrequencyHigh:
		return true
	}
	return false
}

// Surface is a UI location where a suggestion may appear.
type Surface string

const (
	SurfaceDashboard      Surface = "dashboard"
	SurfaceTimeEntry      Surface = "time_entry"
	SurfaceCaseReport     Surface = "case_report"
	SurfaceInvoice        Surface = "invoice"
	SurfaceRecurringEntry Surface = "recurring_entry"
)

// Surfaces lists every known surface.
func Surfaces() []Surface {
	return []Surface{SurfaceDashboard, SurfaceTimeEntry, SurfaceCaseReport, SurfaceInvoice, SurfaceRecurringEntry}
}

// IsValid returns true if s is a recognized surface.
func (s Surface) IsValid() bool {
	return slices.Contains(Surfaces(), s)
}

// CandidateType identifies what a candidate proposes.
type CandidateType string

const (
	TypeProject      CandidateType = "project"
	TypeDescription  CandidateType = "description"
	TypeHours        CandidateType = "hours"
	TypeBulkCopy     CandidateType = "bulk_copy"
	TypeTemplateCopy CandidateType = "template_copy"
	TypeCaseID       CandidateType = "case_id"
)

// Category names one of the three blocklist sets.
type Category string

const (
	CategoryProjects     Category = "projects"
	CategoryDescriptions Category = "descriptions"
	CategoryCaseIDs      Category = "caseIds"
)

// Categories lists every blocklist category.
func Categories() []Category {
	return []Category{CategoryProjects, CategoryDescriptions, CategoryCaseIDs}
}

// IsValid returns true if c is a recognized category.
func (c Category) IsValid() bool {
	return slices.Contains(Categories(), c)
}

// CategoryFor maps a candidate type to its blocklist category.
// Types without a category (hours, bulk copy) can never be blocked.
func CategoryFor(t CandidateType) (Category, bool) {
	switch t {
	case TypeProject:
		return CategoryProjects, true
	case TypeDescription:
		return CategoryDescriptions, true
	case TypeCaseID, TypeTemplateCopy:
		return CategoryCaseIDs, true
	}
	return "", false
}

// Candidate is a single scored recommendation from the external generator.
type Candidate struct {
	Type       CandidateType `json:"type"`
	Value      string        `json:"value"`
	Reason     string        `json:"reason,omitempty"`
	Confidence float64       `json:"confidence"`
	SampleSize int           `json:"sampleSize"`
}

// Blocklist holds the values a user never wants suggested again.
type Blocklist struct {
	Projects     []string `json:"projects"`
	Descriptions []string `json:"descriptions"`
	CaseIDs      []string `json:"caseIds"`
}

// Values returns the set for a category.
func (b Blocklist) Values(c Category) []string {
	switch c {
	case CategoryProjects:
		return b.Projects
	case CategoryDescriptions:
		return b.Descriptions
	case CategoryCaseIDs:
		return b.CaseIDs
	}
	return nil
}

// Contains reports whether value is blocked in category c.
func (b Blocklist) Contains(c Category, value string) bool {
	return slices.Contains(b.Values(c), value)
}

// Preset is the mode/frequency/threshold triple used by team defaults and
// user overrides.
type Preset struct {
	Mode                Mode      `json:"mode" yaml:"mode"`
	Frequency           Frequency `json:"frequency" yaml:"frequency"`
	ConfidenceThreshold float64   `json:"confidenceThreshold" yaml:"confidence_threshold"`
}

// BuiltinPreset is used when not even the "default" team preset exists.
func BuiltinPreset() Preset {
	return Preset{Mode: ModeBalanced, Frequency: FrequencyNormal, ConfidenceThreshold: 0.45}
}

// DefaultRole is the role whose preset applies to users of unknown roles.
const DefaultRole = "default"

// Source records which tier of the precedence chain produced a policy.
type Source string

const (
	SourceUserOverride  Source = "user_override"
	SourceRoleDefault   Source = "role_default"
	SourceGlobalDefault Source = "global_default"
	SourceBuiltin       Source = "builtin"
)

// Settings is the effective per-user suggestion configuration.
type Settings struct {
	UpdatedAt      time.Time `json:"updatedAt"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	Source         Source    `json:"source"`
	RolloutSource  string    `json:"rolloutSource"`
	RolloutVariant string    `json:"rolloutVariant"`
	Blocked        Blocklist `json:"blocked"`
	Preset
	UserOverride bool `json:"userOverride"`
}

// SurfaceAllowed applies the mode gate for a surface.
func (s Settings) SurfaceAllowed(surface Surface) bool {
	switch s.Mode {
	case ModeOff:
		return false
	case ModeDashboardOnly:
		return surface == SurfaceDashboard
	}
	return true
}
