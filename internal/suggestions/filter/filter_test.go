package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/tidum/internal/suggestions/policy"
)

func settingsWith(mode policy.Mode, threshold float64) policy.Settings {
	return policy.Settings{Preset: policy.Preset{Mode: mode, Frequency: policy.FrequencyNormal, ConfidenceThreshold: threshold}}
}

func TestSelect_ThresholdScenario(t *testing.T) {
	candidates := []policy.Candidate{{Type: policy.TypeProject, Value: "p1", Confidence: 0.40, SampleSize: 12}}

	assert.Nil(t, Select(candidates, settingsWith(policy.ModeBalanced, 0.45), policy.SurfaceTimeEntry))

	got := Select(candidates, settingsWith(policy.ModeBalanced, 0.35), policy.SurfaceTimeEntry)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.Value)
}

func TestSelect_BlockedValueIgnoresConfidence(t *testing.T) {
	s := settingsWith(policy.ModeProactive, 0)
	s.Blocked = policy.Blocklist{Projects: []string{"projectX"}}

	candidates := []policy.Candidate{{Type: policy.TypeProject, Value: "projectX", Confidence: 1, SampleSize: 1000}}
	assert.Nil(t, Select(candidates, s, policy.SurfaceDashboard))

	// Same value under another category is not blocked.
	candidates = append(candidates, policy.Candidate{Type: policy.TypeDescription, Value: "projectX", Confidence: 0.5})
	got := Select(candidates, s, policy.SurfaceDashboard)
	require.NotNil(t, got)
	assert.Equal(t, policy.TypeDescription, got.Type)
}

func TestSelect_ModeOff(t *testing.T) {
	candidates := []policy.Candidate{{Type: policy.TypeProject, Value: "p1", Confidence: 0.99}}
	for _, surface := range policy.Surfaces() {
		assert.Nil(t, Select(candidates, settingsWith(policy.ModeOff, 0), surface), surface)
	}
}

func TestSelect_DashboardOnly(t *testing.T) {
	candidates := []policy.Candidate{{Type: policy.TypeProject, Value: "p1", Confidence: 0.99}}
	s := settingsWith(policy.ModeDashboardOnly, 0)

	for _, surface := range policy.Surfaces() {
		got := Select(candidates, s, surface)
		if surface == policy.SurfaceDashboard {
			assert.NotNil(t, got)
		} else {
			assert.Nil(t, got, surface)
		}
	}
}

func TestSelect_PriorityBeatsConfidence(t *testing.T) {
	candidates := []policy.Candidate{
		{Type: policy.TypeBulkCopy, Value: "last-week", Confidence: 0.95, SampleSize: 50},
		{Type: policy.TypeProject, Value: "p1", Confidence: 0.60, SampleSize: 5},
	}
	got := Select(candidates, settingsWith(policy.ModeBalanced, 0.5), policy.SurfaceTimeEntry)
	require.NotNil(t, got)
	assert.Equal(t, policy.TypeProject, got.Type)
}

func TestRank_TieBreaks(t *testing.T) {
	candidates := []policy.Candidate{
		{Type: policy.TypeProject, Value: "b", Confidence: 0.8, SampleSize: 10},
		{Type: policy.TypeProject, Value: "a", Confidence: 0.8, SampleSize: 10},
		{Type: policy.TypeProject, Value: "c", Confidence: 0.8, SampleSize: 30},
		{Type: policy.TypeProject, Value: "d", Confidence: 0.9, SampleSize: 1},
	}
	ranked := Rank(candidates, settingsWith(policy.ModeBalanced, 0), policy.SurfaceDashboard)
	values := make([]string, len(ranked))
	for i, c := range ranked {
		values[i] = c.Value
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, values)
}

func TestRank_UnknownTypeRanksLast(t *testing.T) {
	candidates := []policy.Candidate{
		{Type: "weather", Value: "sunny", Confidence: 0.99},
		{Type: policy.TypeHours, Value: "7.5", Confidence: 0.5},
	}
	ranked := Rank(candidates, settingsWith(policy.ModeBalanced, 0), policy.SurfaceDashboard)
	require.Len(t, ranked, 2)
	assert.Equal(t, policy.TypeHours, ranked[0].Type)
}

func TestRank_MonotonicInThreshold(t *testing.T) {
	var candidates []policy.Candidate
	for i := 0; i <= 20; i++ {
		candidates = append(candidates, policy.Candidate{
			Type:       policy.TypeDescription,
			Value:      fmt.Sprintf("d%d", i),
			Confidence: float64(i) / 20,
		})
	}

	surface := policy.SurfaceTimeEntry
	prev := len(Rank(candidates, settingsWith(policy.ModeBalanced, 0), surface))
	for step := 1; step <= 20; step++ {
		threshold := float64(step) / 20
		n := len(Rank(candidates, settingsWith(policy.ModeBalanced, threshold), surface))
		assert.LessOrEqual(t, n, prev, "threshold %.2f", threshold)

		// Every survivor at the higher threshold also survives the lower one.
		higher := Rank(candidates, settingsWith(policy.ModeBalanced, threshold), surface)
		lower := Rank(candidates, settingsWith(policy.ModeBalanced, threshold-0.05), surface)
		for _, c := range higher {
			assert.Contains(t, lower, c)
		}
		prev = n
	}
}

func TestSelect_EmptyInput(t *testing.T) {
	assert.Nil(t, Select(nil, settingsWith(policy.ModeProactive, 0), policy.SurfaceInvoice))
}

func TestEligible_DoesNotMutateInput(t *testing.T) {
	candidates := []policy.Candidate{
		{Type: policy.TypeProject, Value: "low", Confidence: 0.1},
		{Type: policy.TypeProject, Value: "high", Confidence: 0.9},
	}
	_ = Rank(candidates, settingsWith(policy.ModeBalanced, 0.5), policy.SurfaceDashboard)
	assert.Equal(t, "low", candidates[0].Value)
	assert.Equal(t, "high", candidates[1].Value)
}
