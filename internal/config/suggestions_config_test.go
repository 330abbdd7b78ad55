package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/runger/tidum/internal/suggestions/feedback"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/policy"
	"github.com/runger/tidum/internal/suggestions/settings"
	"github.com/runger/tidum/internal/suggestions/visibility"
)

// ============================================================================
// Defaults must agree with the package defaults they feed
// ============================================================================

func TestDefaultSuggestionsConfig_MatchesPackages(t *testing.T) {
	s := DefaultSuggestionsConfig()

	if got, want := s.VisibilityConfig(), visibility.DefaultConfig(); !reflect.DeepEqual(got, want) {
		t.Errorf("VisibilityConfig() = %v, want %v", got, want)
	}
	if got, want := s.SettingsConfig(), settings.DefaultConfig(); !reflect.DeepEqual(got, want) {
		t.Errorf("SettingsConfig() = %v, want %v", got, want)
	}
	if got, want := s.FeedbackConfig(), feedback.DefaultConfig(); got != want {
		t.Errorf("FeedbackConfig() = %v, want %v", got, want)
	}
	if got, want := s.MetricsConfig(), metrics.DefaultConfig(); !reflect.DeepEqual(got, want) {
		t.Errorf("MetricsConfig() = %+v, want %+v", got, want)
	}
}

func TestDefaultSuggestionsConfig_Cooldowns(t *testing.T) {
	s := DefaultSuggestionsConfig()

	assertInt(t, "CooldownLowMins", s.CooldownLowMins, 1440)
	assertInt(t, "CooldownNormalMins", s.CooldownNormalMins, 240)
	assertInt(t, "CooldownHighMins", s.CooldownHighMins, 0)
	if err := s.VisibilityConfig().Validate(); err != nil {
		t.Errorf("default cooldowns should validate: %v", err)
	}
}

func TestVisibilityConfig_Converts(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.CooldownLowMins = 90
	s.CooldownNormalMins = 15
	s.CooldownHighMins = 1

	cfg := s.VisibilityConfig()
	if got := cfg.Cooldown(policy.FrequencyLow); got != 90*time.Minute {
		t.Errorf("low cooldown = %v, want 90m", got)
	}
	if got := cfg.Cooldown(policy.FrequencyNormal); got != 15*time.Minute {
		t.Errorf("normal cooldown = %v, want 15m", got)
	}
	if got := cfg.Cooldown(policy.FrequencyHigh); got != time.Minute {
		t.Errorf("high cooldown = %v, want 1m", got)
	}
}

func TestSettingsConfig_ClonesVariants(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.RolloutVariants = []string{"control", "treatment"}

	cfg := s.SettingsConfig()
	cfg.Variants[0] = "mutated"
	if s.RolloutVariants[0] != "control" {
		t.Error("SettingsConfig should not alias RolloutVariants")
	}
}

func TestMetricsConfig_Converts(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.TimeSavedMinutes = map[string]int{"project": 2, "vendor": 3}
	s.PreventedTypes = []string{"template_copy"}
	s.MetricsWindowDays = 30
	s.MetricsCacheTTLSecs = 15

	cfg := s.MetricsConfig()
	if cfg.TimeSavedMinutes[policy.TypeProject] != 2 || cfg.TimeSavedMinutes["vendor"] != 3 {
		t.Errorf("TimeSavedMinutes = %v", cfg.TimeSavedMinutes)
	}
	if len(cfg.TimeSavedMinutes) != 2 {
		t.Errorf("TimeSavedMinutes should replace the defaults, got %v", cfg.TimeSavedMinutes)
	}
	if !reflect.DeepEqual(cfg.Prevented, []policy.CandidateType{policy.TypeTemplateCopy}) {
		t.Errorf("Prevented = %v", cfg.Prevented)
	}
	if cfg.Window != 30*24*time.Hour {
		t.Errorf("Window = %v", cfg.Window)
	}
	if cfg.TTL != 15*time.Second {
		t.Errorf("TTL = %v", cfg.TTL)
	}
}

func TestMetricsConfig_NilTablesKeepDefaults(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.TimeSavedMinutes = nil
	s.PreventedTypes = nil

	cfg := s.MetricsConfig()
	def := metrics.DefaultConfig()
	if !reflect.DeepEqual(cfg.TimeSavedMinutes, def.TimeSavedMinutes) {
		t.Errorf("TimeSavedMinutes = %v, want defaults", cfg.TimeSavedMinutes)
	}
	if !reflect.DeepEqual(cfg.Prevented, def.Prevented) {
		t.Errorf("Prevented = %v, want defaults", cfg.Prevented)
	}
}

// ============================================================================
// ValidateAndFix
// ============================================================================

func TestValidateAndFix_DefaultsProduceNoWarnings(t *testing.T) {
	s := DefaultSuggestionsConfig()
	warnings := s.ValidateAndFix()
	if len(warnings) != 0 {
		t.Errorf("DefaultSuggestionsConfig should produce no warnings, got %d:", len(warnings))
		for _, w := range warnings {
			t.Errorf("  %s: %s", w.Field, w.Message)
		}
	}
}

func TestValidateAndFix_NegativeCooldown(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.CooldownNormalMins = -10

	warnings := s.ValidateAndFix()
	assertWarningPresent(t, warnings, "cooldown_normal_mins")
	assertInt(t, "CooldownNormalMins", s.CooldownNormalMins, 240)
	assertNoWarning(t, warnings, "cooldown_*_mins")
}

func TestValidateAndFix_CooldownOrdering(t *testing.T) {
	tests := []struct {
		name                string
		low, normal, high   int
		wantWarning         bool
		wantLow, wantNormal int
	}{
		{"ordered", 600, 60, 0, false, 600, 60},
		{"all equal", 30, 30, 30, false, 30, 30},
		{"low below normal", 60, 600, 0, true, 1440, 240},
		{"high above normal", 600, 60, 120, true, 1440, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSuggestionsConfig()
			s.CooldownLowMins, s.CooldownNormalMins, s.CooldownHighMins = tt.low, tt.normal, tt.high

			warnings := s.ValidateAndFix()
			if tt.wantWarning {
				assertWarningPresent(t, warnings, "cooldown_*_mins")
			} else {
				assertNoWarning(t, warnings, "cooldown_*_mins")
			}
			assertInt(t, "CooldownLowMins", s.CooldownLowMins, tt.wantLow)
			assertInt(t, "CooldownNormalMins", s.CooldownNormalMins, tt.wantNormal)
			if err := s.VisibilityConfig().Validate(); err != nil {
				t.Errorf("fixed cooldowns should validate: %v", err)
			}
		})
	}
}

func TestValidateAndFix_Counts(t *testing.T) {
	defaults := DefaultSuggestionsConfig()
	tests := []struct {
		modify func(*SuggestionsConfig)
		check  func(*SuggestionsConfig) int
		field  string
		defVal int
	}{
		{func(s *SuggestionsConfig) { s.MetricsWindowDays = 0 }, func(s *SuggestionsConfig) int { return s.MetricsWindowDays }, "metrics_window_days", defaults.MetricsWindowDays},
		{func(s *SuggestionsConfig) { s.MetricsCacheTTLSecs = -1 }, func(s *SuggestionsConfig) int { return s.MetricsCacheTTLSecs }, "metrics_cache_ttl_secs", defaults.MetricsCacheTTLSecs},
		{func(s *SuggestionsConfig) { s.MetricsCacheSize = 0 }, func(s *SuggestionsConfig) int { return s.MetricsCacheSize }, "metrics_cache_size", defaults.MetricsCacheSize},
		{func(s *SuggestionsConfig) { s.FeedbackMaxAttempts = -2 }, func(s *SuggestionsConfig) int { return s.FeedbackMaxAttempts }, "feedback_max_attempts", defaults.FeedbackMaxAttempts},
		{func(s *SuggestionsConfig) { s.FeedbackRetryDelayMs = -2 }, func(s *SuggestionsConfig) int { return s.FeedbackRetryDelayMs }, "feedback_retry_delay_ms", defaults.FeedbackRetryDelayMs},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			s := DefaultSuggestionsConfig()
			tt.modify(&s)
			warnings := s.ValidateAndFix()
			assertWarningPresent(t, warnings, tt.field)
			if got := tt.check(&s); got != tt.defVal {
				t.Errorf("after validation, %s = %d, want default %d", tt.field, got, tt.defVal)
			}
		})
	}
}

func TestValidateAndFix_BackendAndVariants(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.MetricsBackend = "memcached"
	s.RolloutVariants = nil

	warnings := s.ValidateAndFix()
	assertWarningPresent(t, warnings, "metrics_backend")
	assertWarningPresent(t, warnings, "rollout_variants")
	assertStr(t, "MetricsBackend", s.MetricsBackend, "memory")
	if len(s.RolloutVariants) != 1 || s.RolloutVariants[0] != "control" {
		t.Errorf("RolloutVariants = %v, want [control]", s.RolloutVariants)
	}
}

func TestValidateAndFix_NegativeTimeSaved(t *testing.T) {
	s := DefaultSuggestionsConfig()
	s.TimeSavedMinutes["bulk_copy"] = -5

	warnings := s.ValidateAndFix()
	assertWarningPresent(t, warnings, "time_saved_minutes.bulk_copy")
	assertInt(t, "TimeSavedMinutes[bulk_copy]", s.TimeSavedMinutes["bulk_copy"], 0)
}

func TestLoadFromFile_FixesSuggestionTunables(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
suggestions:
  cooldown_low_mins: 10
  cooldown_normal_mins: 20
  metrics_backend: bogus
`
	if err := os.WriteFile(configFile, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("invalid tunables must not prevent startup: %v", err)
	}
	assertInt(t, "CooldownLowMins", cfg.Suggestions.CooldownLowMins, 1440)
	assertInt(t, "CooldownNormalMins", cfg.Suggestions.CooldownNormalMins, 240)
	assertStr(t, "MetricsBackend", cfg.Suggestions.MetricsBackend, "memory")
}

// ============================================================================
// Helpers
// ============================================================================

func assertInt(t *testing.T, name string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %d, want %d", name, got, want)
	}
}

func assertStr(t *testing.T, name string, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}

func assertWarningPresent(t *testing.T, warnings []ValidationWarning, field string) {
	t.Helper()
	for _, w := range warnings {
		if w.Field == field {
			return
		}
	}
	t.Errorf("expected warning for field %q, but none found", field)
}

func assertNoWarning(t *testing.T, warnings []ValidationWarning, field string) {
	t.Helper()
	for _, w := range warnings {
		if w.Field == field {
			t.Errorf("unexpected warning for field %q: %s", field, w.Message)
			return
		}
	}
}
