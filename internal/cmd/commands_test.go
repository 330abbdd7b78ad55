package cmd

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/runger/tidum/internal/config"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/policy"
)

func TestRootCmd_HasCommands(t *testing.T) {
	want := []string{"settings", "team-defaults", "block", "unblock", "feedback", "metrics", "config", "doctor", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command is missing %q", name)
		}
	}
}

func TestSettingsCmd_ShowSetReset(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "settings", "show", "--user", "u1", "--role", "Consultant", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var got policy.Settings
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("show output is not JSON: %v\n%s", err, out)
	}
	if got.UserID != "u1" || got.Source != policy.SourceGlobalDefault {
		t.Errorf("show = %+v, want u1 from the global default", got)
	}

	out, err = execute(t, "settings", "set", "--user", "u1", "--mode", "dashboard_only")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out, "dashboard_only") || !strings.Contains(out, "user_override") {
		t.Errorf("set output = %q, want the new mode and its source", out)
	}

	out, err = execute(t, "settings", "reset", "--user", "u1", "--json")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("reset output is not JSON: %v", err)
	}
	if got.UserOverride || got.Mode != policy.ModeBalanced {
		t.Errorf("after reset = %+v, want the default preset", got)
	}
}

func TestSettingsCmd_SetRequiresAChange(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "settings", "set", "--user", "u1")
	if err == nil || !strings.Contains(err.Error(), "nothing to change") {
		t.Errorf("err = %v, want nothing to change", err)
	}
}

func TestSettingsCmd_SetRejectsInvalidValue(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "settings", "set", "--user", "u1", "--threshold", "2")
	if !policy.IsValidation(err) {
		t.Errorf("err = %v, want a validation error", err)
	}
}

func TestSettingsCmd_RequiresUser(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "settings", "show"); err == nil {
		t.Error("expected an error without --user")
	}
}

func TestTeamDefaultsCmd_SetAndList(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "team-defaults", "set", "Lawyer", "--mode", "proactive", "--frequency", "high", "--threshold", "0.3", "--actor", "test")
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	out, err := execute(t, "team-defaults", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var presets map[string]policy.Preset
	if err := json.Unmarshal([]byte(out), &presets); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	want := policy.Preset{Mode: policy.ModeProactive, Frequency: policy.FrequencyHigh, ConfidenceThreshold: 0.3}
	if presets["lawyer"] != want {
		t.Errorf("lawyer preset = %+v, want %+v", presets["lawyer"], want)
	}
	if _, ok := presets[policy.DefaultRole]; !ok {
		t.Error("default preset missing from list")
	}

	out, err = execute(t, "settings", "show", "--user", "l1", "--role", "lawyer")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "role_default") {
		t.Errorf("show output = %q, want role_default source", out)
	}
}

func TestTeamDefaultsCmd_SetRequiresAllFields(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "team-defaults", "set", "lawyer", "--mode", "off"); err == nil {
		t.Error("expected an error when frequency and threshold are missing")
	}
}

func TestBlockCmd_BlockAndUnblock(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "block", "projects", "p-internal", "--user", "u1")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if !strings.Contains(out, "projects now blocked: 1") {
		t.Errorf("block output = %q", out)
	}

	// Blocking twice keeps a single entry.
	if out, err = execute(t, "block", "projects", "p-internal", "--user", "u1"); err != nil || !strings.Contains(out, "projects now blocked: 1") {
		t.Errorf("second block = %q, %v", out, err)
	}

	out, err = execute(t, "settings", "show", "--user", "u1", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var got policy.Settings
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Blocked.Contains(policy.CategoryProjects, "p-internal") {
		t.Errorf("blocked = %+v, want p-internal", got.Blocked)
	}

	out, err = execute(t, "unblock", "projects", "p-internal", "--user", "u1")
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if !strings.Contains(out, "projects now blocked: 0") {
		t.Errorf("unblock output = %q", out)
	}
}

func TestBlockCmd_UnknownCategory(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "block", "vendors", "acme", "--user", "u1")
	if err == nil || !strings.Contains(err.Error(), "unknown category") {
		t.Errorf("err = %v, want unknown category", err)
	}
}

func TestFeedbackCmd_Empty(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "feedback", "--user", "u1")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if !strings.Contains(out, "No feedback recorded.") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "feedback", "--user", "u1", "--json")
	if err != nil {
		t.Fatalf("feedback --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("json output = %q, want []", out)
	}
}

func TestFeedbackCmd_InvalidLimit(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "feedback", "--user", "u1", "--limit", "0"); err == nil {
		t.Error("expected an error for --limit 0")
	}
}

func TestMetricsCmd(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "metrics", "--user", "u1", "--json")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var m metrics.Metrics
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("metrics output is not JSON: %v\n%s", err, out)
	}
	if m.TotalFeedback != 0 || m.AcceptanceRate != nil {
		t.Errorf("metrics = %+v, want empty with nil rates", m)
	}

	out, err = execute(t, "metrics", "--role", "consultant")
	if err != nil {
		t.Fatalf("metrics --role: %v", err)
	}
	if !strings.Contains(out, "role consultant") || !strings.Contains(out, "n/a") {
		t.Errorf("output = %q", out)
	}
}

func TestMetricsCmd_UserOrRole(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "metrics"); err == nil {
		t.Error("expected an error without --user or --role")
	}
	if _, err := execute(t, "metrics", "--user", "u1", "--role", "admin"); err == nil {
		t.Error("expected an error with both --user and --role")
	}
}

func TestConfigCmd_SetGetList(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "config", "suggestions.cooldown_low_mins", "720")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out, "Saved to:") {
		t.Errorf("set output = %q", out)
	}
	if _, err := os.Stat(config.DefaultPaths().ConfigFile()); err != nil {
		t.Errorf("config file not written: %v", err)
	}

	out, err = execute(t, "config", "suggestions.cooldown_low_mins")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "720" {
		t.Errorf("get = %q, want 720", out)
	}

	out, err = execute(t, "config")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, key := range config.ListKeys() {
		if !strings.Contains(out, key) {
			t.Errorf("list output is missing %q", key)
		}
	}
}

func TestConfigCmd_RejectsInvalid(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "config", "server.log_level", "loud"); err == nil {
		t.Error("expected an error for an invalid log level")
	}
	if _, err := execute(t, "config", "nope.key"); err == nil {
		t.Error("expected an error for an unknown section")
	}
}

func TestDoctorCmd(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	for _, want := range []string{"[OK] Configuration", "[OK] Database", "[OK] Schema", "[OK] Default preset", "All checks passed!"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output is missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "tidum dev") || !strings.Contains(out, "schema: v1") {
		t.Errorf("version output = %q", out)
	}
}

func TestShouldDisableColors(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if !shouldDisableColors() {
		t.Error("NO_COLOR should disable colors")
	}
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "dumb")
	if !shouldDisableColors() {
		t.Error("TERM=dumb should disable colors")
	}
}

func TestFormatRate(t *testing.T) {
	if got := formatRate(nil); !strings.Contains(got, "n/a") {
		t.Errorf("formatRate(nil) = %q", got)
	}
	r := 0.25
	if got := formatRate(&r); got != "25.0%" {
		t.Errorf("formatRate(0.25) = %q", got)
	}
}
