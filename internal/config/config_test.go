package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != "127.0.0.1:8087" {
		t.Errorf("Expected addr=127.0.0.1:8087, got %s", cfg.Server.Addr)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("Expected log_level=info, got %s", cfg.Server.LogLevel)
	}
	if !cfg.IsAdminRole("admin") {
		t.Error("Expected admin to be an admin role")
	}
	if cfg.IsAdminRole("") || cfg.IsAdminRole("consultant") {
		t.Error("Expected only admin to be an admin role")
	}
	if cfg.Storage.BusyTimeoutMs != 5000 {
		t.Errorf("Expected busy_timeout_ms=5000, got %d", cfg.Storage.BusyTimeoutMs)
	}
	if cfg.Suggestions.MetricsBackend != "memory" {
		t.Errorf("Expected metrics_backend=memory, got %s", cfg.Suggestions.MetricsBackend)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if w := cfg.Suggestions.ValidateAndFix(); len(w) != 0 {
		t.Errorf("Default suggestions config should have no warnings, got %v", w)
	}
}

func TestConfigGet(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		key      string
		expected string
	}{
		{"server.addr", "127.0.0.1:8087"},
		{"server.log_level", "info"},
		{"server.admin_roles", "admin"},
		{"server.rate_limit_rps", "5"},
		{"server.rate_limit_burst", "20"},
		{"server.shutdown_timeout_ms", "10000"},
		{"server.request_timeout_ms", "2000"},
		{"storage.db_path", ""},
		{"storage.busy_timeout_ms", "5000"},
		{"suggestions.cooldown_low_mins", "1440"},
		{"suggestions.cooldown_normal_mins", "240"},
		{"suggestions.cooldown_high_mins", "0"},
		{"suggestions.rollout_source", "suggestions-2026"},
		{"suggestions.rollout_variants", "control"},
		{"suggestions.prevented_types", "bulk_copy"},
		{"suggestions.metrics_window_days", "7"},
		{"suggestions.metrics_cache_ttl_secs", "120"},
		{"suggestions.metrics_cache_size", "1024"},
		{"suggestions.metrics_backend", "memory"},
		{"suggestions.redis_addr", ""},
		{"suggestions.redis_prefix", "tidum:metrics:"},
		{"suggestions.feedback_max_attempts", "3"},
		{"suggestions.feedback_retry_delay_ms", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%q) error: %v", tt.key, err)
			}
			if got != tt.expected {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"server.addr", ":9000"},
		{"server.log_level", "debug"},
		{"server.admin_roles", "admin,partner"},
		{"server.rate_limit_rps", "2.5"},
		{"server.rate_limit_burst", "4"},
		{"server.shutdown_timeout_ms", "500"},
		{"server.request_timeout_ms", "750"},
		{"storage.db_path", "/tmp/tidum.db"},
		{"storage.busy_timeout_ms", "100"},
		{"suggestions.cooldown_low_mins", "600"},
		{"suggestions.cooldown_normal_mins", "60"},
		{"suggestions.cooldown_high_mins", "5"},
		{"suggestions.rollout_source", "exp-7"},
		{"suggestions.rollout_variants", "control,treatment"},
		{"suggestions.prevented_types", "bulk_copy,template_copy"},
		{"suggestions.metrics_window_days", "14"},
		{"suggestions.metrics_cache_ttl_secs", "30"},
		{"suggestions.metrics_cache_size", "64"},
		{"suggestions.metrics_backend", "redis"},
		{"suggestions.redis_addr", "localhost:6379"},
		{"suggestions.redis_prefix", "t:"},
		{"suggestions.feedback_max_attempts", "5"},
		{"suggestions.feedback_retry_delay_ms", "25"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error: %v", tt.key, tt.value, err)
			}
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%q) error: %v", tt.key, err)
			}
			if got != tt.value {
				t.Errorf("After Set(%q, %q), Get = %q", tt.key, tt.value, got)
			}
		})
	}
}

func TestConfigSet_ListTrimsBlanks(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Set("server.admin_roles", " admin , ,partner "); err != nil {
		t.Fatal(err)
	}
	if !cfg.IsAdminRole("partner") {
		t.Errorf("Expected partner to be an admin role, got %v", cfg.Server.AdminRoles)
	}
	if len(cfg.Server.AdminRoles) != 2 {
		t.Errorf("Expected 2 admin roles, got %v", cfg.Server.AdminRoles)
	}
}

func TestConfigGetInvalidKey(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		key     string
		wantErr string
	}{
		{"invalid", "section.key"},
		{"too.many.parts", "section.key"},
		{"unknown.field", "unknown section"},
		{"server.unknown", "unknown field"},
		{"storage.unknown", "unknown field"},
		{"suggestions.unknown", "unknown field"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := cfg.Get(tt.key)
			if err == nil {
				t.Fatalf("Get(%q) should have returned an error", tt.key)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Get(%q) error = %v, want containing %q", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestConfigSetInvalidKey(t *testing.T) {
	cfg := DefaultConfig()

	for _, key := range []string{"invalid", "unknown.field", "server.unknown", "storage.unknown", "suggestions.unknown"} {
		t.Run(key, func(t *testing.T) {
			if err := cfg.Set(key, "value"); err == nil {
				t.Errorf("Set(%q) should have returned an error", key)
			}
		})
	}
}

func TestConfigSetInvalidValue(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"server.addr", ""},
		{"server.log_level", "verbose"},
		{"server.rate_limit_rps", "fast"},
		{"server.rate_limit_rps", "-1"},
		{"server.rate_limit_burst", "-3"},
		{"server.shutdown_timeout_ms", "soon"},
		{"storage.busy_timeout_ms", "-1"},
		{"suggestions.cooldown_low_mins", "-5"},
		{"suggestions.cooldown_normal_mins", "abc"},
		{"suggestions.rollout_variants", " , "},
		{"suggestions.metrics_window_days", "0"},
		{"suggestions.metrics_cache_ttl_secs", "0"},
		{"suggestions.metrics_cache_size", "0"},
		{"suggestions.metrics_backend", "memcached"},
		{"suggestions.feedback_max_attempts", "0"},
		{"suggestions.feedback_retry_delay_ms", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%q, %q) should have returned an error", tt.key, tt.value)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default config", func(c *Config) {}, false},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, true},
		{"invalid log level", func(c *Config) { c.Server.LogLevel = "trace" }, true},
		{"negative rps", func(c *Config) { c.Server.RateLimitRPS = -1 }, true},
		{"negative burst", func(c *Config) { c.Server.RateLimitBurst = -1 }, true},
		{"negative shutdown timeout", func(c *Config) { c.Server.ShutdownTimeoutMs = -1 }, true},
		{"negative request timeout", func(c *Config) { c.Server.RequestTimeoutMs = -1 }, true},
		{"negative busy timeout", func(c *Config) { c.Storage.BusyTimeoutMs = -1 }, true},
		{"redis without addr", func(c *Config) { c.Suggestions.MetricsBackend = "redis" }, true},
		{"redis with addr", func(c *Config) {
			c.Suggestions.MetricsBackend = "redis"
			c.Suggestions.RedisAddr = "localhost:6379"
		}, false},
		{"bad cooldowns are fixed, not fatal", func(c *Config) { c.Suggestions.CooldownHighMins = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile_NonExistent(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadFromFile should return defaults for nonexistent file: %v", err)
	}
	if cfg.Server.Addr != DefaultConfig().Server.Addr {
		t.Errorf("Expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")

	invalidYAML := `
server:
  addr: [not valid yaml
  this is broken
`
	if err := os.WriteFile(configFile, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write invalid YAML: %v", err)
	}

	if _, err := LoadFromFile(configFile); err == nil {
		t.Error("LoadFromFile should have returned an error for invalid YAML")
	}
}

func TestLoadFromFile_PartialConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")

	partialYAML := `
server:
  addr: ":9999"
  log_level: debug
suggestions:
  cooldown_normal_mins: 30
`
	if err := os.WriteFile(configFile, []byte(partialYAML), 0644); err != nil {
		t.Fatalf("Failed to write partial YAML: %v", err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Expected addr=:9999, got %s", cfg.Server.Addr)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Expected log_level=debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Suggestions.CooldownNormalMins != 30 {
		t.Errorf("Expected cooldown_normal_mins=30, got %d", cfg.Suggestions.CooldownNormalMins)
	}
	// Untouched values keep their defaults.
	if cfg.Suggestions.CooldownLowMins != 1440 {
		t.Errorf("Expected default cooldown_low_mins=1440, got %d", cfg.Suggestions.CooldownLowMins)
	}
	if cfg.Storage.BusyTimeoutMs != 5000 {
		t.Errorf("Expected default busy_timeout_ms=5000, got %d", cfg.Storage.BusyTimeoutMs)
	}
}

func TestLoadFromFile_InvalidServerConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("server:\n  log_level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(configFile); err == nil {
		t.Error("LoadFromFile should reject an invalid log level")
	}
}

func TestLoadFromFile_EmptyFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(""), 0644); err != nil {
		t.Fatalf("Failed to write empty file: %v", err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed for empty file: %v", err)
	}
	if cfg.Suggestions.FeedbackMaxAttempts != 3 {
		t.Errorf("Expected default feedback_max_attempts=3, got %d", cfg.Suggestions.FeedbackMaxAttempts)
	}
}

func TestLoadFromFile_ReadError(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "subdir")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}

	if _, err := LoadFromFile(subDir); err == nil {
		t.Error("LoadFromFile should have returned an error when reading a directory")
	}
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	t.Setenv("TIDUM_ADDR", ":7000")
	t.Setenv("TIDUM_DB_PATH", "/var/lib/tidum/s.db")
	t.Setenv("TIDUM_DEBUG", "1")
	t.Setenv("TIDUM_REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Expected addr=:7000, got %s", cfg.Server.Addr)
	}
	if cfg.DatabasePath() != "/var/lib/tidum/s.db" {
		t.Errorf("Expected db path override, got %s", cfg.DatabasePath())
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Expected log_level=debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Suggestions.MetricsBackend != "redis" || cfg.Suggestions.RedisAddr != "redis:6379" {
		t.Errorf("Expected redis backend at redis:6379, got %s at %s", cfg.Suggestions.MetricsBackend, cfg.Suggestions.RedisAddr)
	}
}

func TestLoadFromFile_LogLevelBeatsDebug(t *testing.T) {
	t.Setenv("TIDUM_DEBUG", "1")
	t.Setenv("TIDUM_LOG_LEVEL", "warn")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Expected log_level=warn, got %s", cfg.Server.LogLevel)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":8123"
	cfg.Server.AdminRoles = []string{"admin", "partner"}
	cfg.Storage.DBPath = "/data/suggestions.db"
	cfg.Suggestions.CooldownLowMins = 720
	cfg.Suggestions.RolloutVariants = []string{"control", "treatment"}
	cfg.Suggestions.TimeSavedMinutes["template_copy"] = 15

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if loaded.Server.Addr != ":8123" {
		t.Errorf("Expected addr=:8123, got %s", loaded.Server.Addr)
	}
	if !loaded.IsAdminRole("partner") {
		t.Errorf("Expected partner admin role, got %v", loaded.Server.AdminRoles)
	}
	if loaded.DatabasePath() != "/data/suggestions.db" {
		t.Errorf("Expected db_path=/data/suggestions.db, got %s", loaded.DatabasePath())
	}
	if loaded.Suggestions.CooldownLowMins != 720 {
		t.Errorf("Expected cooldown_low_mins=720, got %d", loaded.Suggestions.CooldownLowMins)
	}
	if len(loaded.Suggestions.RolloutVariants) != 2 {
		t.Errorf("Expected 2 rollout variants, got %v", loaded.Suggestions.RolloutVariants)
	}
	if loaded.Suggestions.TimeSavedMinutes["template_copy"] != 15 {
		t.Errorf("Expected template_copy=15, got %d", loaded.Suggestions.TimeSavedMinutes["template_copy"])
	}
}

func TestDatabasePath_Default(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := cfg.DatabasePath(), DefaultPaths().DatabaseFile(); got != want {
		t.Errorf("DatabasePath() = %s, want %s", got, want)
	}
}

func TestListKeys(t *testing.T) {
	keys := ListKeys()
	if len(keys) == 0 {
		t.Fatal("ListKeys returned no keys")
	}
	for _, key := range keys {
		if !strings.Contains(key, ".") {
			t.Errorf("Key %q should be in section.field format", key)
		}
	}
}

func TestListKeysAllGettable(t *testing.T) {
	cfg := DefaultConfig()
	for _, key := range ListKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) failed: %v", key, err)
		}
	}
}

func TestListKeysAllSettable(t *testing.T) {
	cfg := DefaultConfig()
	for _, key := range ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", key, err)
		}
		if value == "" {
			continue
		}
		if err := cfg.Set(key, value); err != nil {
			t.Errorf("Set(%q, %q) failed: %v", key, value, err)
		}
	}
}
