package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runger/tidum/internal/suggestions/feedback"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/policy"
	"github.com/runger/tidum/internal/suggestions/settings"
	"github.com/runger/tidum/internal/suggestions/visibility"
)

// Config represents the tidum configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	LogLevel          string   `yaml:"log_level"`           // debug, info, warn, error
	AdminRoles        []string `yaml:"admin_roles"`         // roles allowed on /api/admin
	RateLimitRPS      float64  `yaml:"rate_limit_rps"`      // per user, write endpoints; 0 disables
	RateLimitBurst    int      `yaml:"rate_limit_burst"`    // tokens available at once
	ShutdownTimeoutMs int      `yaml:"shutdown_timeout_ms"` // graceful drain before forced close
	RequestTimeoutMs  int      `yaml:"request_timeout_ms"`  // per-request deadline for store calls
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`         // empty: <data dir>/suggestions.db
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"` // sqlite busy_timeout
}

// SuggestionsConfig holds the suggestion policy tunables.
type SuggestionsConfig struct {
	// Visibility cooldowns after a dismissal, per frequency tier.
	CooldownLowMins    int `yaml:"cooldown_low_mins"`
	CooldownNormalMins int `yaml:"cooldown_normal_mins"`
	CooldownHighMins   int `yaml:"cooldown_high_mins"`

	// Rollout bucketing annotates resolved settings.
	RolloutSource   string   `yaml:"rollout_source"`
	RolloutVariants []string `yaml:"rollout_variants"`

	// Metrics.
	TimeSavedMinutes    map[string]int `yaml:"time_saved_minutes"` // per accepted candidate type
	PreventedTypes      []string       `yaml:"prevented_types"`    // acceptance counts as a prevented misentry
	MetricsWindowDays   int            `yaml:"metrics_window_days"`
	MetricsCacheTTLSecs int            `yaml:"metrics_cache_ttl_secs"`
	MetricsCacheSize    int            `yaml:"metrics_cache_size"` // memory backend only
	MetricsBackend      string         `yaml:"metrics_backend"`    // memory or redis
	RedisAddr           string         `yaml:"redis_addr"`
	RedisPrefix         string         `yaml:"redis_prefix"`

	// Feedback write retries.
	FeedbackMaxAttempts  int `yaml:"feedback_max_attempts"`
	FeedbackRetryDelayMs int `yaml:"feedback_retry_delay_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8087",
			LogLevel:          "info",
			AdminRoles:        []string{"admin"},
			RateLimitRPS:      5,
			RateLimitBurst:    20,
			ShutdownTimeoutMs: 10000,
			RequestTimeoutMs:  2000,
		},
		Storage: StorageConfig{
			BusyTimeoutMs: 5000,
		},
		Suggestions: DefaultSuggestionsConfig(),
	}
}

// DefaultSuggestionsConfig returns the default suggestion tunables. They
// mirror the package defaults of visibility, metrics, settings and feedback.
func DefaultSuggestionsConfig() SuggestionsConfig {
	return SuggestionsConfig{
		CooldownLowMins:    24 * 60,
		CooldownNormalMins: 4 * 60,
		CooldownHighMins:   0,
		RolloutSource:      "suggestions-2026",
		RolloutVariants:    []string{"control"},
		TimeSavedMinutes: map[string]int{
			string(policy.TypeProject):      1,
			string(policy.TypeDescription):  1,
			string(policy.TypeHours):        1,
			string(policy.TypeBulkCopy):     5,
			string(policy.TypeTemplateCopy): 10,
			string(policy.TypeCaseID):       1,
		},
		PreventedTypes:       []string{string(policy.TypeBulkCopy)},
		MetricsWindowDays:    7,
		MetricsCacheTTLSecs:  120,
		MetricsCacheSize:     1024,
		MetricsBackend:       "memory",
		RedisPrefix:          "tidum:metrics:",
		FeedbackMaxAttempts:  3,
		FeedbackRetryDelayMs: 10,
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	paths := DefaultPaths()
	return LoadFromFile(paths.ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	paths := DefaultPaths()
	return c.SaveToFile(paths.ConfigFile())
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DatabasePath returns the configured database path or the default one.
func (c *Config) DatabasePath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return DefaultPaths().DatabaseFile()
}

// IsAdminRole reports whether role may use the admin endpoints.
func (c *Config) IsAdminRole(role string) bool {
	return role != "" && slices.Contains(c.Server.AdminRoles, role)
}

// Get retrieves a configuration value by dot-separated key.
// For example: "server.addr" or "suggestions.cooldown_low_mins"
func (c *Config) Get(key string) (string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", errors.New("key must be in format 'section.key'")
	}

	section, field := parts[0], parts[1]

	switch section {
	case "server":
		return c.getServerField(field)
	case "storage":
		return c.getStorageField(field)
	case "suggestions":
		return c.getSuggestionsField(field)
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
}

// Set sets a configuration value by dot-separated key.
func (c *Config) Set(key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return errors.New("key must be in format 'section.key'")
	}

	section, field := parts[0], parts[1]

	switch section {
	case "server":
		return c.setServerField(field, value)
	case "storage":
		return c.setStorageField(field, value)
	case "suggestions":
		return c.setSuggestionsField(field, value)
	default:
		return fmt.Errorf("unknown section: %s", section)
	}
}

func (c *Config) getServerField(field string) (string, error) {
	switch field {
	case "addr":
		return c.Server.Addr, nil
	case "log_level":
		return c.Server.LogLevel, nil
	case "admin_roles":
		return strings.Join(c.Server.AdminRoles, ","), nil
	case "rate_limit_rps":
		return strconv.FormatFloat(c.Server.RateLimitRPS, 'f', -1, 64), nil
	case "rate_limit_burst":
		return strconv.Itoa(c.Server.RateLimitBurst), nil
	case "shutdown_timeout_ms":
		return strconv.Itoa(c.Server.ShutdownTimeoutMs), nil
	case "request_timeout_ms":
		return strconv.Itoa(c.Server.RequestTimeoutMs), nil
	default:
		return "", fmt.Errorf("unknown field: server.%s", field)
	}
}

func (c *Config) setServerField(field, value string) error {
	switch field {
	case "addr":
		if value == "" {
			return errors.New("invalid addr: must not be empty")
		}
		c.Server.Addr = value
	case "log_level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", value)
		}
		c.Server.LogLevel = value
	case "admin_roles":
		c.Server.AdminRoles = splitList(value)
	case "rate_limit_rps":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for rate_limit_rps: %w", err)
		}
		if v < 0 {
			return errors.New("invalid rate_limit_rps: must be non-negative")
		}
		c.Server.RateLimitRPS = v
	case "rate_limit_burst":
		return setNonNegativeInt(&c.Server.RateLimitBurst, field, value)
	case "shutdown_timeout_ms":
		return setNonNegativeInt(&c.Server.ShutdownTimeoutMs, field, value)
	case "request_timeout_ms":
		return setNonNegativeInt(&c.Server.RequestTimeoutMs, field, value)
	default:
		return fmt.Errorf("unknown field: server.%s", field)
	}
	return nil
}

func (c *Config) getStorageField(field string) (string, error) {
	switch field {
	case "db_path":
		return c.Storage.DBPath, nil
	case "busy_timeout_ms":
		return strconv.Itoa(c.Storage.BusyTimeoutMs), nil
	default:
		return "", fmt.Errorf("unknown field: storage.%s", field)
	}
}

func (c *Config) setStorageField(field, value string) error {
	switch field {
	case "db_path":
		c.Storage.DBPath = value
	case "busy_timeout_ms":
		return setNonNegativeInt(&c.Storage.BusyTimeoutMs, field, value)
	default:
		return fmt.Errorf("unknown field: storage.%s", field)
	}
	return nil
}

func (c *Config) getSuggestionsField(field string) (string, error) {
	s := &c.Suggestions
	switch field {
	case "cooldown_low_mins":
		return strconv.Itoa(s.CooldownLowMins), nil
	case "cooldown_normal_mins":
		return strconv.Itoa(s.CooldownNormalMins), nil
	case "cooldown_high_mins":
		return strconv.Itoa(s.CooldownHighMins), nil
	case "rollout_source":
		return s.RolloutSource, nil
	case "rollout_variants":
		return strings.Join(s.RolloutVariants, ","), nil
	case "prevented_types":
		return strings.Join(s.PreventedTypes, ","), nil
	case "metrics_window_days":
		return strconv.Itoa(s.MetricsWindowDays), nil
	case "metrics_cache_ttl_secs":
		return strconv.Itoa(s.MetricsCacheTTLSecs), nil
	case "metrics_cache_size":
		return strconv.Itoa(s.MetricsCacheSize), nil
	case "metrics_backend":
		return s.MetricsBackend, nil
	case "redis_addr":
		return s.RedisAddr, nil
	case "redis_prefix":
		return s.RedisPrefix, nil
	case "feedback_max_attempts":
		return strconv.Itoa(s.FeedbackMaxAttempts), nil
	case "feedback_retry_delay_ms":
		return strconv.Itoa(s.FeedbackRetryDelayMs), nil
	default:
		return "", fmt.Errorf("unknown field: suggestions.%s", field)
	}
}

func (c *Config) setSuggestionsField(field, value string) error {
	s := &c.Suggestions
	switch field {
	case "cooldown_low_mins":
		return setNonNegativeInt(&s.CooldownLowMins, field, value)
	case "cooldown_normal_mins":
		return setNonNegativeInt(&s.CooldownNormalMins, field, value)
	case "cooldown_high_mins":
		return setNonNegativeInt(&s.CooldownHighMins, field, value)
	case "rollout_source":
		s.RolloutSource = value
	case "rollout_variants":
		v := splitList(value)
		if len(v) == 0 {
			return errors.New("invalid rollout_variants: at least one variant is required")
		}
		s.RolloutVariants = v
	case "prevented_types":
		s.PreventedTypes = splitList(value)
	case "metrics_window_days":
		return setPositiveInt(&s.MetricsWindowDays, field, value)
	case "metrics_cache_ttl_secs":
		return setPositiveInt(&s.MetricsCacheTTLSecs, field, value)
	case "metrics_cache_size":
		return setPositiveInt(&s.MetricsCacheSize, field, value)
	case "metrics_backend":
		if !isValidMetricsBackend(value) {
			return fmt.Errorf("invalid metrics_backend: %s (must be memory or redis)", value)
		}
		s.MetricsBackend = value
	case "redis_addr":
		s.RedisAddr = value
	case "redis_prefix":
		s.RedisPrefix = value
	case "feedback_max_attempts":
		return setPositiveInt(&s.FeedbackMaxAttempts, field, value)
	case "feedback_retry_delay_ms":
		return setNonNegativeInt(&s.FeedbackRetryDelayMs, field, value)
	default:
		return fmt.Errorf("unknown field: suggestions.%s", field)
	}
	return nil
}

func setNonNegativeInt(dst *int, field, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid %s: must be non-negative", field)
	}
	*dst = v
	return nil
}

func setPositiveInt(dst *int, field, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v < 1 {
		return fmt.Errorf("invalid %s: must be >= 1", field)
	}
	*dst = v
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration. Server and storage mistakes are
// errors; suggestion tunables are repaired by ValidateAndFix.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}

	if !isValidLogLevel(c.Server.LogLevel) {
		return fmt.Errorf("server.log_level must be debug, info, warn, or error (got: %s)", c.Server.LogLevel)
	}

	if c.Server.RateLimitRPS < 0 {
		return errors.New("server.rate_limit_rps must be >= 0")
	}

	if c.Server.RateLimitBurst < 0 {
		return errors.New("server.rate_limit_burst must be >= 0")
	}

	if c.Server.ShutdownTimeoutMs < 0 {
		return errors.New("server.shutdown_timeout_ms must be >= 0")
	}

	if c.Server.RequestTimeoutMs < 0 {
		return errors.New("server.request_timeout_ms must be >= 0")
	}

	if c.Storage.BusyTimeoutMs < 0 {
		return errors.New("storage.busy_timeout_ms must be >= 0")
	}

	// Never returns an error; falls back to defaults with warnings.
	c.Suggestions.ValidateAndFix()

	if c.Suggestions.MetricsBackend == "redis" && c.Suggestions.RedisAddr == "" {
		return errors.New("suggestions.redis_addr is required when metrics_backend is redis")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidMetricsBackend(backend string) bool {
	switch backend {
	case "memory", "redis":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TIDUM_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Server.LogLevel = "debug"
		}
	}
	if v := os.Getenv("TIDUM_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Server.LogLevel = v
		}
	}
	if v := os.Getenv("TIDUM_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TIDUM_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("TIDUM_REDIS_ADDR"); v != "" {
		c.Suggestions.RedisAddr = v
		c.Suggestions.MetricsBackend = "redis"
	}
}

// ListKeys returns user-facing configuration keys.
func ListKeys() []string {
	return []string{
		"server.addr",
		"server.log_level",
		"server.admin_roles",
		"server.rate_limit_rps",
		"server.rate_limit_burst",
		"storage.db_path",
		"suggestions.cooldown_low_mins",
		"suggestions.cooldown_normal_mins",
		"suggestions.cooldown_high_mins",
		"suggestions.rollout_variants",
		"suggestions.metrics_backend",
		"suggestions.metrics_cache_ttl_secs",
		"suggestions.redis_addr",
	}
}

// ValidationWarning represents a config validation warning.
type ValidationWarning struct {
	Field   string
	Message string
}

// ValidateAndFix validates the suggestion tunables.
// Invalid values are fixed by falling back to defaults.
// Returns a list of warnings for diagnostics. Validation never prevents startup.
func (s *SuggestionsConfig) ValidateAndFix() []ValidationWarning {
	defaults := DefaultSuggestionsConfig()
	var warnings []ValidationWarning

	warn := func(field, msg string) {
		w := ValidationWarning{Field: field, Message: msg}
		warnings = append(warnings, w)
		log.Printf("WARN config: suggestions.%s: %s", field, msg)
	}

	// --- Cooldowns (non-negative, low >= normal >= high) ---
	cooldowns := []struct {
		name string
		val  *int
		def  int
	}{
		{"cooldown_low_mins", &s.CooldownLowMins, defaults.CooldownLowMins},
		{"cooldown_normal_mins", &s.CooldownNormalMins, defaults.CooldownNormalMins},
		{"cooldown_high_mins", &s.CooldownHighMins, defaults.CooldownHighMins},
	}
	for _, cd := range cooldowns {
		if *cd.val < 0 {
			warn(cd.name, fmt.Sprintf("must be >= 0, got %d; falling back to default %d", *cd.val, cd.def))
			*cd.val = cd.def
		}
	}
	if s.CooldownLowMins < s.CooldownNormalMins || s.CooldownNormalMins < s.CooldownHighMins {
		warn("cooldown_*_mins", fmt.Sprintf("must satisfy low >= normal >= high, got %d/%d/%d; falling back to defaults",
			s.CooldownLowMins, s.CooldownNormalMins, s.CooldownHighMins))
		s.CooldownLowMins = defaults.CooldownLowMins
		s.CooldownNormalMins = defaults.CooldownNormalMins
		s.CooldownHighMins = defaults.CooldownHighMins
	}

	// --- Counts (must be >= 1) ---
	counts := []struct {
		name string
		val  *int
		def  int
	}{
		{"metrics_window_days", &s.MetricsWindowDays, defaults.MetricsWindowDays},
		{"metrics_cache_ttl_secs", &s.MetricsCacheTTLSecs, defaults.MetricsCacheTTLSecs},
		{"metrics_cache_size", &s.MetricsCacheSize, defaults.MetricsCacheSize},
		{"feedback_max_attempts", &s.FeedbackMaxAttempts, defaults.FeedbackMaxAttempts},
	}
	for _, c := range counts {
		if *c.val < 1 {
			warn(c.name, fmt.Sprintf("must be >= 1, got %d; falling back to default %d", *c.val, c.def))
			*c.val = c.def
		}
	}

	if s.FeedbackRetryDelayMs < 0 {
		warn("feedback_retry_delay_ms", fmt.Sprintf("must be >= 0, got %d; falling back to default %d", s.FeedbackRetryDelayMs, defaults.FeedbackRetryDelayMs))
		s.FeedbackRetryDelayMs = defaults.FeedbackRetryDelayMs
	}

	if !isValidMetricsBackend(s.MetricsBackend) {
		warn("metrics_backend", fmt.Sprintf("invalid value %q; falling back to default %q", s.MetricsBackend, defaults.MetricsBackend))
		s.MetricsBackend = defaults.MetricsBackend
	}

	if len(s.RolloutVariants) == 0 {
		warn("rollout_variants", fmt.Sprintf("must not be empty; falling back to default %v", defaults.RolloutVariants))
		s.RolloutVariants = defaults.RolloutVariants
	}

	for name, mins := range s.TimeSavedMinutes {
		if mins < 0 {
			warn("time_saved_minutes."+name, fmt.Sprintf("must be >= 0, got %d; clamping to 0", mins))
			s.TimeSavedMinutes[name] = 0
		}
	}

	return warnings
}

// VisibilityConfig converts the cooldown tunables for the visibility store.
func (s SuggestionsConfig) VisibilityConfig() visibility.Config {
	return visibility.Config{Cooldowns: map[policy.Frequency]time.Duration{
		policy.FrequencyLow:    time.Duration(s.CooldownLowMins) * time.Minute,
		policy.FrequencyNormal: time.Duration(s.CooldownNormalMins) * time.Minute,
		policy.FrequencyHigh:   time.Duration(s.CooldownHighMins) * time.Minute,
	}}
}

// SettingsConfig converts the rollout tunables for the settings store.
func (s SuggestionsConfig) SettingsConfig() settings.Config {
	return settings.Config{
		RolloutSource: s.RolloutSource,
		Variants:      slices.Clone(s.RolloutVariants),
	}
}

// FeedbackConfig converts the retry tunables for the feedback recorder.
func (s SuggestionsConfig) FeedbackConfig() feedback.Config {
	return feedback.Config{
		MaxAttempts:  s.FeedbackMaxAttempts,
		InitialDelay: time.Duration(s.FeedbackRetryDelayMs) * time.Millisecond,
	}
}

// MetricsConfig converts the metrics tunables for the aggregator. A nil
// time-saved table keeps the package defaults.
func (s SuggestionsConfig) MetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	if s.TimeSavedMinutes != nil {
		cfg.TimeSavedMinutes = make(map[policy.CandidateType]int, len(s.TimeSavedMinutes))
		for name, mins := range s.TimeSavedMinutes {
			cfg.TimeSavedMinutes[policy.CandidateType(name)] = mins
		}
	}
	if s.PreventedTypes != nil {
		cfg.Prevented = make([]policy.CandidateType, 0, len(s.PreventedTypes))
		for _, name := range s.PreventedTypes {
			cfg.Prevented = append(cfg.Prevented, policy.CandidateType(name))
		}
	}
	cfg.TTL = time.Duration(s.MetricsCacheTTLSecs) * time.Second
	cfg.Window = time.Duration(s.MetricsWindowDays) * 24 * time.Hour
	return cfg
}
