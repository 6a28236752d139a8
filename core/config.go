package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the orchestrator needs, assembled in
// layers of increasing priority: built-in defaults, environment
// variables (spec §6), the optional file named by CONFIG_FILE, then
// functional options.
//
// Example:
//
//	cfg, err := NewConfig(
//	    WithLLMProvider("anthropic"),
//	    WithAnthropicAPIKey(key),
//	    WithStorageType("redis"),
//	    WithRedisURL("redis://localhost:6379"),
//	)
type Config struct {
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Confidence ConfidenceConfig `json:"confidence" yaml:"confidence"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	DOMCache   DOMCacheConfig   `json:"dom_cache" yaml:"dom_cache"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`

	logger Logger `json:"-" yaml:"-"`
}

// LLMConfig carries routing and credentials for both supported providers.
// Only the provider selected by Provider needs valid credentials.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" env:"LLM_PROVIDER" default:"openai"`

	OpenAIAPIKey      string `json:"openai_api_key" yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIModel       string `json:"openai_model" yaml:"openai_model" env:"OPENAI_MODEL" default:"gpt-4o"`
	OpenAIVisionModel string `json:"openai_vision_model" yaml:"openai_vision_model" env:"OPENAI_VISION_MODEL" default:"gpt-4o"`
	OpenAIPlannerModel string `json:"openai_planner_model" yaml:"openai_planner_model" env:"OPENAI_PLANNER_MODEL" default:"gpt-4o-mini"`

	AnthropicAPIKey     string `json:"anthropic_api_key" yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	AnthropicModel      string `json:"anthropic_model" yaml:"anthropic_model" env:"ANTHROPIC_MODEL" default:"claude-3-5-sonnet-20241022"`
	AnthropicVisionModel string `json:"anthropic_vision_model" yaml:"anthropic_vision_model" env:"ANTHROPIC_VISION_MODEL" default:"claude-3-5-sonnet-20241022"`
	AnthropicPlannerModel string `json:"anthropic_planner_model" yaml:"anthropic_planner_model" env:"ANTHROPIC_PLANNER_MODEL" default:"claude-3-5-haiku-20241022"`
	AnthropicBaseURL    string `json:"anthropic_base_url" yaml:"anthropic_base_url" env:"ANTHROPIC_BEDROCK_BASE_URL"`
	AnthropicAuthToken  string `json:"anthropic_auth_token" yaml:"anthropic_auth_token" env:"ANTHROPIC_AUTH_TOKEN"`

	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" default:"60s"`
}

// StorageConfig selects the persistence backend (spec §4.1).
type StorageConfig struct {
	Type     string `json:"type" yaml:"type" env:"STORAGE_TYPE" default:"memory"`
	RedisURL string `json:"redis_url" yaml:"redis_url" env:"REDIS_URL"`
}

// ConfidenceConfig holds per-action thresholds loaded from the
// environment, a config file, or options and checked by Validate (spec
// §4.2). confidence.Service does not read it: it starts from the
// core.Default*Threshold constants and CONFIDENCE_THRESHOLD_<UPPER>
// environment variables.
type ConfidenceConfig struct {
	Click   float64 `json:"click" yaml:"click" default:"0.5"`
	Type    float64 `json:"type" yaml:"type" default:"0.7"`
	Hover   float64 `json:"hover" yaml:"hover" default:"0.7"`
	Verify  float64 `json:"verify" yaml:"verify" default:"0.7"`
	Default float64 `json:"default" yaml:"default" default:"0.6"`
}

// ResilienceConfig configures RetryStrategy and the CircuitBreaker
// registry shared by the orchestrator and discovery strategies (spec §4.3).
type ResilienceConfig struct {
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES" default:"3"`
	InitialDelay    time.Duration `json:"initial_delay" yaml:"initial_delay" default:"200ms"`
	MaxDelay        time.Duration `json:"max_delay" yaml:"max_delay" default:"5s"`
	Backoff         string        `json:"backoff" yaml:"backoff" default:"exponential"`
	FailureThreshold int          `json:"failure_threshold" yaml:"failure_threshold" default:"5"`
	SuccessThreshold int          `json:"success_threshold" yaml:"success_threshold" default:"2"`
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" default:"30s"`
}

// DOMCacheConfig bounds the URL-keyed DOM summary cache (spec §4.4).
type DOMCacheConfig struct {
	MaxEntries   int           `json:"max_entries" yaml:"max_entries" default:"256"`
	TTL          time.Duration `json:"ttl" yaml:"ttl" default:"10s"`
	MaxEntryBytes int64        `json:"max_entry_bytes" yaml:"max_entry_bytes" default:"52428800"`
}

// OrchestratorConfig controls step-loop behavior not already covered by
// resilience/confidence (spec §4.11).
type OrchestratorConfig struct {
	ProactiveRefinement bool `json:"proactive_refinement" yaml:"proactive_refinement" env:"PROACTIVE_REFINEMENT" default:"true"`
	FailFast            bool `json:"fail_fast" yaml:"fail_fast" default:"true"`
	NetworkIdleTimeout  time.Duration `json:"network_idle_timeout" yaml:"network_idle_timeout" default:"5s"`
}

// LoggingConfig controls the ProductionLogger's verbosity and rendering.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" default:"json"`
	Output string `json:"output" yaml:"output" default:"stdout"`
}

// Option is a functional option applied after environment loading,
// so it always wins over both defaults and the environment.
type Option func(*Config) error

// DefaultConfig returns a Config populated with the hardcoded fallbacks
// named throughout spec §4 and §6.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:              LLMProviderOpenAI,
			OpenAIModel:           "gpt-4o",
			OpenAIVisionModel:     "gpt-4o",
			OpenAIPlannerModel:    "gpt-4o-mini",
			AnthropicModel:        "claude-3-5-sonnet-20241022",
			AnthropicVisionModel:  "claude-3-5-sonnet-20241022",
			AnthropicPlannerModel: "claude-3-5-haiku-20241022",
			RequestTimeout:        60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
		},
		Confidence: ConfidenceConfig{
			Click:   DefaultClickThreshold,
			Type:    DefaultTypeThreshold,
			Hover:   DefaultHoverThreshold,
			Verify:  DefaultVerifyThreshold,
			Default: DefaultActionThreshold,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       DefaultMaxRetries,
			InitialDelay:     DefaultInitialBackoff,
			MaxDelay:         DefaultMaxBackoff,
			Backoff:          "exponential",
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			RecoveryTimeout:  DefaultRecoveryTimeout,
		},
		DOMCache: DOMCacheConfig{
			MaxEntries:    DefaultDOMCacheMaxItems,
			TTL:           DefaultDOMCacheTTL,
			MaxEntryBytes: DefaultDOMCacheMaxBytes,
		},
		Orchestrator: OrchestratorConfig{
			ProactiveRefinement: true,
			FailFast:            true,
			NetworkIdleTimeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays the environment variables named in spec §6 onto
// the current configuration. Environment variables outrank defaults but
// are themselves outranked by functional options applied afterward.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvLLMProvider); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvOpenAIModel); v != "" {
		c.LLM.OpenAIModel = v
	}
	if v := os.Getenv(EnvOpenAIVision); v != "" {
		c.LLM.OpenAIVisionModel = v
	}
	if v := os.Getenv(EnvOpenAIPlanner); v != "" {
		c.LLM.OpenAIPlannerModel = v
	}
	if v := os.Getenv(EnvAnthropicKey); v != "" {
		c.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv(EnvAnthropicModel); v != "" {
		c.LLM.AnthropicModel = v
	}
	if v := os.Getenv(EnvAnthropicVision); v != "" {
		c.LLM.AnthropicVisionModel = v
	}
	if v := os.Getenv(EnvAnthropicPlanner); v != "" {
		c.LLM.AnthropicPlannerModel = v
	}
	if v := os.Getenv(EnvAnthropicBaseURL); v != "" {
		c.LLM.AnthropicBaseURL = v
	}
	if v := os.Getenv(EnvAnthropicAuthTok); v != "" {
		c.LLM.AnthropicAuthToken = v
	}

	if v := os.Getenv(EnvStorageType); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Storage.RedisURL = v
	}

	if v := os.Getenv(EnvConfidenceThresholdDefault); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Confidence.Default = f
		}
	}
	for action, field := range map[string]*float64{
		"CLICK":  &c.Confidence.Click,
		"TYPE":   &c.Confidence.Type,
		"HOVER":  &c.Confidence.Hover,
		"VERIFY": &c.Confidence.Verify,
	} {
		if v := os.Getenv(EnvConfidenceThresholdPrefix + action); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*field = f
			}
		}
	}

	if v := os.Getenv(EnvMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvProactiveRefine); v != "" {
		c.Orchestrator.ProactiveRefinement = parseBool(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}

	return c.Validate()
}

// LoadFromFile overlays a JSON or YAML file onto the current
// configuration, keyed by extension. File settings outrank
// LoadFromEnv's environment layer but are themselves outranked by any
// functional Option applied afterward.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return NewFrameworkError("Config.LoadFromFile", "validation",
			fmt.Errorf("%w: unsupported config file extension %q", ErrValidation, ext))
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is operator-supplied and cleaned
	if err != nil {
		return NewFrameworkError("Config.LoadFromFile", "validation",
			fmt.Errorf("%w: reading config file %s: %v", ErrValidation, cleanPath, err))
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return NewFrameworkError("Config.LoadFromFile", "validation",
				fmt.Errorf("%w: parsing JSON config file: %v", ErrValidation, err))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return NewFrameworkError("Config.LoadFromFile", "validation",
				fmt.Errorf("%w: parsing YAML config file: %v", ErrValidation, err))
		}
	}
	return nil
}

// Validate reports whether the configuration can be used to construct
// the rest of the module. It does not require provider credentials —
// those are checked lazily by the selected llm.Provider factory, so a
// Config intended only for planning-free tests can still validate.
func (c *Config) Validate() error {
	if c.Storage.Type != StorageTypeMemory && c.Storage.Type != StorageTypeRedis {
		return NewFrameworkError("Config.Validate", "validation",
			fmt.Errorf("%w: unknown storage type %q", ErrValidation, c.Storage.Type))
	}
	if c.Storage.Type == StorageTypeRedis && c.Storage.RedisURL == "" {
		return NewFrameworkError("Config.Validate", "validation",
			fmt.Errorf("%w: REDIS_URL is required when STORAGE_TYPE=redis", ErrValidation))
	}
	if c.LLM.Provider != LLMProviderOpenAI && c.LLM.Provider != LLMProviderAnthropic {
		return NewFrameworkError("Config.Validate", "validation",
			fmt.Errorf("%w: unknown LLM provider %q", ErrValidation, c.LLM.Provider))
	}
	for name, threshold := range map[string]float64{
		"click": c.Confidence.Click, "type": c.Confidence.Type,
		"hover": c.Confidence.Hover, "verify": c.Confidence.Verify,
		"default": c.Confidence.Default,
	} {
		if threshold < 0 || threshold > 1 {
			return NewFrameworkError("Config.Validate", "validation",
				fmt.Errorf("%w: confidence threshold %q=%v out of [0,1]", ErrValidation, name, threshold))
		}
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional options.

func WithLogger(logger Logger) Option {
	return func(c *Config) error { c.logger = logger; return nil }
}

func WithLLMProvider(provider string) Option {
	return func(c *Config) error { c.LLM.Provider = provider; return nil }
}

func WithOpenAIAPIKey(key string) Option {
	return func(c *Config) error {
		c.LLM.OpenAIAPIKey = key
		c.LLM.Provider = LLMProviderOpenAI
		return nil
	}
}

func WithAnthropicAPIKey(key string) Option {
	return func(c *Config) error {
		c.LLM.AnthropicAPIKey = key
		c.LLM.Provider = LLMProviderAnthropic
		return nil
	}
}

func WithStorageType(storageType string) Option {
	return func(c *Config) error { c.Storage.Type = storageType; return nil }
}

func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Storage.RedisURL = url
		c.Storage.Type = StorageTypeRedis
		return nil
	}
}

func WithConfidenceThreshold(action string, threshold float64) Option {
	return func(c *Config) error {
		if threshold < 0 || threshold > 1 {
			return NewFrameworkError("WithConfidenceThreshold", "validation",
				fmt.Errorf("%w: threshold %v out of [0,1]", ErrValidation, threshold))
		}
		switch strings.ToLower(action) {
		case "click":
			c.Confidence.Click = threshold
		case "type":
			c.Confidence.Type = threshold
		case "hover":
			c.Confidence.Hover = threshold
		case "verify":
			c.Confidence.Verify = threshold
		default:
			c.Confidence.Default = threshold
		}
		return nil
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Config) error { c.Resilience.MaxRetries = n; return nil }
}

func WithProactiveRefinement(enabled bool) Option {
	return func(c *Config) error { c.Orchestrator.ProactiveRefinement = enabled; return nil }
}

func WithFailFast(enabled bool) Option {
	return func(c *Config) error { c.Orchestrator.FailFast = enabled; return nil }
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}

func WithLogFormat(format string) Option {
	return func(c *Config) error { c.Logging.Format = format; return nil }
}

// NewConfig builds a Config from defaults, the environment, the file
// named by CONFIG_FILE (when set), then opts, in that priority order,
// validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configured logger, defaulting to NoOpLogger.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}

// ============================================================================
// ProductionLogger
// ============================================================================

// ProductionLogger is the structured logger every package defaults to
// when a caller does not inject its own. It tags every line with a
// component identifier in the "orchestrator/<pkg>" convention.
type ProductionLogger struct {
	level     string
	debug     bool
	component string
	format    string
	output    io.Writer
}

// NewProductionLogger builds a ProductionLogger from LoggingConfig.
func NewProductionLogger(cfg LoggingConfig) Logger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}
	level := strings.ToLower(cfg.Level)
	return &ProductionLogger{
		level:     level,
		debug:     level == "debug",
		component: "orchestrator",
		format:    cfg.Format,
		output:    output,
	}
}

// WithComponent returns a logger sharing this sink but tagging its
// lines with component, e.g. "orchestrator/discovery".
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}
func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		for k, v := range fields {
			fmt.Fprintf(&fieldStr, "%s=%v ", k, v)
		}
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n", timestamp, level, p.component, msg, fieldStr.String())
}

var _ ComponentAwareLogger = (*ProductionLogger)(nil)
