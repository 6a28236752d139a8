package core

import "time"

// Environment variable names read by Config.LoadFromEnv (spec §6).
const (
	EnvLLMProvider   = "LLM_PROVIDER"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOpenAIModel   = "OPENAI_MODEL"
	EnvOpenAIVision  = "OPENAI_VISION_MODEL"
	EnvOpenAIPlanner = "OPENAI_PLANNER_MODEL"

	EnvAnthropicKey      = "ANTHROPIC_API_KEY"
	EnvAnthropicModel    = "ANTHROPIC_MODEL"
	EnvAnthropicVision   = "ANTHROPIC_VISION_MODEL"
	EnvAnthropicPlanner  = "ANTHROPIC_PLANNER_MODEL"
	EnvAnthropicBaseURL  = "ANTHROPIC_BEDROCK_BASE_URL"
	EnvAnthropicAuthTok  = "ANTHROPIC_AUTH_TOKEN"

	EnvStorageType = "STORAGE_TYPE"
	EnvRedisURL    = "REDIS_URL"

	EnvConfidenceThresholdPrefix  = "CONFIDENCE_THRESHOLD_"
	EnvConfidenceThresholdDefault = "CONFIDENCE_THRESHOLD"

	EnvMaxRetries         = "MAX_RETRIES"
	EnvProactiveRefine    = "PROACTIVE_REFINEMENT"
	EnvLogLevel           = "LOG_LEVEL"

	// EnvConfigFile points at an optional JSON or YAML file layered
	// over the environment and under functional options
	// (Config.LoadFromFile).
	EnvConfigFile = "CONFIG_FILE"
)

// Default per-action confidence thresholds (spec §4.2).
const (
	DefaultClickThreshold  = 0.5
	DefaultTypeThreshold   = 0.7
	DefaultHoverThreshold  = 0.7
	DefaultVerifyThreshold = 0.7
	DefaultActionThreshold = 0.6
)

// Storage backend identifiers for STORAGE_TYPE.
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// LLM provider identifiers for LLM_PROVIDER.
const (
	LLMProviderOpenAI    = "openai"
	LLMProviderAnthropic = "anthropic"
)

// Scenario ID formatting (spec §3).
const (
	ScenarioIDPrefix    = "scenario-"
	ScenarioIDHexLength = 16
)

// Resilience defaults (spec §4.3).
const (
	DefaultMaxRetries          = 3
	DefaultInitialBackoff      = 200 * time.Millisecond
	DefaultMaxBackoff          = 5 * time.Second
	DefaultFailureThreshold    = 5
	DefaultSuccessThreshold    = 2
	DefaultRecoveryTimeout     = 30 * time.Second
)

// DOM cache defaults (spec §4.4).
const (
	DefaultDOMCacheTTL      = 10 * time.Second
	DefaultDOMCacheMaxBytes = 50 * 1024 * 1024
	DefaultDOMCacheMaxItems = 256
)
