package config

// ServerConfig controls the HTTP API listener (internal/api).
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// CacheConfig controls the Cache Storage and Cache Facade (spec.md §4.1, §4.6).
type CacheConfig struct {
	Backend              string   `yaml:"backend"` // "memory" or "sqlite"
	SQLitePath           string   `yaml:"sqlite_path"`
	DefaultTTL           string   `yaml:"default_ttl"`
	MaxPayloadBytes      int64    `yaml:"max_payload_bytes"`
	ContentTypeAllowlist []string `yaml:"content_type_allowlist"`
	HostBlocklist        []string `yaml:"host_blocklist"`
	AllowPrivateIPs      bool     `yaml:"allow_private_ips"`
	MaxURLLength         int      `yaml:"max_url_length"`
	KeyVersion           int      `yaml:"key_version"`
}

// RateLimitConfig controls the token-bucket rate limiter (spec.md §4.3).
type RateLimitConfig struct {
	TenantCapacity     int     `yaml:"tenant_capacity"`
	TenantRefillPerSec float64 `yaml:"tenant_refill_per_sec"`
	HostCapacity       int     `yaml:"host_capacity"`
	HostRefillPerSec   float64 `yaml:"host_refill_per_sec"`
}

// BreakerConfig parameterizes one circuit breaker instance (spec.md §4.4/§4.14).
type BreakerConfig struct {
	FailureThreshold     int     `yaml:"failure_threshold"`
	MinRequestThreshold  int     `yaml:"min_request_threshold"`
	FailureWindowSecs    int     `yaml:"failure_window_secs"`
	RecoveryTimeoutSecs  int     `yaml:"recovery_timeout_secs"`
	SuccessRateThreshold float64 `yaml:"success_rate_threshold"`
	MaxRepairAttempts    int     `yaml:"max_repair_attempts"`
}

// ExtractorConfig controls the Extractor Instance Pool (spec.md §4.4).
type ExtractorConfig struct {
	WasmPath               string        `yaml:"wasm_path"`
	MaxPoolSize            int           `yaml:"max_pool_size"`
	InitialPoolSize        int           `yaml:"initial_pool_size"`
	AcquireTimeout         string        `yaml:"acquire_timeout"`
	MemoryCapPages         int           `yaml:"memory_cap_pages"`
	EpochDeadlineMs        int           `yaml:"epoch_deadline_ms"`
	EpochTickIntervalMs    int           `yaml:"epoch_tick_interval_ms"`
	MaxUseCount            int           `yaml:"max_use_count"`
	MaxAgeSecs             int           `yaml:"max_age_secs"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	FallbackEnabled        bool          `yaml:"fallback_enabled"`
	Breaker                BreakerConfig `yaml:"breaker"`
}

// BrowserConfig controls headless fetch escalation (spec.md §4.7 step 4).
type BrowserConfig struct {
	HeadlessTimeoutMs     int    `yaml:"headless_timeout_ms"`
	NavigationTimeoutMs   int    `yaml:"navigation_timeout_ms"`
	WaitCondition         string `yaml:"wait_condition"` // dom_content_loaded|selector|network_idle|timeout
	WaitSelector          string `yaml:"wait_selector"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
	UserAgent             string `yaml:"user_agent"`
	AcceptLanguage        string `yaml:"accept_language"`
}

// PipelineConfig controls the fetch->gate->extract->post-process orchestrator
// (spec.md §4.7).
type PipelineConfig struct {
	StaticFetchTimeout   string `yaml:"static_fetch_timeout"`
	StaticFetchByteLimit int64  `yaml:"static_fetch_byte_limit"`
	MaxRedirects         int    `yaml:"max_redirects"`
	PerHostConcurrency   int    `yaml:"per_host_concurrency"`
	InFlightTTL          string `yaml:"in_flight_ttl"`
}

// ResourceConfig controls the Resource Facade (spec.md §4.8).
type ResourceConfig struct {
	MemoryPressureThreshold float64 `yaml:"memory_pressure_threshold"`
	AcquisitionTimeout      string  `yaml:"acquisition_timeout"`
}

// SessionConfig controls the Session Store (spec.md §4.13).
type SessionConfig struct {
	DefaultTTL      string `yaml:"default_ttl"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

// SpiderConfig controls the Spider Driver (spec.md §4.9).
type SpiderConfig struct {
	DefaultBudget int `yaml:"default_budget"`
	MaxDepth      int `yaml:"max_depth"`
}

// ChunkConfig parameterizes the six chunking strategies (spec.md §4.10).
type ChunkConfig struct {
	SLAMillis            int  `yaml:"sla_millis"`
	SlidingWindowTokens  int  `yaml:"sliding_window_tokens"`
	SlidingOverlapTokens int  `yaml:"sliding_overlap_tokens"`
	FixedSizeChars       int  `yaml:"fixed_size_chars"`
	SentenceMaxPerChunk  int  `yaml:"sentence_max_per_chunk"`
	RegexMinChunkSize    int  `yaml:"regex_min_chunk_size"`
	TopicWindowSize      int  `yaml:"topic_window_size"`
	TopicSmoothingPasses int  `yaml:"topic_smoothing_passes"`
	PreciseTokens        bool `yaml:"precise_tokens"`
}

// LoggingConfig controls the categorized file logger (SPEC_FULL §A.1).
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// CoreLimits holds system-wide resource limits and feature flags.
type CoreLimits struct {
	MaxTotalMemoryMB     int             `yaml:"max_total_memory_mb"`
	MaxConcurrentBatches int             `yaml:"max_concurrent_batches"`
	FeatureFlags         map[string]bool `yaml:"feature_flags"`
}
