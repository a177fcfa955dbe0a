// Package config loads and validates RipTide's configuration and supports
// hot-reloading a subset of settings while the service is running.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"riptide/internal/logging"

	"gopkg.in/yaml.v3"
)

// Config holds all RipTide configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Browser   BrowserConfig   `yaml:"browser"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Resource  ResourceConfig  `yaml:"resource"`
	Session   SessionConfig   `yaml:"session"`
	Spider    SpiderConfig    `yaml:"spider"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Logging   LoggingConfig   `yaml:"logging"`
	CoreLimits CoreLimits     `yaml:"core_limits"`
}

// DefaultConfig returns the default configuration, matching the numeric
// defaults named throughout spec.md §4-5.
func DefaultConfig() *Config {
	return &Config{
		Name:    "riptide",
		Version: "0.1.0",

		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},

		Cache: CacheConfig{
			Backend:               "memory",
			SQLitePath:            "data/riptide-cache.db",
			DefaultTTL:            "24h",
			MaxPayloadBytes:       10 * 1024 * 1024,
			ContentTypeAllowlist:  []string{"text/html", "application/xhtml+xml", "text/plain", "application/json"},
			HostBlocklist:         nil,
			AllowPrivateIPs:       false,
			MaxURLLength:          2048,
			KeyVersion:            1,
		},

		RateLimit: RateLimitConfig{
			TenantCapacity:     100,
			TenantRefillPerSec: 10,
			HostCapacity:       20,
			HostRefillPerSec:   2,
		},

		Extractor: ExtractorConfig{
			WasmPath:               "extractor/trek.component.wasm",
			MaxPoolSize:            8,
			InitialPoolSize:        2,
			AcquireTimeout:         "10s",
			MemoryCapPages:         2048,
			EpochDeadlineMs:        10000,
			EpochTickIntervalMs:    250,
			MaxUseCount:            1000,
			MaxAgeSecs:             3600,
			MaxConsecutiveFailures: 5,
			FallbackEnabled:        true,
			Breaker: BreakerConfig{
				FailureThreshold:      5,
				MinRequestThreshold:   10,
				FailureWindowSecs:     60,
				RecoveryTimeoutSecs:   30,
				SuccessRateThreshold:  0.7,
				MaxRepairAttempts:     1,
			},
		},

		Browser: BrowserConfig{
			HeadlessTimeoutMs:     3000,
			NavigationTimeoutMs:   15000,
			WaitCondition:         "dom_content_loaded",
			MaxConcurrentSessions: 4,
			UserAgent:             "",
			AcceptLanguage:        "en-US,en;q=0.9",
		},

		Pipeline: PipelineConfig{
			StaticFetchTimeout:   "10s",
			StaticFetchByteLimit: 5 * 1024 * 1024,
			MaxRedirects:         5,
			PerHostConcurrency:   4,
			InFlightTTL:          "60s",
		},

		Resource: ResourceConfig{
			MemoryPressureThreshold: 0.8,
			AcquisitionTimeout:      "30s",
		},

		Session: SessionConfig{
			DefaultTTL:      "24h",
			CleanupInterval: "5m",
		},

		Spider: SpiderConfig{
			DefaultBudget: 100,
			MaxDepth:      5,
		},

		Chunk: ChunkConfig{
			SLAMillis:            200,
			SlidingWindowTokens:  400,
			SlidingOverlapTokens: 50,
			FixedSizeChars:       2000,
			SentenceMaxPerChunk:  8,
			RegexMinChunkSize:    100,
			TopicWindowSize:      20,
			TopicSmoothingPasses: 2,
		},

		Logging: LoggingConfig{
			DebugMode:  false,
			Level:      "info",
			JSONFormat: false,
			Categories: nil,
		},

		CoreLimits: CoreLimits{
			MaxTotalMemoryMB:       4096,
			MaxConcurrentBatches:   8,
			FeatureFlags:           map[string]bool{},
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.Get(logging.CategoryBoot).Debug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Get(logging.CategoryBoot).Info("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryBoot).Info("config loaded: backend=%s extractor_pool=%d", cfg.Cache.Backend, cfg.Extractor.MaxPoolSize)
	return cfg, nil
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies the representative environment variables named
// in spec.md §6.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RIPTIDE_WASM_INSTANCES_PER_WORKER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Extractor.MaxPoolSize = n
		}
	}
	if v := os.Getenv("RIPTIDE_EXTRACTOR_MEMORY_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Extractor.MemoryCapPages = n
		}
	}
	if v := os.Getenv("RIPTIDE_EPOCH_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Extractor.EpochDeadlineMs = n
		}
	}
	if v := os.Getenv("RIPTIDE_CACHE_TTL"); v != "" {
		c.Cache.DefaultTTL = v
	}
	if v := os.Getenv("RIPTIDE_CONTENT_TYPE_ALLOWLIST"); v != "" {
		c.Cache.ContentTypeAllowlist = splitCSV(v)
	}
	if v := os.Getenv("RIPTIDE_HOST_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.HostCapacity = n
		}
	}
	if v := os.Getenv("RIPTIDE_HEADLESS_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Browser.HeadlessTimeoutMs = n
		}
	}
	if v := os.Getenv("RIPTIDE_FEATURE_FLAGS"); v != "" {
		for _, flag := range splitCSV(v) {
			if flag == "" {
				continue
			}
			if name, val, ok := strings.Cut(flag, "="); ok {
				c.CoreLimits.FeatureFlags[name] = val == "true" || val == "1"
			} else {
				c.CoreLimits.FeatureFlags[flag] = true
			}
		}
	}
	if v := os.Getenv("RIPTIDE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("RIPTIDE_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.Extractor.MaxPoolSize <= 0 {
		return fmt.Errorf("config: extractor.max_pool_size must be positive")
	}
	if c.Extractor.InitialPoolSize > c.Extractor.MaxPoolSize {
		return fmt.Errorf("config: extractor.initial_pool_size cannot exceed max_pool_size")
	}
	if c.Extractor.Breaker.SuccessRateThreshold < 0 || c.Extractor.Breaker.SuccessRateThreshold > 1 {
		return fmt.Errorf("config: extractor.breaker.success_rate_threshold must be in [0,1]")
	}
	if c.Resource.MemoryPressureThreshold <= 0 || c.Resource.MemoryPressureThreshold > 1 {
		return fmt.Errorf("config: resource.memory_pressure_threshold must be in (0,1]")
	}
	switch c.Cache.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: cache.backend must be 'memory' or 'sqlite', got %q", c.Cache.Backend)
	}
	if c.Cache.MaxURLLength <= 0 {
		return fmt.Errorf("config: cache.max_url_length must be positive")
	}
	return nil
}

func (c *Config) durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// CacheTTL returns the default cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration { return c.durationOr(c.Cache.DefaultTTL, 24*time.Hour) }

// AcquireTimeout returns the extractor pool's acquire timeout as a duration.
func (c *Config) AcquireTimeout() time.Duration {
	return c.durationOr(c.Extractor.AcquireTimeout, 10*time.Second)
}

// AcquisitionTimeout returns the resource facade's pool acquisition timeout.
func (c *Config) AcquisitionTimeout() time.Duration {
	return c.durationOr(c.Resource.AcquisitionTimeout, 30*time.Second)
}

// StaticFetchTimeout returns the static fetcher's request timeout.
func (c *Config) StaticFetchTimeout() time.Duration {
	return c.durationOr(c.Pipeline.StaticFetchTimeout, 10*time.Second)
}

// SessionTTL returns the default session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return c.durationOr(c.Session.DefaultTTL, 24*time.Hour)
}

// LoggingSettings adapts the configured LoggingConfig into logging.Settings.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.Logging.DebugMode,
		Categories: c.Logging.Categories,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
	}
}

// FeatureEnabled reports whether a named feature flag is set.
func (c *Config) FeatureEnabled(name string) bool {
	return c.CoreLimits.FeatureFlags[name]
}
