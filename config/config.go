package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	Runner      RunnerConfig
	Retry       RetryConfig
	Session     SessionConfig
	Events      EventsConfig
	Cache       CacheConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Coordinator CoordinatorConfig
	Log         LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instances.
type BrowserConfig struct {
	// Headless controls whether browsers run headless.
	Headless bool // default: true

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s

	// PollInterval is how often element waits re-check the page.
	PollInterval time.Duration // default: 250ms

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// RunnerConfig controls job execution.
type RunnerConfig struct {
	// MaxWorkers caps concurrent workers per site.
	MaxWorkers int // default: 3

	// DefaultStepTimeout bounds a single workflow step.
	DefaultStepTimeout time.Duration // default: 30s

	// ConfigDir holds the per-site YAML workflow configs.
	ConfigDir string // default: "configs"

	// OutputDir receives per-session result files.
	OutputDir string // default: "output"
}

// RetryConfig controls the adaptive retry layer.
type RetryConfig struct {
	// HistoryPath persists per-site retry statistics; empty disables it.
	HistoryPath string // default: "data/retry_history.json"
}

// SessionConfig controls per-site authenticated session tracking.
type SessionConfig struct {
	// Timeout is how long an authenticated session is trusted.
	Timeout time.Duration // default: 30m
}

// EventsConfig controls the lifecycle event bus.
type EventsConfig struct {
	// BufferSize is the in-memory event ring capacity.
	BufferSize int // default: 2000

	// PersistPath appends events as JSONL; empty disables persistence.
	PersistPath string
}

// CacheConfig controls the per-site result cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached item results.
	MaxEntries int // default: 1000

	// TTL is how long a cached result stays valid.
	TTL time.Duration // default: 15m
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key API rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CoordinatorConfig controls result delivery to the coordinator service.
type CoordinatorConfig struct {
	// CallbackURL receives signed job results; empty disables delivery.
	CallbackURL string

	// Secret signs callback payloads with HMAC-SHA256.
	Secret string

	// Timeout bounds one delivery attempt.
	Timeout time.Duration // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PROWL_HOST", "0.0.0.0"),
			Port: envIntOr("PROWL_PORT", 8080),
			Mode: envOr("PROWL_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("PROWL_HEADLESS", true),
			DefaultProxy:      os.Getenv("PROWL_PROXY"),
			NoSandbox:         envBoolOr("PROWL_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("PROWL_BROWSER_BIN"),
			NavigationTimeout: envDurationOr("PROWL_NAV_TIMEOUT", 15*time.Second),
			PollInterval:      envDurationOr("PROWL_POLL_INTERVAL", 250*time.Millisecond),
			BlockedResourceTypes: envSliceOr("PROWL_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Runner: RunnerConfig{
			MaxWorkers:         envIntOr("PROWL_MAX_WORKERS", 3),
			DefaultStepTimeout: envDurationOr("PROWL_STEP_TIMEOUT", 30*time.Second),
			ConfigDir:          envOr("PROWL_CONFIG_DIR", "configs"),
			OutputDir:          envOr("PROWL_OUTPUT_DIR", "output"),
		},
		Retry: RetryConfig{
			HistoryPath: envOr("PROWL_RETRY_HISTORY", "data/retry_history.json"),
		},
		Session: SessionConfig{
			Timeout: envDurationOr("PROWL_SESSION_TIMEOUT", 30*time.Minute),
		},
		Events: EventsConfig{
			BufferSize:  envIntOr("PROWL_EVENT_BUFFER", 2000),
			PersistPath: os.Getenv("PROWL_EVENT_LOG"),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PROWL_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("PROWL_CACHE_TTL", 15*time.Minute),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PROWL_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PROWL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PROWL_RATE_RPS", 5.0),
			Burst:             envIntOr("PROWL_RATE_BURST", 10),
		},
		Coordinator: CoordinatorConfig{
			CallbackURL: os.Getenv("PROWL_COORDINATOR_URL"),
			Secret:      os.Getenv("PROWL_COORDINATOR_SECRET"),
			Timeout:     envDurationOr("PROWL_COORDINATOR_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("PROWL_LOG_LEVEL", "info"),
			Format: envOr("PROWL_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
