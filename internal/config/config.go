package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed once at process start and threaded explicitly into the
// worker, the orchestrator and the provider adapters. Nothing below cmd/
// reads the environment.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"POSTGRES_DSN,notEmpty"`

	// Optional hot cache in front of the durable scrape_cache table.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Scoring provider. Empty key means heuristics-only stages.
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenAIVisionModel string `env:"OPENAI_VISION_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITextModel   string `env:"OPENAI_TEXT_MODEL" envDefault:"gpt-4o-mini"`

	// Managed scraping actor. Empty key means direct fetch only.
	ApifyAPIKey       string        `env:"APIFY_API_KEY"`
	ApifyActorID      string        `env:"APIFY_ACTOR_ID" envDefault:"apify~web-scraper"`
	ApifyMaxAttempts  int           `env:"APIFY_MAX_ATTEMPTS" envDefault:"2"`
	ApifyRetryBase    time.Duration `env:"APIFY_RETRY_BASE" envDefault:"1200ms"`
	ApifyRunTimeout   time.Duration `env:"APIFY_RUN_TIMEOUT" envDefault:"180s"`
	ApifyPollInterval time.Duration `env:"APIFY_POLL_INTERVAL" envDefault:"2s"`
	DirectMaxAttempts int           `env:"DIRECT_FETCH_MAX_ATTEMPTS" envDefault:"2"`
	DirectRetryBase   time.Duration `env:"DIRECT_FETCH_RETRY_BASE" envDefault:"800ms"`

	// Claim loop and sweeps.
	PollInterval        time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	RecoveryMaxJobs     int           `env:"WORKER_RECOVERY_MAX_JOBS" envDefault:"200"`
	ProcessingStale     time.Duration `env:"WORKER_RECOVERY_PROCESSING_STALE" envDefault:"15m"`
	SeedingStale        time.Duration `env:"WORKER_RECOVERY_SEEDING_STALE" envDefault:"3m"`
	CleanupInterval     time.Duration `env:"WORKER_CLEANUP_INTERVAL" envDefault:"1h"`
	ScrapeCacheTTL      time.Duration `env:"SCRAPE_CACHE_TTL" envDefault:"168h"`
	AnalyticsRetention  time.Duration `env:"ANALYTICS_EVENTS_RETENTION" envDefault:"720h"`
	TelemetryBufferSize int           `env:"TELEMETRY_BUFFER_SIZE" envDefault:"256"`
}

// Load parses the environment and clamps every numeric knob into its sane
// range, so a typo in an env var degrades to a usable value instead of a
// pathological loop.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	c.Clamp()
	return c, nil
}

// Clamp bounds the tunables. Exported so tests can build configs by hand and
// normalize them the same way Load does.
func (c *Config) Clamp() {
	c.ApifyMaxAttempts = clampInt(c.ApifyMaxAttempts, 1, 5)
	c.ApifyRetryBase = clampDur(c.ApifyRetryBase, 200*time.Millisecond, 5*time.Second)
	c.ApifyRunTimeout = clampDur(c.ApifyRunTimeout, 30*time.Second, 15*time.Minute)
	c.ApifyPollInterval = clampDur(c.ApifyPollInterval, time.Second, 30*time.Second)
	c.DirectMaxAttempts = clampInt(c.DirectMaxAttempts, 1, 4)
	c.DirectRetryBase = clampDur(c.DirectRetryBase, 200*time.Millisecond, 4*time.Second)
	c.PollInterval = clampDur(c.PollInterval, 500*time.Millisecond, time.Minute)
	c.RecoveryMaxJobs = clampInt(c.RecoveryMaxJobs, 1, 1000)
	c.ProcessingStale = clampDur(c.ProcessingStale, time.Minute, 24*time.Hour)
	c.SeedingStale = clampDur(c.SeedingStale, 30*time.Second, 24*time.Hour)
	c.CleanupInterval = clampDur(c.CleanupInterval, time.Minute, 24*time.Hour)
	c.ScrapeCacheTTL = clampDur(c.ScrapeCacheTTL, 24*time.Hour, 365*24*time.Hour)
	c.AnalyticsRetention = clampDur(c.AnalyticsRetention, 24*time.Hour, 3650*24*time.Hour)
	c.TelemetryBufferSize = clampInt(c.TelemetryBufferSize, 16, 8192)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampDur(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
