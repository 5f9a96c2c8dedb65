// Package config loads the orchestrator's configuration: environment
// variables (via godotenv) layered on top of an optional TOML file, with
// environment variables always winning. This mirrors the teacher's
// env-first Load() pattern, extended with a file layer for the richer set
// of scheduler/review/snapshot/executor/matcher knobs the workflow engine
// needs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Review holds the Reviewer Facade's configuration.
type Review struct {
	Enabled            bool    `toml:"enabled"`
	ReviewAllSteps     bool    `toml:"review_all_steps"`
	ReviewFinalOnly    bool    `toml:"review_final_only"`
	CriticalSteps      []int   `toml:"critical_steps"`
	QualityThreshold   float64 `toml:"quality_threshold"`
	MaxRetries         int     `toml:"max_retries"`
	EnableRollback     bool    `toml:"enable_rollback"`
	ReviewerCapability string  `toml:"reviewer_capability"`
}

// Parallel holds the scheduler's wave concurrency configuration.
type Parallel struct {
	MaxParallel  int    `toml:"max_parallel"`
	FailStrategy string `toml:"fail_strategy"` // "continue" or "abort"
}

// Snapshot holds the Snapshot Manager's eviction configuration.
type Snapshot struct {
	MaxPerTrace int `toml:"max_per_trace"`
}

// Executor holds the Executor Facade's HTTP retry configuration.
type Executor struct {
	RetryTimes  int           `toml:"retry_times"`
	RetryDelay  time.Duration `toml:"-"`
	RetryDelayS int           `toml:"retry_delay_seconds"`
	Timeout     time.Duration `toml:"-"`
	TimeoutS    int           `toml:"timeout_seconds"`
}

// Matcher holds the Matcher Facade's cache and discovery configuration.
type Matcher struct {
	CacheTTL      time.Duration `toml:"-"`
	CacheTTLS     int    `toml:"cache_ttl_seconds"`
	AssistURL     string `toml:"assist_url"`
	FindAgentURL  string `toml:"find_agent_url"`
	ListAgentsURL string `toml:"list_agents_url"`
	AssistedFirst bool   `toml:"assisted_first"`
}

// Redis holds connection settings for the agent directory / matcher cache.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled        bool    `toml:"enabled"`
	OTLPEndpoint   string  `toml:"otlp_endpoint"`
	ServiceName    string  `toml:"service_name"`
	SampleFraction float64 `toml:"sample_fraction"`
}

// Parser holds the Parser collaborator's endpoint.
type Parser struct {
	URL string `toml:"url"`
}

// Config is the fully resolved orchestrator configuration.
type Config struct {
	Port        int    `toml:"port"`
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`

	Review    Review    `toml:"review"`
	Parallel  Parallel  `toml:"parallel"`
	Snapshot  Snapshot  `toml:"snapshot"`
	Executor  Executor  `toml:"executor"`
	Matcher   Matcher   `toml:"matcher"`
	Redis     Redis     `toml:"redis"`
	Telemetry Telemetry `toml:"telemetry"`
	Parser    Parser    `toml:"parser"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Port:        8080,
		Environment: "development",
		LogLevel:    "info",
		Review: Review{
			Enabled:            true,
			ReviewAllSteps:     false,
			ReviewFinalOnly:    true,
			CriticalSteps:      nil,
			QualityThreshold:   0.7,
			MaxRetries:         3,
			EnableRollback:     true,
			ReviewerCapability: "quality_review",
		},
		Parallel: Parallel{
			MaxParallel:  5,
			FailStrategy: "continue",
		},
		Snapshot: Snapshot{
			MaxPerTrace: 50,
		},
		Executor: Executor{
			RetryTimes: 3,
			RetryDelay: 1 * time.Second,
			Timeout:    60 * time.Second,
		},
		Matcher: Matcher{
			CacheTTL: 10 * time.Minute,
		},
		Redis: Redis{
			Addr: "localhost:6379",
			DB:   0,
		},
		Telemetry: Telemetry{
			Enabled:        false,
			ServiceName:    "weavecore-orchestrator",
			SampleFraction: 1.0,
		},
	}
}

// Load resolves configuration in three layers, lowest to highest
// precedence: built-in defaults, an optional TOML file (path from
// CONFIG_FILE, default "config.toml" if present), then environment
// variables loaded via godotenv.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_FILE", "config.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present; ignore error, same as the teacher's
	// config.Load().
	godotenv.Load()

	applyEnvOverrides(cfg)
	resolveDurations(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("REVIEW_ENABLED"); v != "" {
		cfg.Review.Enabled = v == "true"
	}
	if v := os.Getenv("REVIEW_QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Review.QualityThreshold = f
		}
	}
	if v := os.Getenv("REVIEW_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Review.MaxRetries = n
		}
	}
	cfg.Review.ReviewerCapability = getEnv("REVIEW_REVIEWER_CAPABILITY", cfg.Review.ReviewerCapability)

	if v := os.Getenv("PARALLEL_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Parallel.MaxParallel = n
		}
	}
	if v := os.Getenv("PARALLEL_FAIL_STRATEGY"); v != "" {
		cfg.Parallel.FailStrategy = v
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Matcher.AssistURL = getEnv("MATCHER_ASSIST_URL", cfg.Matcher.AssistURL)
	cfg.Matcher.FindAgentURL = getEnv("MATCHER_FIND_AGENT_URL", cfg.Matcher.FindAgentURL)
	cfg.Matcher.ListAgentsURL = getEnv("MATCHER_LIST_AGENTS_URL", cfg.Matcher.ListAgentsURL)

	cfg.Parser.URL = getEnv("PARSER_URL", cfg.Parser.URL)

	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true"
	}
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
}

// resolveDurations converts the TOML-friendly integer-seconds fields into
// time.Duration without clobbering a Default() value when the file/env
// didn't specify seconds explicitly.
func resolveDurations(cfg *Config) {
	if cfg.Executor.RetryDelayS > 0 {
		cfg.Executor.RetryDelay = time.Duration(cfg.Executor.RetryDelayS) * time.Second
	}
	if cfg.Executor.TimeoutS > 0 {
		cfg.Executor.Timeout = time.Duration(cfg.Executor.TimeoutS) * time.Second
	}
	if cfg.Matcher.CacheTTLS > 0 {
		cfg.Matcher.CacheTTL = time.Duration(cfg.Matcher.CacheTTLS) * time.Second
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
