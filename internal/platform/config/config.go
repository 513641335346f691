package config

import (
	"os"
	"strconv"
	"time"
)

// Pipeline captures process level configuration.
type Pipeline struct {
	PostgresDSN string
	RedisURL    string
	PolicyPath  string
	InputDir    string
	MetricsAddr string
	Parallelism int
	CacheTTL    time.Duration
}

// FromEnv builds a Pipeline config from environment variables so main stays lean.
func FromEnv() Pipeline {
	cfg := Pipeline{
		PostgresDSN: os.Getenv("CIRCFLOW_POSTGRES_DSN"),
		RedisURL:    os.Getenv("CIRCFLOW_REDIS_URL"),
		PolicyPath:  os.Getenv("CIRCFLOW_POLICY_PATH"),
		InputDir:    os.Getenv("CIRCFLOW_INPUT_DIR"),
		MetricsAddr: os.Getenv("CIRCFLOW_METRICS_ADDR"),
		Parallelism: 4,
		CacheTTL:    10 * time.Minute,
	}
	if cfg.PolicyPath == "" {
		cfg.PolicyPath = "policy.yaml"
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "handoff"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if raw := os.Getenv("CIRCFLOW_PARALLELISM"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Parallelism = n
		}
	}
	if raw := os.Getenv("CIRCFLOW_CACHE_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.CacheTTL = d
		}
	}
	return cfg
}
