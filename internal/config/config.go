// Package config loads and validates the process environment for the
// conversation state core.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the full set of environment variables the core recognizes, bound
// with caarlos0/env. Unrecognized env vars (e.g. a host's RooSync settings)
// are simply never read by this struct.
type Env struct {
	VectorStoreURL        string `env:"VECTOR_STORE_URL"`
	VectorStoreAPIKey     string `env:"VECTOR_STORE_API_KEY"`
	VectorStoreCollection string `env:"VECTOR_STORE_COLLECTION" envDefault:"conversation_tasks"`

	EmbeddingBaseURL   string `env:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey    string `env:"EMBEDDING_API_KEY"`
	EmbeddingModel     string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDimension int    `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`

	StorageRoots string `env:"STORAGE_ROOTS"`

	MinReindexIntervalMS int64 `env:"MIN_REINDEX_INTERVAL_MS" envDefault:"14400000"`
	MaxReindexIntervalMS int64 `env:"MAX_REINDEX_INTERVAL_MS" envDefault:"86400000"`

	SchedulerIntervalMS int64 `env:"SCHEDULER_INTERVAL_MS" envDefault:"300000"`

	HierarchyMinPrefixLen      int   `env:"HIERARCHY_MIN_PREFIX_LEN" envDefault:"32"`
	HierarchyProximityWindowMS int64 `env:"HIERARCHY_PROXIMITY_WINDOW_MS" envDefault:"600000"`

	CacheManifestPath string `env:"CACHE_MANIFEST_PATH" envDefault:"./convstate-cache.json"`
	IndexSidecarPath  string `env:"INDEX_SIDECAR_PATH" envDefault:"./convstate-index.db"`

	EmbeddingConcurrency int `env:"EMBEDDING_CONCURRENCY" envDefault:"4"`
	BreakerFailThreshold int `env:"BREAKER_FAIL_THRESHOLD" envDefault:"5"`

	StorageScanConcurrency int `env:"STORAGE_SCAN_CONCURRENCY" envDefault:"8"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// MinReindexInterval returns the MIN_REINDEX_INTERVAL_MS field as a Duration.
func (e *Env) MinReindexInterval() time.Duration {
	return time.Duration(e.MinReindexIntervalMS) * time.Millisecond
}

// MaxReindexInterval returns the MAX_REINDEX_INTERVAL_MS field as a Duration.
func (e *Env) MaxReindexInterval() time.Duration {
	return time.Duration(e.MaxReindexIntervalMS) * time.Millisecond
}

// SchedulerInterval returns the SCHEDULER_INTERVAL_MS field as a Duration.
func (e *Env) SchedulerInterval() time.Duration {
	return time.Duration(e.SchedulerIntervalMS) * time.Millisecond
}

// HierarchyProximityWindow returns HIERARCHY_PROXIMITY_WINDOW_MS as a Duration.
func (e *Env) HierarchyProximityWindow() time.Duration {
	return time.Duration(e.HierarchyProximityWindowMS) * time.Millisecond
}

// StorageRootList splits STORAGE_ROOTS on ':' or ';', trimming blanks.
func (e *Env) StorageRootList() []string {
	if e.StorageRoots == "" {
		return nil
	}
	sep := ":"
	if strings.Contains(e.StorageRoots, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(e.StorageRoots, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads and validates the process environment. A missing vector-store
// or embedding credential is a fatal config error per the exit-code contract:
// callers are expected to os.Exit(1) on a non-nil error at startup.
func Load() (*Env, error) {
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config_error: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Env) error {
	if cfg.VectorStoreURL == "" {
		return fmt.Errorf("config_error: VECTOR_STORE_URL is required")
	}
	if cfg.EmbeddingBaseURL == "" {
		return fmt.Errorf("config_error: EMBEDDING_BASE_URL is required")
	}
	if cfg.MinReindexIntervalMS <= 0 || cfg.MaxReindexIntervalMS <= 0 {
		return fmt.Errorf("config_error: reindex interval bounds must be positive")
	}
	if cfg.MinReindexIntervalMS > cfg.MaxReindexIntervalMS {
		return fmt.Errorf("config_error: MIN_REINDEX_INTERVAL_MS must not exceed MAX_REINDEX_INTERVAL_MS")
	}
	if cfg.SchedulerIntervalMS <= 0 {
		return fmt.Errorf("config_error: SCHEDULER_INTERVAL_MS must be positive")
	}
	if cfg.EmbeddingConcurrency <= 0 {
		return fmt.Errorf("config_error: EMBEDDING_CONCURRENCY must be positive")
	}
	return nil
}
