// Package config loads the record service configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type ConfigParam struct {
	// MaxQueryLimit clamps the page size of runtime queries.
	MaxQueryLimit int `toml:"max_query_limit"`
	// DefaultQueryLimit applies when a query asks for zero rows.
	DefaultQueryLimit int `toml:"default_query_limit"`
	// WorkerLeaseSeconds is the default lease duration for queue claims.
	WorkerLeaseSeconds int `toml:"worker_lease_seconds"`
	// WorkerClaimLimit is the default batch size for queue claims.
	WorkerClaimLimit int `toml:"worker_claim_limit"`
	// WorkerPollInterval is the queue poll interval, e.g. "2s".
	WorkerPollInterval string `toml:"worker_poll_interval"`
	// CalculationTimeoutMillis bounds calculated-field expression evaluation.
	CalculationTimeoutMillis int `toml:"calculation_timeout_millis"`
	// AuditRetentionDays is the default audit purge horizon.
	AuditRetentionDays int `toml:"audit_retention_days"`
	// CompressSchemaSnapshots enables snappy compression of published schema
	// documents at rest.
	CompressSchemaSnapshots bool `toml:"compress_schema_snapshots"`
}

var cfg *ConfigParam

// Config returns the loaded configuration.
func Config() *ConfigParam {
	return cfg
}

// LoadConfig reads configuration from the given TOML file. An empty filename
// loads defaults.
func LoadConfig(filename string) error {
	if filename == "" {
		cfg = defaults()
		return nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	cp := defaults()
	if _, err := toml.Decode(string(content), cp); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}
	cfg = cp
	return nil
}

func defaults() *ConfigParam {
	return &ConfigParam{
		MaxQueryLimit:            500,
		DefaultQueryLimit:        50,
		WorkerLeaseSeconds:       30,
		WorkerClaimLimit:         10,
		WorkerPollInterval:       "2s",
		CalculationTimeoutMillis: 500,
		AuditRetentionDays:       365,
		CompressSchemaSnapshots:  true,
	}
}

// WorkerPoll parses the configured poll interval, falling back to 2s.
func (c *ConfigParam) WorkerPoll() time.Duration {
	d, err := time.ParseDuration(c.WorkerPollInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// CalculationTimeout returns the expression evaluation bound.
func (c *ConfigParam) CalculationTimeout() time.Duration {
	if c.CalculationTimeoutMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.CalculationTimeoutMillis) * time.Millisecond
}

func init() {
	if err := LoadConfig(""); err != nil {
		panic(err)
	}
}
