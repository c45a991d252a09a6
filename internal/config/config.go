// Package config provides worker configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/engine-worker/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Config holds engine-worker configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"engine-worker"`

	// WorkerID identifies this worker in ready events and the journal.
	// serve assigns a random UUID when it is empty; CLI commands leave it empty.
	WorkerID string `envconfig:"WORKER_ID"`

	// Subjects
	EngineSubject      string `envconfig:"ENGINE_SUBJECT" default:"engine.worker.v1"`
	EngineQueueGroup   string `envconfig:"ENGINE_QUEUE_GROUP"`
	EngineReadySubject string `envconfig:"ENGINE_READY_SUBJECT"`

	// Engine
	EngineWasmURL     string `envconfig:"ENGINE_WASM_URL" default:"engine_bg.wasm"`
	EngineMinVersion  string `envconfig:"ENGINE_MIN_VERSION"`
	EngineMemoryPages uint32 `envconfig:"ENGINE_MEMORY_PAGES" default:"0"`

	// Rate limiting per caller (0 = unlimited)
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"0"`

	// Journal database (empty = journal disabled)
	JournalDatabaseURL string `envconfig:"JOURNAL_DATABASE_URL"`
	RunMigrations      bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// CallTimeout bounds how long the call command waits for a response.
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// EnsureWorkerID assigns a random UUID when WORKER_ID is unset and returns the id.
func (c *Config) EnsureWorkerID() string {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	return c.WorkerID
}

// JournalEnabled reports whether calls should be journaled.
func (c *Config) JournalEnabled() bool {
	return c.JournalDatabaseURL != ""
}

// ValidateForServe checks required config when running the worker.
func (c *Config) ValidateForServe() error {
	if c.EngineWasmURL == "" {
		return fmt.Errorf("%s - ENGINE_WASM_URL is required for serve", logPrefix)
	}
	if c.EngineSubject == "" {
		return fmt.Errorf("%s - ENGINE_SUBJECT is required for serve", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("%s - RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative", logPrefix)
	}
	if (c.RateLimitRPS > 0) != (c.RateLimitBurst > 0) {
		return fmt.Errorf("%s - RATE_LIMIT_RPS and RATE_LIMIT_BURST must be set together", logPrefix)
	}
	if _, err := semver.ParseRequirement(c.EngineMinVersion); err != nil {
		return fmt.Errorf("%s - ENGINE_MIN_VERSION: %w", logPrefix, err)
	}
	if c.RunMigrations && !c.JournalEnabled() {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires JOURNAL_DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForCall checks required config for the call command.
func (c *Config) ValidateForCall() error {
	if c.EngineSubject == "" {
		return fmt.Errorf("%s - ENGINE_SUBJECT is required", logPrefix)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - CALL_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config for the migrate command.
func (c *Config) ValidateForDB() error {
	if c.JournalDatabaseURL == "" {
		return fmt.Errorf("%s - JOURNAL_DATABASE_URL is required", logPrefix)
	}
	return nil
}
