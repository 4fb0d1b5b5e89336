// Package config collects the runtime configuration every dagrunctl
// subcommand needs, populated by viper from flags, environment variables,
// and an optional .env file.
package config

import "fmt"

// Config is the resolved runtime configuration for a dagrunctl process.
type Config struct {
	// HTTPAddr is the address the (out-of-scope) transport layer would bind
	// to; carried here so the flag surface matches a real service even
	// though this module does not implement the HTTP transport itself.
	HTTPAddr string

	// DBDriver selects the Repository implementation: "memory", "sqlite",
	// or "postgres". Both "sqlite" and "postgres" open sqlstore with DBDSN,
	// and the DSN's scheme, not this field, picks the SQL dialect.
	DBDriver string
	// DBDSN is the data source name passed to sqlstore.Open for sqlite/
	// postgres drivers; ignored for "memory".
	DBDSN string

	// DefaultAgent is the agent name used by `dagrunctl plan` when none is
	// given explicitly.
	DefaultAgent string

	// ModelProvider selects the Chat implementation: "anthropic", "openai",
	// or "bedrock".
	ModelProvider string
	ModelName     string
	ModelAPIKey   string
	AWSRegion     string

	// MaxPlannerAttempts overrides planner.DefaultMaxAttempts when non-zero.
	MaxPlannerAttempts int

	// SchedulerOverlapGuard enables the optional per-DAG overlap guard: a
	// cron firing is skipped if the prior firing's Execution has not yet
	// reached a terminal status. Off by default.
	SchedulerOverlapGuard bool
}

// Validate checks the minimal invariants a process needs before starting:
// a known driver, and a DSN whenever the driver requires one.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("config: db-driver %q requires a db-dsn", c.DBDriver)
		}
	default:
		return fmt.Errorf("config: unknown db-driver %q", c.DBDriver)
	}

	switch c.ModelProvider {
	case "anthropic", "openai", "bedrock":
	default:
		return fmt.Errorf("config: unknown model-provider %q", c.ModelProvider)
	}
	return nil
}
