package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dagrun/dagrun/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "dagrunctl",
	Short: "Plan, execute, and schedule goal-driven DAGs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("db-driver", "memory", "repository backend: memory, sqlite, or postgres")
	flags.String("db-dsn", "", "data source name for the sqlite/postgres db-driver")
	flags.String("default-agent", "", "agent name used when --agent is not given")
	flags.String("model-provider", "anthropic", "chat provider: anthropic, openai, or bedrock")
	flags.String("model-name", "", "model identifier passed to the chat provider")
	flags.String("model-api-key", "", "API key for the anthropic/openai provider")
	flags.String("aws-region", "us-east-1", "AWS region for the bedrock provider")
	flags.Int("max-planner-attempts", 0, "override the planner's bounded refinement attempt budget (0 = default)")
	flags.String("http-addr", ":8080", "address the transport layer would bind to (not served by this module)")
	flags.Bool("scheduler-overlap-guard", false, "skip a cron firing while the DAG's prior firing is still running")

	for _, name := range []string{
		"db-driver", "db-dsn", "default-agent", "model-provider", "model-name",
		"model-api-key", "aws-region", "max-planner-attempts", "http-addr", "scheduler-overlap-guard",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("dagrun")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// loadConfig resolves the Config from whatever flags, environment
// variables, and .env values viper has accumulated by the time a
// subcommand runs.
func loadConfig() (config.Config, error) {
	cfg := config.Config{
		HTTPAddr:           viper.GetString("http-addr"),
		DBDriver:           viper.GetString("db-driver"),
		DBDSN:              viper.GetString("db-dsn"),
		DefaultAgent:       viper.GetString("default-agent"),
		ModelProvider:      viper.GetString("model-provider"),
		ModelName:          viper.GetString("model-name"),
		ModelAPIKey:        viper.GetString("model-api-key"),
		AWSRegion:             viper.GetString("aws-region"),
		MaxPlannerAttempts:    viper.GetInt("max-planner-attempts"),
		SchedulerOverlapGuard: viper.GetBool("scheduler-overlap-guard"),
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
