package main

import (
	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/internal/repository/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the relational schema to the configured sqlite/postgres db-dsn",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlstore.Open(cmd.Context(), cfg.DBDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Migrate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
