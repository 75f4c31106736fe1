package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dukerupert/ticketeer/internal/config"
	"github.com/dukerupert/ticketeer/internal/database"
	"github.com/dukerupert/ticketeer/internal/errutil"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending embedded migrations to the SQLite database and report the schema version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}

			path := cfg.DatabasePath()
			cmd.Printf("Migrating %s...\n", path)
			db, err := database.Open(path)
			if err != nil {
				return oops.Code(errutil.CodeDependency).With("path", path).Wrapf(err, "run migrations")
			}
			defer db.Close()

			v, err := database.Version(db)
			if err != nil {
				return oops.Code(errutil.CodeDependency).With("operation", "read schema version").Wrap(err)
			}
			cmd.Printf("Migrations completed, schema version %d\n", v)
			return nil
		},
	}
}
