package main

import (
	"ledgerindexer/internal/db/relational"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the relational schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := relational.NewDatabase(relational.Config{
				Driver:   cfg.DBDriver,
				DSN:      cfg.DBDSN,
				Host:     cfg.DBHost,
				Port:     cfg.DBPort,
				Database: cfg.DBName,
				Username: cfg.DBUser,
				Password: cfg.DBPassword,
				Debug:    cfg.DBDebug,
			}, log)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(); err != nil {
				return err
			}
			log.Info("Schema aggiornato")
			return nil
		},
	}
}
