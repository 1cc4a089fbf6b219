package main

import (
	"os"

	"ledgerindexer/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg *config.IndexerConfig
	log = logrus.New()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Ledger ingestion and reconciliation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetFormatter(&logrus.JSONFormatter{})

			loaded, err := config.LoadIndexerConfig()
			if err != nil {
				return err
			}
			cfg = loaded

			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				log.WithField("level", cfg.LogLevel).Warn("Invalid LOG_LEVEL, using info")
				level = logrus.InfoLevel
			}
			log.SetLevel(level)
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(),
		newBackfillCmd(),
		newReconcileCmd(),
		newInspectCmd(),
		newMigrateCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithField("error", err).Error("Command failed")
		os.Exit(1)
	}
}
