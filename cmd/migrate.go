package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nivo-analytics/screener-cli/internal/migrate"
	"github.com/nivo-analytics/screener-cli/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <job-id>",
	Short: "Validate a staging job before migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		rules, err := validate.DefaultRules()
		if err != nil {
			return err
		}

		summary, err := validate.New(env.Staging, rules).Run(ctx, args[0])
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(summary)
	},
}

var (
	migrateIncludeWarnings bool
	migrateNoSkipDups      bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <job-id>",
	Short: "Migrate a validated staging job into the analytics database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initProd(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := migrate.DefaultOptions()
		opts.IncludeWarnings = migrateIncludeWarnings
		opts.SkipDuplicates = !migrateNoSkipDups

		result, err := env.Migrator.Run(ctx, args[0], opts)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(result)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateIncludeWarnings, "include-warnings", false, "also migrate companies with warning verdicts")
	migrateCmd.Flags().BoolVar(&migrateNoSkipDups, "no-skip-duplicates", false, "overwrite companies already in production")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(migrateCmd)
}
