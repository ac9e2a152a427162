package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/export"
)

var (
	exportQuery string
	exportLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export production data to xlsx",
}

var exportCompaniesCmd = &cobra.Command{
	Use:   "companies <path>",
	Short: "Export companies with their latest analysis to an xlsx file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initProd(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		exp := export.New(env.Analytics, zap.L())
		n, err := exp.Companies(ctx, args[0], analytics.CompanyFilter{
			Query: exportQuery,
			Limit: exportLimit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d companies to %s\n", n, args[0])
		return nil
	},
}

var exportRunCmd = &cobra.Command{
	Use:   "run <run-id> <path>",
	Short: "Export one analysis run to an xlsx file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initProd(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		exp := export.New(env.Analytics, zap.L())
		n, err := exp.Run(ctx, args[1], args[0])
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d rows to %s\n", n, args[1])
		return nil
	},
}

var exportValidationCmd = &cobra.Command{
	Use:   "validation <job-id> <path>",
	Short: "Export a staged job's validation report to an xlsx file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Staging.ValidationSummary(ctx, args[0])
		if err != nil {
			return err
		}
		n, err := export.Validation(args[1], summary)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d verdicts to %s\n", n, args[1])
		return nil
	},
}

func init() {
	exportCompaniesCmd.Flags().StringVar(&exportQuery, "query", "", "filter by name or orgnr")
	exportCompaniesCmd.Flags().IntVar(&exportLimit, "limit", 1000, "max companies to export")

	exportCmd.AddCommand(exportCompaniesCmd)
	exportCmd.AddCommand(exportRunCmd)
	exportCmd.AddCommand(exportValidationCmd)
	rootCmd.AddCommand(exportCmd)
}
