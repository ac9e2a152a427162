package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <job-id>",
	Short: "Run stage 2: resolve registry company ids for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Runner.Enrich(ctx, args[0])
		if err != nil {
			return err
		}
		return printStageResults(env, cmd, args[0], results)
	},
}

var financialsCmd = &cobra.Command{
	Use:   "financials <job-id>",
	Short: "Run stage 3: fetch annual reports for enriched companies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Runner.Financials(ctx, args[0])
		if err != nil {
			return err
		}
		return printStageResults(env, cmd, args[0], results)
	},
}

func printStageResults(env *scrapeEnv, cmd *cobra.Command, jobID string, results []model.ItemResult) error {
	job, err := env.Staging.GetJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"job":       job,
		"processed": len(results),
		"failed":    model.FailedItems(results),
	})
}

func init() {
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(financialsCmd)
}
