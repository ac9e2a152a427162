package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

var scrapeFilter model.SegmentFilter

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run stage 1: segmentation scrape into a new staging job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Runner.Start(ctx, scrapeFilter)
		if err != nil {
			return err
		}
		fmt.Printf("job %s created\n", job.ID)

		if err := env.Runner.Segment(ctx, job.ID); err != nil {
			return err
		}

		return printJob(cmd, env, job.ID)
	},
}

var scrapeResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or interrupted segmentation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Runner.Segment(ctx, args[0]); err != nil {
			return err
		}
		return printJob(cmd, env, args[0])
	},
}

var scrapePauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Runner.Pause(cmd.Context(), args[0]); err != nil {
			return err
		}
		return printJob(cmd, env, args[0])
	},
}

var scrapeStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Abort a job permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Runner.Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		return printJob(cmd, env, args[0])
	},
}

var scrapeStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a staging job's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()
		return printJob(cmd, env, args[0])
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List all staging jobs with their row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initScrape()
		if err != nil {
			return err
		}
		defer env.Close()

		sessions, err := env.Staging.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(sessions)
	},
}

func printJob(cmd *cobra.Command, env *scrapeEnv, jobID string) error {
	job, err := env.Staging.GetJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	stats, err := env.Staging.Stats(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"job":   job,
		"stats": stats,
	})
}

func init() {
	scrapeCmd.Flags().Float64Var(&scrapeFilter.RevenueFrom, "revenue-from", 0, "revenue lower bound (MSEK)")
	scrapeCmd.Flags().Float64Var(&scrapeFilter.RevenueTo, "revenue-to", 0, "revenue upper bound (MSEK)")
	scrapeCmd.Flags().Float64Var(&scrapeFilter.ProfitFrom, "profit-from", 0, "profit lower bound (MSEK)")
	scrapeCmd.Flags().Float64Var(&scrapeFilter.ProfitTo, "profit-to", 0, "profit upper bound (MSEK)")
	scrapeCmd.Flags().StringVar(&scrapeFilter.CompanyType, "company-type", "AB", "company type filter")

	scrapeCmd.AddCommand(scrapeResumeCmd)
	scrapeCmd.AddCommand(scrapePauseCmd)
	scrapeCmd.AddCommand(scrapeStopCmd)
	scrapeCmd.AddCommand(scrapeStatusCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(sessionsCmd)
}
