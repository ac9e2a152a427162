package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nivo-analytics/screener-cli/internal/analysis"
	"github.com/nivo-analytics/screener-cli/internal/model"
)

var (
	analyzeMode         string
	analyzeInstructions string
	analyzeInitiatedBy  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <orgnr> [orgnr...]",
	Short: "Run AI acquisition analysis on migrated companies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analysis"); err != nil {
			return err
		}

		mode := model.AnalysisMode(analyzeMode)
		if mode != model.ModeScreening && mode != model.ModeDeep {
			return eris.Errorf("cmd: unknown analysis mode %q", analyzeMode)
		}

		env, err := initProd(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Analyzer.Run(ctx, analysis.Request{
			OrgNrs:       args,
			Mode:         mode,
			Instructions: analyzeInstructions,
			InitiatedBy:  analyzeInitiatedBy,
		})
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(outcome)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show analysis run history, or one run in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initProd(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			detail, err := env.Analytics.GetRunDetail(ctx, args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(detail)
		}

		limit := 20
		if raw, _ := cmd.Flags().GetString("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return eris.Wrap(err, "cmd: parse limit")
			}
			limit = n
		}
		history, err := env.Analytics.RunHistory(ctx, limit)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(history)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", string(model.ModeDeep), "analysis mode: deep or screening")
	analyzeCmd.Flags().StringVar(&analyzeInstructions, "instructions", "", "extra instructions passed to the model")
	analyzeCmd.Flags().StringVar(&analyzeInitiatedBy, "initiated-by", "cli", "who started the run")

	runsCmd.Flags().String("limit", "", "max runs to list")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runsCmd)
}
