package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brustt/logistics-sprawl/internal/pipeline"
	"github.com/brustt/logistics-sprawl/internal/stats"
)

var (
	analyzeArea  string
	analyzeStart string
	analyzeEnd   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute sprawl statistics between epochs and write the reports",
	Long:  "Without --start/--end every pair of configured years is analyzed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		region, err := lookupRegion(analyzeArea)
		if err != nil {
			return err
		}

		if analyzeStart == "" && analyzeEnd == "" {
			paths, err := pipeline.Report(cmd.Context(), cfg, env.Deps(), region)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		}

		rows, err := pipeline.Analyze(cmd.Context(), cfg, env.Deps(), region, analyzeStart, analyzeEnd)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		csvPath, xlsxPath, err := stats.WriteReport(cfg.Paths.ReportsDir, region.Slug(),
			rows[0].TimePeriodStart, rows[0].TimePeriodEnd, rows)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), csvPath)
		fmt.Fprintln(cmd.OutOrStdout(), xlsxPath)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeArea, "area", "lyon", "region name")
	analyzeCmd.Flags().StringVar(&analyzeStart, "start", "", "first epoch date (YYYY-MM-DD)")
	analyzeCmd.Flags().StringVar(&analyzeEnd, "end", "", "second epoch date (YYYY-MM-DD)")
	analyzeCmd.MarkFlagsRequiredTogether("start", "end")
	rootCmd.AddCommand(analyzeCmd)
}
