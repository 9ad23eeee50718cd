package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sprawl",
	Short: "Warehouse matching and logistics sprawl statistics",
	Long:  "Filters the establishment registry, builds study zones around metro centers, matches warehouses to building footprints and reports sprawl indicators between epochs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
