package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/pipeline"
	"github.com/brustt/logistics-sprawl/internal/topo"
)

var (
	stageArea   string
	stageDate   string
	stageYear   int
	stageRadius int
	exportOut   string
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Filter the registry to the warehousing establishments active at a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := pipeline.New(cfg, env.Deps(), config.Region{}, stageDate)
		if err != nil {
			return err
		}
		recs, err := r.Registry(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d establishments active at %s\n", len(recs), stageDate)
		return nil
	},
}

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Build the study zone and the geocoded establishments inside it",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := newRunner(env, stageArea, pipeline.YearDate(stageYear))
		if err != nil {
			return err
		}
		radius := radiusOrDefault()
		z, err := r.Zone(cmd.Context(), radius)
		if err != nil {
			return err
		}
		geo, err := r.GeoRegistry(cmd.Context(), radius)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "zone %s/%d r=%d: %d communes, population %d, %d geocoded establishments\n",
			r.Area(), r.Year(), radius, len(z.CommuneIDs), z.Population, len(geo))
		return nil
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match the warehouses of one radius to building footprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := newRunner(env, stageArea, stageDate)
		if err != nil {
			return err
		}
		radius := radiusOrDefault()
		bs, err := r.Run(cmd.Context(), radius)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "matched %s/%d r=%d: %d buildings\n", r.Area(), r.Year(), radius, len(bs))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage for every configured radius",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := newRunner(env, stageArea, stageDate)
		if err != nil {
			return err
		}
		out, err := r.RunAll(cmd.Context())
		if err != nil {
			return err
		}
		for _, radius := range cfg.Pipeline.Radii {
			fmt.Fprintf(cmd.OutOrStdout(), "r=%d: %d buildings\n", radius, len(out[radius]))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the matched buildings of one radius as a shapefile",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := newRunner(env, stageArea, stageDate)
		if err != nil {
			return err
		}
		radius := radiusOrDefault()
		bs, err := r.Run(cmd.Context(), radius)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = filepath.Join(cfg.Paths.ReportsDir, r.Area(), fmt.Sprintf("warehouses_%s_%d_r%d.shp", r.Area(), r.Year(), radius))
		}
		if err := ensureDir(filepath.Dir(out)); err != nil {
			return err
		}
		if err := topo.WriteBuildings(out, bs); err != nil {
			return eris.Wrap(err, "export buildings")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d buildings to %s\n", len(bs), out)
		return nil
	},
}

func radiusOrDefault() int {
	if stageRadius > 0 {
		return stageRadius
	}
	return cfg.Pipeline.DefaultRadius
}

func init() {
	filterCmd.Flags().StringVar(&stageDate, "date", "", "reference date (YYYY-MM-DD)")
	_ = filterCmd.MarkFlagRequired("date")

	zoneCmd.Flags().StringVar(&stageArea, "area", "lyon", "region name")
	zoneCmd.Flags().IntVar(&stageYear, "year", 0, "layer year")
	zoneCmd.Flags().IntVar(&stageRadius, "radius", 0, "buffer radius in metres (default from config)")
	_ = zoneCmd.MarkFlagRequired("year")

	for _, c := range []*cobra.Command{matchCmd, runCmd, exportCmd} {
		c.Flags().StringVar(&stageArea, "area", "lyon", "region name")
		c.Flags().StringVar(&stageDate, "date", "", "reference date (YYYY-MM-DD)")
		_ = c.MarkFlagRequired("date")
	}
	for _, c := range []*cobra.Command{matchCmd, exportCmd} {
		c.Flags().IntVar(&stageRadius, "radius", 0, "buffer radius in metres (default from config)")
	}
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output .shp path")

	rootCmd.AddCommand(filterCmd, zoneCmd, matchCmd, runCmd, exportCmd)
}
