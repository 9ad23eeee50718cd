package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brustt/logistics-sprawl/internal/cache"
)

var cachePrefix string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the artifact cache",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		keys, err := env.Cache.List(cmd.Context(), cachePrefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k.String())
		}
		return nil
	},
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm KEY...",
	Short: "Delete cached artifacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := make([]cache.Key, 0, len(args))
		for _, a := range args {
			k, err := cache.ParseKey(a)
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		for _, k := range keys {
			if err := env.Cache.Delete(cmd.Context(), k); err != nil {
				return eris.Wrapf(err, "delete %s", k)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", k)
		}
		return nil
	},
}

var cacheMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the artifact tables of the sqlite or postgres backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening a backend applies its migration.
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "cache backend %q ready\n", backendName())
		return nil
	},
}

func backendName() string {
	if cfg.Cache.Backend == "" {
		return "fs"
	}
	return cfg.Cache.Backend
}

func init() {
	cacheLsCmd.Flags().StringVar(&cachePrefix, "prefix", "", "key prefix, e.g. matched/lyon/")
	cacheCmd.AddCommand(cacheLsCmd, cacheRmCmd, cacheMigrateCmd)
	rootCmd.AddCommand(cacheCmd)
}
