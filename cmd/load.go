package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/fetch"
	"github.com/landbase/parcel-cli/internal/loader"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load raw source data",
	Long:  "Downloads and parses source shapefile archives into the raw schema. Footprints can be promoted into the pipeline's building table, and roads polygonized into road blocks.",
}

var loadFootprintsCmd = &cobra.Command{
	Use:   "footprints",
	Short: "Load building footprints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("loader"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		rows, err := loader.Load(ctx, pool, newFetcher(), "footprints", opts)
		if err != nil {
			return eris.Wrap(err, "load footprints")
		}
		fmt.Printf("Loaded %d footprint(s) from %s\n", rows, opts.Source)

		promote, _ := cmd.Flags().GetBool("promote")
		if promote {
			buildings, err := loader.PromoteFootprints(ctx, pool, opts.Source, cfg.Parcel.MeasurementSRID)
			if err != nil {
				return eris.Wrap(err, "promote footprints")
			}
			fmt.Printf("Promoted %d building(s)\n", buildings)
		}
		return nil
	},
}

var loadRoadsCmd = &cobra.Command{
	Use:   "roads",
	Short: "Load the road network",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("loader"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		rows, err := loader.Load(ctx, pool, newFetcher(), "roads", opts)
		if err != nil {
			return eris.Wrap(err, "load roads")
		}
		fmt.Printf("Loaded %d road segment(s) from %s\n", rows, opts.Source)

		blocks, _ := cmd.Flags().GetBool("blocks")
		if blocks {
			n, err := loader.BuildRoadBlocks(ctx, pool)
			if err != nil {
				return eris.Wrap(err, "rebuild road blocks")
			}
			fmt.Printf("Rebuilt %d road block(s)\n", n)
		}
		return nil
	},
}

func loadOptions(cmd *cobra.Command) (loader.Options, error) {
	source, _ := cmd.Flags().GetString("source")
	url, _ := cmd.Flags().GetString("url")
	path, _ := cmd.Flags().GetString("path")

	if source == "" {
		return loader.Options{}, eris.New("load: --source is required")
	}

	return loader.Options{
		Source:      source,
		URL:         url,
		Path:        path,
		TempDir:     cfg.Loader.TempDir,
		Concurrency: cfg.Loader.Concurrency,
	}, nil
}

// newFetcher builds the archive fetcher, routing ftp:// URLs to the FTP
// client and everything else to HTTP with the default per-host rate limits.
func newFetcher() fetch.Fetcher {
	return fetch.NewMultiFetcher(
		fetch.NewHTTPFetcher(fetch.HTTPOptions{RateLimiters: fetch.DefaultRateLimiters()}),
		fetch.NewFTPFetcher(fetch.FTPOptions{}),
	)
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.AddCommand(loadFootprintsCmd)
	loadCmd.AddCommand(loadRoadsCmd)

	for _, c := range []*cobra.Command{loadFootprintsCmd, loadRoadsCmd} {
		c.Flags().String("source", "", "Source tag recorded on every row (e.g. osm, msbf)")
		c.Flags().String("url", "", "Archive URL (http, https, or ftp)")
		c.Flags().String("path", "", "Local .shp path (skips download)")
	}
	loadFootprintsCmd.Flags().Bool("promote", false, "Promote loaded footprints into the building table")
	loadRoadsCmd.Flags().Bool("blocks", false, "Rebuild road blocks after loading")
}
