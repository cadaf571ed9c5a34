package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/parcel"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Infer parcel polygons from building footprints",
	Long:  "Partitions each road block with Voronoi cells seeded from footprint boundaries and stores one inferred parcel per footprint part. Use --buildings for an explicit batch or --all for every building.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("parcel"); err != nil {
			return err
		}

		buildingsFlag, _ := cmd.Flags().GetString("buildings")
		all, _ := cmd.Flags().GetBool("all")
		source, _ := cmd.Flags().GetString("source")

		if buildingsFlag == "" && !all {
			return eris.New("derive: pass --buildings id,... or --all")
		}
		if buildingsFlag != "" && all {
			return eris.New("derive: --buildings and --all are mutually exclusive")
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		opts := parcel.DeriveOptions{
			MeasurementSRID: cfg.Parcel.MeasurementSRID,
			SeedSpacingM:    cfg.Parcel.SeedSpacingM,
			BatchSize:       cfg.Parcel.DeriveBatchSize,
			Concurrency:     cfg.Parcel.DeriveConcurrency,
		}

		var parcels int64
		if all {
			parcels, err = parcel.DeriveAll(ctx, pool, source, opts)
		} else {
			var ids []int64
			ids, err = parseBuildingIDs(buildingsFlag)
			if err != nil {
				return err
			}
			parcels, err = parcel.DeriveBatch(ctx, pool, ids, opts)
		}
		if err != nil {
			return eris.Wrap(err, "derive")
		}

		zap.L().Info("derivation complete", zap.Int64("parcels", parcels))
		fmt.Printf("Derived %d parcel(s)\n", parcels)
		return nil
	},
}

func parseBuildingIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "derive: building id %q", p)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, eris.New("derive: no building ids given")
	}
	return ids, nil
}

func init() {
	rootCmd.AddCommand(deriveCmd)
	deriveCmd.Flags().String("buildings", "", "Comma-separated building IDs to derive")
	deriveCmd.Flags().Bool("all", false, "Derive every building")
	deriveCmd.Flags().String("source", "", "With --all, restrict to buildings from one source")
}
