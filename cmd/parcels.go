package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/parcel"
)

var parcelsCmd = &cobra.Command{
	Use:   "parcels",
	Short: "Inspect inferred parcels",
	Long:  "Lists the inferred parcels of one building or one road block.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("parcel"); err != nil {
			return err
		}

		buildingID, _ := cmd.Flags().GetInt64("building")
		roadBlockID, _ := cmd.Flags().GetInt64("road-block")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		if (buildingID == 0) == (roadBlockID == 0) {
			return eris.New("parcels: pass exactly one of --building ID or --road-block ID")
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := parcel.NewPostgresStore(pool)

		var parcels []parcel.InferredParcel
		if buildingID != 0 {
			parcels, err = store.ListParcelsByBuilding(ctx, buildingID)
			if err != nil {
				return eris.Wrap(err, "list parcels by building")
			}
		} else {
			var total int
			parcels, total, err = store.ListParcelsByBlock(ctx, roadBlockID, limit, offset)
			if err != nil {
				return eris.Wrap(err, "list parcels by road block")
			}
			fmt.Printf("Road block %d: %d parcel(s) total\n", roadBlockID, total)
		}

		if len(parcels) == 0 {
			fmt.Println("No parcels found")
			return nil
		}

		fmt.Printf("%-38s %10s %5s %12s %12s %-24s\n", "Parcel", "Building", "Part", "Area m2", "Perim m", "Method")
		for _, p := range parcels {
			fmt.Printf("%-38s %10d %5d %12.1f %12.1f %-24s\n",
				p.ID, p.BuildingID, p.PartIndex, p.AreaM2, p.PerimeterM, p.Method)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parcelsCmd)
	parcelsCmd.Flags().Int64("building", 0, "List parcels of one building ID")
	parcelsCmd.Flags().Int64("road-block", 0, "List parcels inside one road block ID")
	parcelsCmd.Flags().Int("limit", 50, "Page size with --road-block")
	parcelsCmd.Flags().Int("offset", 0, "Page offset with --road-block")
}
