package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/proforma"
)

var proformaCmd = &cobra.Command{
	Use:   "proforma",
	Short: "Estimate per-parcel cost and value",
	Long:  "Joins inferred parcels with ingested construction rates, cost indices, and sale comparables to produce rough per-parcel pro-forma lines.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("parcel"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		roadBlock, _ := cmd.Flags().GetInt64("road-block")
		rateCode, _ := cmd.Flags().GetString("rate")
		limit, _ := cmd.Flags().GetInt("limit")

		estimates, err := proforma.Run(ctx, pool, proforma.Options{
			RateCode:    rateCode,
			RoadBlockID: roadBlock,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "proforma")
		}

		if len(estimates) == 0 {
			fmt.Println("No parcels matched")
			return nil
		}

		fmt.Printf("%-38s %-10s %12s %12s %12s\n", "Parcel", "Region", "Build $", "Value $", "Margin $")
		for _, e := range estimates {
			fmt.Printf("%-38s %-10s %12.0f %12.0f %12.0f\n",
				e.ParcelID, e.Region, e.BuildCostUSD, e.ParcelValueUSD, e.MarginUSD)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(proformaCmd)
	proformaCmd.Flags().Int64("road-block", 0, "Restrict to one road block ID")
	proformaCmd.Flags().String("rate", "base", "Construction rate code to apply")
	proformaCmd.Flags().Int("limit", 200, "Maximum parcels to price")
}
