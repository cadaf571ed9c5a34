package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/parcel"
)

var landuseCmd = &cobra.Command{
	Use:   "landuse",
	Short: "Query standardized landuse rows",
	Long:  "Reads a raw source through its standardization view: fixed columns and metric measurements regardless of the source's native schema.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("parcel"); err != nil {
			return err
		}

		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		if source == "" {
			return eris.Errorf("landuse: --source is required (one of: %s)", strings.Join(parcel.Sources(), ", "))
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		total, err := parcel.CountStandardized(ctx, pool, source)
		if err != nil {
			return eris.Wrapf(err, "landuse count %s", source)
		}

		rows, err := parcel.QueryStandardized(ctx, pool, source, limit, offset)
		if err != nil {
			return eris.Wrapf(err, "landuse query %s", source)
		}

		fmt.Printf("Source %s: %d row(s) total\n", source, total)
		fmt.Printf("%10s %-24s %-10s %12s %12s\n", "ID", "Label", "Code", "Area m2", "Perim m")
		for _, r := range rows {
			fmt.Printf("%10d %-24s %-10s %12.1f %12.1f\n",
				r.ID, r.LanduseLabel, r.LanduseCode, r.AreaM2, r.PerimeterM)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(landuseCmd)
	landuseCmd.Flags().String("source", "", "Raw source to read (see parcel.v_src_* views)")
	landuseCmd.Flags().Int("limit", 100, "Maximum rows")
	landuseCmd.Flags().Int("offset", 0, "Row offset")
}
