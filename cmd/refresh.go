package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/parcel"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh materialized snapshots",
	Long:  "Refreshes a materialized snapshot without blocking readers, falling back to a blocking rebuild when the concurrent path fails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("parcel"); err != nil {
			return err
		}

		snapshot, _ := cmd.Flags().GetString("snapshot")
		all, _ := cmd.Flags().GetBool("all")

		if (snapshot == "") == !all {
			return eris.New("refresh: pass exactly one of --snapshot NAME or --all")
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		coord := parcel.NewCoordinator(pool)

		if all {
			results, err := coord.RefreshAll(ctx)
			for _, r := range results {
				fmt.Printf("%-30s %-12s %s\n", r.Snapshot, r.Path, r.State)
			}
			if err != nil {
				return eris.Wrap(err, "refresh all")
			}
			return nil
		}

		result, err := coord.Refresh(ctx, snapshot)
		if err != nil {
			return eris.Wrapf(err, "refresh %s", snapshot)
		}
		fmt.Printf("%-30s %-12s %s\n", result.Snapshot, result.Path, result.State)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().String("snapshot", "", "Snapshot to refresh (e.g. parcel.mv_landuse)")
	refreshCmd.Flags().Bool("all", false, "Refresh every managed snapshot in order")
}
