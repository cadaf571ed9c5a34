package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/parcel"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run pipeline schema maintenance tasks",
	Long:  "Run VACUUM ANALYZE, CLUSTER, REINDEX, and report table statistics for the raw and parcel schemas.",
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

		vacuum, _ := cmd.Flags().GetBool("vacuum")
		cluster, _ := cmd.Flags().GetBool("cluster")
		reindex, _ := cmd.Flags().GetBool("reindex")
		stats, _ := cmd.Flags().GetBool("stats")

		// Default: show stats if no specific action requested.
		if !vacuum && !cluster && !reindex && !stats {
			stats = true
		}

		if vacuum {
			zap.L().Info("running VACUUM ANALYZE on pipeline tables")
			if err := parcel.VacuumAnalyze(ctx, pool); err != nil {
				return eris.Wrap(err, "maintenance vacuum")
			}
			zap.L().Info("VACUUM ANALYZE complete")
		}

		if cluster {
			zap.L().Info("clustering pipeline tables by spatial indexes")
			if err := parcel.ClusterSpatialIndexes(ctx, pool); err != nil {
				return eris.Wrap(err, "maintenance cluster")
			}
			zap.L().Info("CLUSTER complete")
		}

		if reindex {
			zap.L().Info("reindexing pipeline schemas")
			if err := parcel.ReindexSpatial(ctx, pool); err != nil {
				return eris.Wrap(err, "maintenance reindex")
			}
			zap.L().Info("REINDEX complete")
		}

		if stats {
			tableStats, err := parcel.GetTableStats(ctx, pool)
			if err != nil {
				return eris.Wrap(err, "maintenance stats")
			}
			printTableStats(tableStats)
		}

		return nil
	},
}

func printTableStats(stats []parcel.TableStats) {
	fmt.Printf("%-35s %10s %12s %12s %8s\n", "Table", "Rows", "Total Size", "Index Size", "Spatial")
	fmt.Println("--------------------------------------------------------------------------------------")
	for _, s := range stats {
		spatial := "no"
		if s.HasSpatial {
			spatial = "yes"
		}
		fmt.Printf("%-35s %10d %12s %12s %8s\n", s.TableName, s.RowCount, s.TotalSize, s.IndexSize, spatial)
	}
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.Flags().Bool("vacuum", false, "Run VACUUM ANALYZE on all pipeline tables")
	maintenanceCmd.Flags().Bool("cluster", false, "Cluster tables by their spatial indexes")
	maintenanceCmd.Flags().Bool("reindex", false, "Reindex the raw and parcel schemas")
	maintenanceCmd.Flags().Bool("stats", false, "Show table statistics")
}
