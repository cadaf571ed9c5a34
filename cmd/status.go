package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/loader"
	"github.com/landbase/parcel-cli/internal/parcel"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long:  "Reports the applied ledger head, raw source load status, managed snapshots, and table statistics.",
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

		led, err := parcel.LoadLedger()
		if err != nil {
			return err
		}
		heads, err := parcel.CurrentHead(ctx, pool, led)
		if err != nil {
			return eris.Wrap(err, "status: ledger head")
		}
		if len(heads) == 0 {
			fmt.Println("Ledger: no steps applied")
		} else {
			fmt.Printf("Ledger head: %s\n", strings.Join(heads, ", "))
		}

		loads, err := loader.LoadStatus(ctx, pool)
		if err != nil {
			return eris.Wrap(err, "status: load status")
		}
		fmt.Println("\nSource loads:")
		if len(loads) == 0 {
			fmt.Println("  (none)")
		}
		for _, l := range loads {
			fmt.Printf("  %-10s %-12s %8d rows  %s\n", l.Source, l.Product, l.RowCount, l.LoadedAt.Format("2006-01-02 15:04"))
		}

		fmt.Println("\nManaged snapshots:")
		for _, s := range parcel.Snapshots {
			fmt.Printf("  %s\n", s)
		}

		stats, err := parcel.GetTableStats(ctx, pool)
		if err != nil {
			return eris.Wrap(err, "status: table stats")
		}
		fmt.Println()
		printTableStats(stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
