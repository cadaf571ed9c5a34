package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/landbase/parcel-cli/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest cost and comparables files",
	Long:  "Loads cost indices, construction rates, and sale comparables from CSV or XLSX files into the pricing tables.",
}

func newIngestSubcommand(dataset, short string) *cobra.Command {
	return &cobra.Command{
		Use:   dataset + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := cfg.Validate("ingest"); err != nil {
				return err
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := ingest.Ingest(ctx, pool, dataset, args[0])
			if err != nil {
				return eris.Wrapf(err, "ingest %s", dataset)
			}
			fmt.Printf("Ingested %d %s row(s)\n", n, dataset)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(newIngestSubcommand("indices", "Ingest regional cost indices"))
	ingestCmd.AddCommand(newIngestSubcommand("rates", "Ingest construction rates"))
	ingestCmd.AddCommand(newIngestSubcommand("comparables", "Ingest sale comparables"))
}
