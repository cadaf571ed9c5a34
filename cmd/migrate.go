package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/parcel"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or revert schema ledger steps",
	Long:  "Walks the schema evolution ledger in topological order, applying pending steps up to the head or a named target. With --revert, unwinds applied steps instead.",
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

		target, _ := cmd.Flags().GetString("to")
		revert, _ := cmd.Flags().GetBool("revert")

		if revert {
			if target == "" {
				return eris.New("migrate: --revert requires --to TARGET")
			}
			reverted, err := parcel.Revert(ctx, pool, led, target)
			if err != nil {
				return eris.Wrap(err, "migrate revert")
			}
			zap.L().Info("ledger steps reverted", zap.Strings("steps", reverted))
			fmt.Printf("Reverted %d step(s); ledger now at %s\n", len(reverted), target)
			return nil
		}

		applied, err := parcel.Apply(ctx, pool, led, target)
		if err != nil {
			return eris.Wrap(err, "migrate apply")
		}
		if len(applied) == 0 {
			fmt.Println("Ledger already up to date")
			return nil
		}
		zap.L().Info("ledger steps applied", zap.Strings("steps", applied))
		fmt.Printf("Applied %d step(s): %s\n", len(applied), strings.Join(applied, ", "))
		return nil
	},
}

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Show the applied ledger frontier",
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
			return eris.Wrap(err, "ledger head")
		}
		if len(heads) == 0 {
			fmt.Println("No ledger steps applied")
			return nil
		}
		fmt.Printf("Applied head: %s\n", strings.Join(heads, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(headCmd)
	migrateCmd.Flags().String("to", "", "Target step ID (default: ledger head)")
	migrateCmd.Flags().Bool("revert", false, "Revert applied steps down to --to")
}
