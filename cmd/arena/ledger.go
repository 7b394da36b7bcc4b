package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Arena/pkg/ledger"
)

func ledgerCommand() *cobra.Command {
	var (
		tail    int
		fullHex bool
	)
	c := &cobra.Command{
		Use:   "ledger <file>",
		Short: "Prints the latest records of a run ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg := ledger.DefaultConfig(args[0])
			cfg.ReadOnly = true
			store, err := ledger.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats()
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprintf(out, "records %d, ticks %d..%d, %d bytes\n",
				stats.RecordCount, stats.FirstTick, stats.LatestTick, stats.DatabaseSize)

			recs, err := store.Tail(tail)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%8s %4s %10s %8s %6s %8s %6s %-22s %s\n",
				"tick", "gen", "cycles", "instr", "res", "util", "grants", "error", "state")
			for _, r := range recs {
				state := r.StateHash.Short()
				if fullHex {
					state = r.StateHash.Hex()
				}
				fmt.Fprintf(out, "%8d %4d %10d %8d %6d %8.4f %6d %-22s %s\n",
					r.Tick, r.Generation, r.CycleCount, r.Instructions, r.AvailableResources,
					r.Utilization, r.Grants, r.Error, state)
			}
			return nil
		},
	}
	flags := c.Flags()
	flags.IntVarP(&tail, "tail", "n", 10, "Number of records to print")
	flags.BoolVar(&fullHex, "hex", false, "Print full state hashes in hex")
	return c
}
