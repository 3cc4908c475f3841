package main

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/newtron-network/newtring/pkg/cli"
	"github.com/newtron-network/newtring/pkg/finder"
	"github.com/newtron-network/newtring/pkg/util"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [aggregation...]",
	Short: "Discover rings behind aggregation devices",
	Long: `Walk interface descriptions from an aggregation device and report every
chain of access devices that leaves and returns to it.

Neighbors are recognized with the discovery patterns of the inventory.
Without arguments every device with the aggregation role is searched.

Examples:
  newtring discover agg1
  newtring discover agg1,agg2
  newtring discover --json`,
	Annotations: map[string]string{annotationDevices: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		aggs := lo.FlatMap(args, func(arg string, _ int) []string { return util.SplitCommaSeparated(arg) })
		if len(aggs) == 0 {
			aggs = inv.Aggregations()
		}
		if len(aggs) == 0 {
			return fmt.Errorf("no aggregation devices: name one or set role: aggregation in the inventory")
		}

		found := map[string][]finder.Structure{}
		for _, agg := range aggs {
			structures, err := manager.Discover(cmd.Context(), agg)
			if err != nil {
				return fmt.Errorf("discovering from %s: %w", agg, err)
			}
			util.WithDevice(agg).Debugf("%d ring(s) found", len(structures))
			found[agg] = structures
		}

		if jsonOutput {
			return printJSON(found)
		}

		for _, agg := range aggs {
			fmt.Printf("Aggregation: %s\n", cli.Bold(agg))
			if len(found[agg]) == 0 {
				fmt.Println("  " + cli.Dim("no rings found"))
				continue
			}
			t := cli.NewTable("START", "CHAIN", "END").WithPrefix("  ")
			for _, s := range found[agg] {
				t.Row(s.PortStart, strings.Join(s.Nodes, " -> "), s.PortEnd)
			}
			t.Flush()
		}
		return nil
	},
}
