package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtring/pkg/cli"
	"github.com/newtron-network/newtring/pkg/ring"
	"github.com/newtron-network/newtring/pkg/store"
	"github.com/newtron-network/newtring/pkg/util"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List declared rings",
	Long: `List every ring declared in the inventory with its effective status.

Examples:
  newtring list
  newtring list --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		type ringRow struct {
			Name    string      `json:"name"`
			Head    string      `json:"head"`
			Tail    string      `json:"tail"`
			Members int         `json:"members"`
			VLANs   string      `json:"vlans"`
			Status  ring.Status `json:"status"`
		}
		var rows []ringRow
		for _, name := range inv.RingNames() {
			def, err := inv.Ring(name)
			if err != nil {
				return err
			}
			status, err := manager.Status(ctx, def)
			if err != nil {
				return err
			}
			rows = append(rows, ringRow{
				Name:    name,
				Head:    def.Head,
				Tail:    def.Tail,
				Members: len(def.Members),
				VLANs:   util.CompactRange(def.VLANs),
				Status:  status,
			})
		}

		if jsonOutput {
			return printJSON(rows)
		}
		if len(rows) == 0 {
			fmt.Println("No rings declared")
			return nil
		}

		t := cli.NewTable("RING", "HEAD", "TAIL", "MEMBERS", "VLANS", "STATUS")
		for _, r := range rows {
			t.Row(r.Name, r.Head, r.Tail, strconv.Itoa(r.Members), r.VLANs, formatStatus(r.Status))
		}
		t.Flush()
		if path := inv.Path(); path != "" {
			fmt.Println(cli.Dim("\nInventory: " + path))
		}
		return nil
	},
}

type lockView struct {
	Holder   string    `json:"holder"`
	Acquired time.Time `json:"acquired"`
}

// ringLock returns the current holder of a ring's run lock, or nil when the
// ring is free or the store cannot tell.
func ringLock(ctx context.Context, name string) (*lockView, error) {
	li, ok := stateStore.(store.LockInspector)
	if !ok {
		return nil, nil
	}
	holder, acquired, err := li.LockHolder(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading lock: %w", err)
	}
	if holder == "" {
		return nil, nil
	}
	return &lockView{Holder: holder, Acquired: acquired}, nil
}

var showCmd = &cobra.Command{
	Use:   "show [ring]",
	Short: "Show a ring's definition and last result",
	Long: `Show a ring's declared chain, its effective status and the last plan
computed or performed for it.

The last result is only kept across invocations when redis_addr is set.

Examples:
  newtring show ring-east
  newtring -r ring-east show --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		def, err := requireRing(args)
		if err != nil {
			return err
		}
		status, err := manager.Status(ctx, def)
		if err != nil {
			return err
		}
		last, err := manager.LastResult(ctx, def.Name)
		if err != nil {
			return fmt.Errorf("reading last result: %w", err)
		}
		lock, err := ringLock(ctx, def.Name)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(struct {
				Name       string        `json:"name"`
				Head       string        `json:"head"`
				Tail       string        `json:"tail"`
				Members    []ring.Member `json:"members"`
				VLANs      []int         `json:"vlans"`
				Status     ring.Status   `json:"status"`
				Lock       *lockView     `json:"lock,omitempty"`
				LastResult *ring.Result  `json:"last_result,omitempty"`
			}{def.Name, def.Head, def.Tail, def.Members, def.VLANs, status, lock, last})
		}

		fmt.Printf("Ring: %s\n", cli.Bold(def.Name))
		fmt.Printf("  %s %s\n", cli.DotPad("Status", 12), formatStatus(status))
		if lock != nil {
			fmt.Printf("  %s %s since %s\n", cli.DotPad("Locked by", 12), lock.Holder, lock.Acquired.Format(time.DateTime))
		}
		fmt.Printf("  %s %s\n", cli.DotPad("Head", 12), def.Head)
		fmt.Printf("  %s %s\n", cli.DotPad("Tail", 12), def.Tail)
		fmt.Printf("  %s %s\n", cli.DotPad("VLANs", 12), util.CompactRange(def.VLANs))

		fmt.Println("\nMembers:")
		t := cli.NewTable("DEVICE", "NEXT").WithPrefix("  ")
		for _, m := range def.Members {
			next := m.Next
			if next == "" {
				next = cli.Dim("-")
			}
			t.Row(m.Device, next)
		}
		t.Flush()

		fmt.Println()
		if last == nil {
			fmt.Println(cli.Dim("No stored result"))
			return nil
		}
		verb := "Planned"
		if last.Performed {
			verb = "Performed"
		}
		fmt.Printf("%s %s (state %s):\n", verb, last.Timestamp.Format(time.DateTime), formatState(last.State))
		printSolutions(last.Solutions)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [ring]",
	Short: "Evaluate a ring and print the corrective plan",
	Long: `Probe every member of a ring, classify its state and print the plan
that would restore it. Nothing is changed on the devices.

Examples:
  newtring check ring-east
  newtring -r ring-east check -v`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationDevices: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := requireRing(args)
		if err != nil {
			return err
		}
		report, err := manager.Check(cmd.Context(), def)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(newReportView(report))
		}
		printReport(report)
		return nil
	},
}

var applyLast bool

var applyCmd = &cobra.Command{
	Use:   "apply [ring]",
	Short: "Evaluate a ring and apply the corrective plan",
	Long: `Evaluate a ring and apply its corrective plan.

Without -x the plan is only printed. With --last the ring's stored plan is
used instead of a fresh evaluation (requires redis_addr across invocations).
A stored plan that was already executed, or is older than max_plan_age, is
refused; run check again.

Examples:
  newtring apply ring-east          # Preview
  newtring apply ring-east -x       # Execute
  newtring apply ring-east --last -x`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationDevices: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		def, err := requireRing(args)
		if err != nil {
			return err
		}

		var sols ring.Solutions
		if applyLast {
			last, err := manager.LastResult(ctx, def.Name)
			if err != nil {
				return err
			}
			if last == nil {
				return fmt.Errorf("no stored plan for ring %s: %w", def.Name, util.ErrNotFound)
			}
			sols = last.Solutions
		} else {
			report, err := manager.Check(ctx, def)
			if err != nil {
				return err
			}
			sols = report.Solutions
			if !jsonOutput {
				printReport(report)
			}
		}

		if !executeMode {
			if jsonOutput {
				return printJSON(sols)
			}
			if applyLast {
				fmt.Println("Stored plan:")
				printSolutions(sols)
			}
			printDryRunNotice()
			return nil
		}

		var performed ring.Solutions
		if applyLast {
			performed, err = manager.ApplyLast(ctx, def)
		} else {
			performed, err = manager.Apply(ctx, def, sols)
		}
		if performed != nil {
			if jsonOutput {
				if jerr := printJSON(performed); jerr != nil {
					return jerr
				}
			} else {
				fmt.Println("\nResult:")
				printSolutions(performed)
			}
		}
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}

		if failed := performed.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d actions failed", failed, len(performed.Actions()))
		}
		if len(performed.Actions()) > 0 && !jsonOutput {
			fmt.Println("\n" + cli.Green("Changes applied successfully."))
		}
		return nil
	},
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status [ring] <NORMAL|DEACTIVATED>",
	Short: "Activate or deactivate a ring",
	Long: `Set a ring's administrative status.

A DEACTIVATED ring is never evaluated or repaired. IN_PROCESS is set only
while a plan is being applied.

Examples:
  newtring set-status ring-west DEACTIVATED
  newtring -r ring-west set-status normal`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := requireRing(args[:len(args)-1])
		if err != nil {
			return err
		}
		status, err := ring.ParseStatus(args[len(args)-1])
		if err != nil {
			return err
		}
		if err := manager.SetStatus(cmd.Context(), def.Name, status); err != nil {
			return err
		}
		fmt.Printf("Ring %s status set to %s\n", def.Name, formatStatus(status))
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyLast, "last", false, "Apply the ring's stored plan instead of re-evaluating")
}

// reportView is the JSON shape of a check.
type reportView struct {
	Ring      string         `json:"ring"`
	State     string         `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	Nodes     []nodeView     `json:"nodes"`
	Solutions ring.Solutions `json:"solutions"`
	Timestamp time.Time      `json:"timestamp"`
}

type nodeView struct {
	Device     string `json:"device"`
	Reach      string `json:"reach"`
	PortToPrev string `json:"port_to_prev,omitempty"`
	PrevStatus string `json:"prev_status,omitempty"`
	PortToNext string `json:"port_to_next,omitempty"`
	NextStatus string `json:"next_status,omitempty"`
}

func newReportView(r *ring.Report) reportView {
	v := reportView{
		Ring:      r.Ring,
		State:     r.State.String(),
		Reason:    r.Reason,
		Solutions: r.Solutions,
		Timestamp: r.Timestamp,
	}
	for _, n := range r.Evaluation.Nodes {
		nv := nodeView{Device: n.Device, Reach: n.Reach.String()}
		if n.PortToPrev != nil {
			nv.PortToPrev, nv.PrevStatus = n.PortToPrev.Name, string(n.PortToPrev.Status)
		}
		if n.PortToNext != nil {
			nv.PortToNext, nv.NextStatus = n.PortToNext.Name, string(n.PortToNext.Status)
		}
		v.Nodes = append(v.Nodes, nv)
	}
	return v
}

func printReport(r *ring.Report) {
	fmt.Printf("Ring %s: %s\n", cli.Bold(r.Ring), formatState(r.State.String()))
	if r.Reason != "" {
		fmt.Printf("  %s\n", r.Reason)
	}
	fmt.Println()

	t := cli.NewTable("#", "DEVICE", "REACH", "TO PREV", "STATUS", "TO NEXT", "STATUS")
	for i, n := range newReportView(r).Nodes {
		reach := cli.Green(n.Reach)
		if n.Reach != ring.Reachable.String() {
			reach = cli.Red(n.Reach)
		}
		t.Row(strconv.Itoa(i), n.Device, reach,
			orDash(n.PortToPrev), formatPortStatus(n.PrevStatus),
			orDash(n.PortToNext), formatPortStatus(n.NextStatus))
	}
	t.Flush()

	fmt.Println("\nPlan:")
	printSolutions(r.Solutions)
}

func printSolutions(sols ring.Solutions) {
	if len(sols) == 0 {
		fmt.Println("  " + cli.Dim("(no action)"))
		return
	}
	for i, s := range sols {
		line := s.String()
		switch s.Kind {
		case ring.KindError:
			line = cli.Red(line)
		case ring.KindInfo:
			line = cli.Dim(line)
		}
		switch s.PerformStatus {
		case ring.PerformDone:
			line += " " + cli.Green("[done]")
		case ring.PerformFailed:
			line += " " + cli.Red("[failed: "+s.PerformError+"]")
		}
		fmt.Printf("  %d. %s\n", i+1, line)
	}
}

func formatState(state string) string {
	switch state {
	case ring.StateHealthy.String():
		return cli.Green(state)
	case ring.StateUncertain.String():
		return cli.Red(state)
	case "":
		return cli.Red("unknown")
	}
	return cli.Yellow(state)
}

func formatStatus(s ring.Status) string {
	switch s {
	case ring.StatusNormal:
		return cli.Green(string(s))
	case ring.StatusDeactivated:
		return cli.Dim(string(s))
	}
	return cli.Yellow(string(s))
}

func formatPortStatus(s string) string {
	switch s {
	case "":
		return cli.Dim("-")
	case "up":
		return cli.Green(s)
	case "down":
		return cli.Red(s)
	}
	return cli.Yellow(s)
}

func orDash(s string) string {
	if s == "" {
		return cli.Dim("-")
	}
	return s
}
