package ring

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// Side says which chain link of a node a port faces.
type Side string

const (
	SidePrev Side = "prev"
	SideNext Side = "next"
)

// ClosedPort is an admin-down port on a chain link of a reachable node.
type ClosedPort struct {
	Node int
	Side Side
	Port *device.Interface
}

// Evaluation is the classified live state of one ring.
type Evaluation struct {
	Ring  string
	Nodes []*Node
	VLANs []int // required

	// Outage bookkeeping; -1 when not applicable.
	FirstUnreachable    int
	LastAvailable       int
	FirstAvailableAfter int

	ClosedPorts []ClosedPort
	BrokenLinks []int // index of the node on the head side of each break

	// Uncertainty is set when the pattern does not fit the single-fault model.
	Uncertainty string
}

// AllReachable reports whether every node answered.
func (e *Evaluation) AllReachable() bool {
	return e.FirstUnreachable < 0
}

// Head returns the head node.
func (e *Evaluation) Head() *Node { return e.Nodes[0] }

// Tail returns the tail node.
func (e *Evaluation) Tail() *Node { return e.Nodes[len(e.Nodes)-1] }

// TailVLANs is the VLAN membership of the tail's prev-facing port.
func (e *Evaluation) TailVLANs() []int {
	if p := e.Tail().PortToPrev; p != nil {
		return p.VLANs
	}
	return nil
}

// Evaluate scans resolved nodes head to tail. Hard precondition failures are
// returned as *util.RingStatusError; patterns outside the single-fault model
// are reported through Evaluation.Uncertainty.
func Evaluate(def *Definition, nodes []*Node) (*Evaluation, error) {
	n := len(nodes)
	if n < MinChainLength {
		return nil, util.NewInvalidRingStructureError(def.Name, "", "",
			fmt.Sprintf("chain has %d devices, need at least %d", n, MinChainLength))
	}

	head, tail := nodes[0], nodes[n-1]
	if !lo.SomeBy(nodes, (*Node).IsReachable) {
		return nil, util.NewRingStatusError(def.Name, "all nodes are unreachable")
	}
	if !head.IsReachable() {
		return nil, util.NewRingStatusError(def.Name, "head %s is unreachable", head.Device)
	}
	if !tail.IsReachable() {
		return nil, util.NewRingStatusError(def.Name, "tail %s is unreachable", tail.Device)
	}
	for _, node := range nodes {
		if node.IsReachable() && (node.PortToPrev == nil || node.PortToNext == nil) {
			return nil, util.NewRingStatusError(def.Name, "links of %s are not resolved", node.Device)
		}
	}
	if missing, _ := lo.Difference(def.VLANs, head.PortToNext.VLANs); len(missing) > 0 {
		return nil, util.NewRingStatusError(def.Name, "required VLANs %s are missing on head %s port %s",
			util.CompactRange(missing), head.Device, head.PortToNext.Name)
	}

	ev := &Evaluation{
		Ring:                def.Name,
		Nodes:               nodes,
		VLANs:               def.VLANs,
		FirstUnreachable:    -1,
		LastAvailable:       -1,
		FirstAvailableAfter: -1,
	}

	for i, node := range nodes {
		if !node.IsReachable() {
			if ev.FirstUnreachable < 0 {
				ev.FirstUnreachable = i
				ev.LastAvailable = i - 1
			} else if ev.FirstAvailableAfter >= 0 {
				ev.Uncertainty = fmt.Sprintf("%s is unreachable after %s recovered from the outage at %s",
					node.Device, nodes[ev.FirstAvailableAfter].Device, nodes[ev.FirstUnreachable].Device)
				break
			}
			continue
		}

		if ev.FirstUnreachable >= 0 && ev.FirstAvailableAfter < 0 {
			ev.FirstAvailableAfter = i
		}

		if i > 0 && node.PortToPrev.Status == device.StatusAdminDown {
			ev.ClosedPorts = append(ev.ClosedPorts, ClosedPort{Node: i, Side: SidePrev, Port: node.PortToPrev})
		}
		if i < n-1 && node.PortToNext.Status == device.StatusAdminDown {
			ev.ClosedPorts = append(ev.ClosedPorts, ClosedPort{Node: i, Side: SideNext, Port: node.PortToNext})
		}

		if i < n-1 && node.PortToNext.Status == device.StatusDown {
			succ := nodes[i+1]
			if !succ.IsReachable() || succ.PortToPrev.Status == device.StatusDown {
				ev.BrokenLinks = append(ev.BrokenLinks, i)
			}
		}
	}

	if ev.Uncertainty == "" && len(ev.BrokenLinks) > 1 {
		ev.Uncertainty = fmt.Sprintf("%d broken links", len(ev.BrokenLinks))
	}

	util.WithRing(def.Name).Debugf("evaluated: unreachable=%d closed=%d broken=%v uncertainty=%q",
		lo.CountBy(nodes, func(n *Node) bool { return !n.IsReachable() }),
		len(ev.ClosedPorts), ev.BrokenLinks, ev.Uncertainty)

	return ev, nil
}

// FarthestClosedPort returns the closed port farthest from the head: highest
// node index, and on the same node the next-facing port.
func (e *Evaluation) FarthestClosedPort() (ClosedPort, bool) {
	if len(e.ClosedPorts) == 0 {
		return ClosedPort{}, false
	}
	best := e.ClosedPorts[0]
	for _, cp := range e.ClosedPorts[1:] {
		if cp.Node > best.Node || (cp.Node == best.Node && cp.Side == SideNext) {
			best = cp
		}
	}
	return best, true
}
