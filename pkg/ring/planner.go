package ring

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// State is the planner's classification of an evaluated ring.
type State int

const (
	StateUncertain State = iota
	StateHealthy
	StateSingleClosedPort
	StateSingleBreak
	StateOutage
	StateRotated
	StateRotatedWithClosedPort
	StateRotatedOutage
	StateRotatedBreak
)

var stateNames = map[State]string{
	StateUncertain:             "uncertain",
	StateHealthy:               "healthy",
	StateSingleClosedPort:      "single-closed-port",
	StateSingleBreak:           "single-break",
	StateOutage:                "outage",
	StateRotated:               "rotated",
	StateRotatedWithClosedPort: "rotated-with-closed-port",
	StateRotatedOutage:         "rotated-outage",
	StateRotatedBreak:          "rotated-break",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsRotated reports whether traffic is currently routed through the tail.
func IsRotated(ev *Evaluation) bool {
	return len(ev.VLANs) > 0 && lo.Every(ev.TailVLANs(), ev.VLANs)
}

// Classify maps an evaluation to exactly one State, with the reason when
// the state is StateUncertain.
func Classify(ev *Evaluation) (State, string) {
	if ev.Uncertainty != "" {
		return StateUncertain, ev.Uncertainty
	}

	closed := len(ev.ClosedPorts)
	broken := len(ev.BrokenLinks)

	if !ev.AllReachable() {
		if reason := outageConflict(ev); reason != "" {
			return StateUncertain, reason
		}
		if IsRotated(ev) {
			return StateRotatedOutage, ""
		}
		return StateOutage, ""
	}

	if IsRotated(ev) {
		switch {
		case broken > 0:
			return StateRotatedBreak, ""
		case closed > 0:
			return StateRotatedWithClosedPort, ""
		default:
			return StateRotated, ""
		}
	}

	switch {
	case broken == 1 && closed == 0:
		return StateSingleBreak, ""
	case broken > 0:
		return StateUncertain, fmt.Sprintf("broken link after %s with %d closed port(s)",
			ev.Nodes[ev.BrokenLinks[0]].Device, closed)
	case closed > 0:
		return StateSingleClosedPort, ""
	default:
		return StateHealthy, ""
	}
}

// outageConflict rejects an outage combined with a closed port or a break
// anywhere except the last available node's next-facing port.
func outageConflict(ev *Evaluation) string {
	for _, cp := range ev.ClosedPorts {
		if cp.Node != ev.LastAvailable || cp.Side != SideNext {
			return fmt.Sprintf("outage at %s with closed port %s on %s",
				ev.Nodes[ev.FirstUnreachable].Device, cp.Port.Name, ev.Nodes[cp.Node].Device)
		}
	}
	for _, b := range ev.BrokenLinks {
		if b != ev.LastAvailable {
			return fmt.Sprintf("outage at %s with a broken link after %s",
				ev.Nodes[ev.FirstUnreachable].Device, ev.Nodes[b].Device)
		}
	}
	return ""
}

// Plan returns the ordered corrective actions for an evaluation.
//
// Plan only sees port status. Once the near port of a break is closed, the
// break is seen as that closed port, so for a link that stays broken applying
// successive plans alternates between StateSingleBreak (close the
// near port, rotate) and StateRotatedWithClosedPort (reopen it, unrotate).
// Callers looping Check and Apply should stop when a ring keeps flipping
// between these two states.
func Plan(ev *Evaluation) Solutions {
	state, reason := Classify(ev)
	util.WithRing(ev.Ring).Debugf("state %s", state)

	sols := Solutions{}
	tail := ev.Tail()
	present := ev.TailVLANs()
	stray := lo.Intersect(ev.VLANs, present)
	missing, _ := lo.Difference(ev.VLANs, present)

	switch state {
	case StateUncertain:
		sols.addError("ring %s: %s", ev.Ring, reason)

	case StateHealthy:
		if len(stray) > 0 {
			sols.addVLANs(tail, tail.PortToPrev, device.VLANDelete, stray)
			sols.addInfo("ring %s is healthy; removing leftover VLANs %s from tail %s",
				ev.Ring, util.CompactRange(stray), tail.Device)
		}

	case StateSingleClosedPort:
		sols.addVLANs(tail, tail.PortToPrev, device.VLANDelete, stray)
		reopenFarthest(ev, &sols)

	case StateSingleBreak:
		near := ev.Nodes[ev.BrokenLinks[0]]
		sols.addPort(near, near.PortToNext, device.StatusAdminDown)
		sols.addVLANs(tail, tail.PortToPrev, device.VLANAdd, missing)

	case StateOutage:
		last := ev.Nodes[ev.LastAvailable]
		if last.PortToNext.Status != device.StatusAdminDown {
			sols.addPort(last, last.PortToNext, device.StatusAdminDown)
		}
		sols.addVLANs(tail, tail.PortToPrev, device.VLANAdd, missing)

	case StateRotated:
		sols.addVLANs(tail, tail.PortToPrev, device.VLANDelete, ev.VLANs)

	case StateRotatedWithClosedPort:
		sols.addVLANs(tail, tail.PortToPrev, device.VLANDelete, ev.VLANs)
		reopenFarthest(ev, &sols)

	case StateRotatedOutage:
		last := ev.Nodes[ev.LastAvailable]
		if last.PortToNext.Status != device.StatusAdminDown {
			sols.addPort(last, last.PortToNext, device.StatusAdminDown)
		} else {
			sols.addInfo("ring %s stays rotated: %s is still unreachable, %s %s is closed",
				ev.Ring, ev.Nodes[ev.FirstUnreachable].Device, last.Device, last.PortToNext.Name)
		}

	case StateRotatedBreak:
		near := ev.Nodes[ev.BrokenLinks[0]]
		sols.addPort(near, near.PortToNext, device.StatusAdminDown)

	default:
		sols.addError("ring %s: unhandled state %s", ev.Ring, state)
	}

	return sols
}

func reopenFarthest(ev *Evaluation, sols *Solutions) {
	if cp, ok := ev.FarthestClosedPort(); ok {
		sols.addPort(ev.Nodes[cp.Node], cp.Port, device.StatusUp)
	}
}
