package ring

import (
	"fmt"
	"strings"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// ResolveLinks sets PortToPrev and PortToNext on every reachable node by
// finding the single interface whose description names the neighbor. The
// ring wraps: the head's previous neighbor is the tail. Unreachable nodes
// are skipped.
func ResolveLinks(ringName string, nodes []*Node) error {
	n := len(nodes)
	if n < MinChainLength {
		return util.NewInvalidRingStructureError(ringName, "", "",
			fmt.Sprintf("chain has %d devices, need at least %d", n, MinChainLength))
	}

	for i, node := range nodes {
		node.PortToPrev = nil
		node.PortToNext = nil
		if !node.IsReachable() {
			continue
		}

		prev := nodes[(i-1+n)%n].Device
		next := nodes[(i+1)%n].Device

		var err error
		if node.PortToPrev, err = facing(ringName, node, prev); err != nil {
			return err
		}
		if node.PortToNext, err = facing(ringName, node, next); err != nil {
			return err
		}
		if node.PortToPrev.Name == node.PortToNext.Name {
			return util.NewInvalidRingStructureError(ringName, node.Device, "",
				fmt.Sprintf("interface %s describes both %s and %s", node.PortToPrev.Name, prev, next))
		}
	}
	return nil
}

// facing returns the one interface of node whose description names neighbor.
func facing(ringName string, node *Node, neighbor string) (*device.Interface, error) {
	var matches []int
	for i := range node.Interfaces {
		if util.MentionsName(node.Interfaces[i].Description, neighbor) {
			matches = append(matches, i)
		}
	}

	switch len(matches) {
	case 1:
		return &node.Interfaces[matches[0]], nil
	case 0:
		return nil, util.NewInvalidRingStructureError(ringName, node.Device, neighbor,
			"no interface description names the neighbor")
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = node.Interfaces[m].Name
	}
	return nil, util.NewInvalidRingStructureError(ringName, node.Device, neighbor,
		fmt.Sprintf("%d interfaces describe the neighbor: %s", len(matches), strings.Join(names, ", ")))
}
