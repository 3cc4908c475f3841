// Package ring evaluates the health of transport rings and plans the port and
// VLAN changes that restore connectivity after a single link or node failure.
package ring

import (
	"fmt"
	"strings"

	"github.com/newtron-network/newtring/pkg/device"
)

// Status is the administrative state of a ring.
type Status string

const (
	StatusNormal      Status = "NORMAL"
	StatusDeactivated Status = "DEACTIVATED"
	StatusInProcess   Status = "IN_PROCESS"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusNormal, "":
		return StatusNormal, nil
	case StatusDeactivated:
		return StatusDeactivated, nil
	case StatusInProcess:
		return StatusInProcess, nil
	}
	return "", fmt.Errorf("unknown ring status %q", s)
}

// Chain length bounds.
const (
	MinChainLength = 3
	MaxChainLength = 50
)

// Member is one link of the declared chain: Device forwards to Next.
type Member struct {
	Device string `json:"device" yaml:"device"`
	Next   string `json:"next,omitempty" yaml:"next,omitempty"`
}

// Definition is a declared ring.
type Definition struct {
	Name    string
	Head    string
	Tail    string
	Members []Member
	VLANs   []int // required on head, provisioned on tail during rotation
	Status  Status
}

// Chain is the normalized ring order: index 0 is the head, the last index
// the tail.
type Chain []string

// Head returns the first device.
func (c Chain) Head() string { return c[0] }

// Tail returns the last device.
func (c Chain) Tail() string { return c[len(c)-1] }

// Index returns the position of a device, or -1.
func (c Chain) Index(name string) int {
	for i, d := range c {
		if d == name {
			return i
		}
	}
	return -1
}

// Reachability is tri-state: unknown until probed.
type Reachability int

const (
	ReachUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Node is the per-run view of one chain member.
type Node struct {
	Device       string
	Reach        Reachability
	Interfaces   []device.Interface
	PortToPrev   *device.Interface
	PortToNext   *device.Interface
	CollectVLANs bool
}

// IsReachable reports whether the node answered during collection.
func (n *Node) IsReachable() bool {
	return n.Reach == Reachable
}

// NewNodes builds the run's nodes for a chain. Only head and tail collect
// VLAN membership.
func NewNodes(chain Chain) []*Node {
	nodes := make([]*Node, len(chain))
	for i, name := range chain {
		nodes[i] = &Node{
			Device:       name,
			CollectVLANs: i == 0 || i == len(chain)-1,
		}
	}
	return nodes
}
