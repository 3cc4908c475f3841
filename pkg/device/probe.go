// Package device defines the per-device probe contract used by ring
// evaluation and discovery, and the registry that binds a vendor driver to
// each inventory device.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PortStatus is the combined administrative/operational state of a port.
type PortStatus string

const (
	StatusUp        PortStatus = "up"
	StatusDown      PortStatus = "down"
	StatusAdminDown PortStatus = "admin down"
)

// ParsePortStatus accepts the spellings seen in driver output and CLI input.
func ParsePortStatus(s string) (PortStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return StatusUp, nil
	case "down":
		return StatusDown, nil
	case "admin down", "admin-down", "admindown", "disabled":
		return StatusAdminDown, nil
	}
	return "", fmt.Errorf("unknown port status %q", s)
}

// VLANOp selects whether SetVLANs adds or removes membership.
type VLANOp string

const (
	VLANAdd    VLANOp = "add"
	VLANDelete VLANOp = "delete"
)

// Interface is one port as seen by a probe.
type Interface struct {
	Name        string     `json:"name"`
	Status      PortStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	VLANs       []int      `json:"vlans,omitempty"`
}

// Probe is the per-device collaborator. One Probe is opened per device per
// run and bound to a single driver for its lifetime.
type Probe interface {
	// IsReachable reports whether the device answers on its management plane.
	IsReachable(ctx context.Context) bool

	// CollectInterfaces returns a snapshot of every port. VLAN membership is
	// only filled when withVLANs is set.
	CollectInterfaces(ctx context.Context, withVLANs bool) ([]Interface, error)

	// SetPort changes a port to up or admin down.
	SetPort(ctx context.Context, port string, status PortStatus) error

	// SetVLANs adds or removes VLAN membership on a port.
	SetVLANs(ctx context.Context, port string, op VLANOp, vlanIDs []int, tagged bool) error

	Close() error
}

// Target carries everything a driver needs to open a device.
type Target struct {
	Name    string
	Address string
	Driver  string

	// SONiC
	RedisPort   int
	SSHPort     int
	SSHUser     string
	SSHPassword string
	KnownHosts  string

	// SNMP
	Community   string
	SNMPVersion string
	SNMPPort    uint16

	// ICMP echo before the management-plane check. Zero disables it.
	PingCount int
	Timeout   time.Duration
}
