package ring

import (
	"fmt"
	"strings"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// Kind tags a Solution entry.
type Kind string

const (
	KindError      Kind = "error"
	KindInfo       Kind = "info"
	KindPortStatus Kind = "port_status"
	KindVLANChange Kind = "vlan_change"
)

// PerformStatus is set on action entries once the performer has run them.
type PerformStatus string

const (
	PerformDone   PerformStatus = "done"
	PerformFailed PerformStatus = "failed"
)

// Solution is one entry of a plan.
type Solution struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`

	Device string            `json:"device,omitempty"`
	Port   string            `json:"port,omitempty"`
	Status device.PortStatus `json:"status,omitempty"`

	VLANOp device.VLANOp `json:"vlan_op,omitempty"`
	VLANs  []int         `json:"vlans,omitempty"`
	Tagged bool          `json:"tagged,omitempty"`

	PerformStatus PerformStatus `json:"perform_status,omitempty"`
	PerformError  string        `json:"perform_error,omitempty"`
}

// IsAction reports whether the entry is dispatched to a device.
func (s Solution) IsAction() bool {
	return s.Kind == KindPortStatus || s.Kind == KindVLANChange
}

func (s Solution) String() string {
	switch s.Kind {
	case KindPortStatus:
		verb := "port-up"
		if s.Status != device.StatusUp {
			verb = "port-down"
		}
		return fmt.Sprintf("%s %s %s", verb, s.Device, s.Port)
	case KindVLANChange:
		mode := "untagged"
		if s.Tagged {
			mode = "tagged"
		}
		return fmt.Sprintf("%s-vlans %s %s %s (%s)", s.VLANOp, s.Device, s.Port, util.CompactRange(s.VLANs), mode)
	case KindError:
		return "error: " + s.Message
	}
	return "info: " + s.Message
}

// Solutions is an ordered plan. Nothing is appended after an error entry.
type Solutions []Solution

// HasError reports whether the plan carries an error entry.
func (ss Solutions) HasError() bool {
	for _, s := range ss {
		if s.Kind == KindError {
			return true
		}
	}
	return false
}

// Actions returns only the entries that are dispatched to devices.
func (ss Solutions) Actions() Solutions {
	var out Solutions
	for _, s := range ss {
		if s.IsAction() {
			out = append(out, s)
		}
	}
	return out
}

// Failed counts actions whose dispatch failed.
func (ss Solutions) Failed() int {
	n := 0
	for _, s := range ss {
		if s.PerformStatus == PerformFailed {
			n++
		}
	}
	return n
}

func (ss Solutions) String() string {
	if len(ss) == 0 {
		return "(no action)"
	}
	lines := make([]string, len(ss))
	for i, s := range ss {
		lines[i] = s.String()
	}
	return strings.Join(lines, "; ")
}

func (ss *Solutions) add(s Solution) {
	if ss.HasError() {
		return
	}
	*ss = append(*ss, s)
}

func (ss *Solutions) addError(format string, args ...interface{}) {
	ss.add(Solution{Kind: KindError, Message: fmt.Sprintf(format, args...)})
}

func (ss *Solutions) addInfo(format string, args ...interface{}) {
	ss.add(Solution{Kind: KindInfo, Message: fmt.Sprintf(format, args...)})
}

func (ss *Solutions) addPort(node *Node, port *device.Interface, status device.PortStatus) {
	ss.add(Solution{Kind: KindPortStatus, Device: node.Device, Port: port.Name, Status: status})
}

func (ss *Solutions) addVLANs(node *Node, port *device.Interface, op device.VLANOp, vlans []int) {
	if len(vlans) == 0 {
		return
	}
	ss.add(Solution{
		Kind:   KindVLANChange,
		Device: node.Device,
		Port:   port.Name,
		VLANOp: op,
		VLANs:  vlans,
		Tagged: true,
	})
}
