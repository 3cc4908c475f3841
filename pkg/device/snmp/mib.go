package snmp

import (
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// IF-MIB, BRIDGE-MIB and Q-BRIDGE-MIB objects used by the driver.
const (
	oidSysUpTime     = "1.3.6.1.2.1.1.3.0"
	oidIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	oidIfAdminStatus = "1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = "1.3.6.1.2.1.2.2.1.8"
	oidIfName        = "1.3.6.1.2.1.31.1.1.1.1"
	oidIfAlias       = "1.3.6.1.2.1.31.1.1.1.18"

	oidDot1dBasePortIfIndex     = "1.3.6.1.2.1.17.1.4.1.2"
	oidDot1qVlanStaticEgress    = "1.3.6.1.2.1.17.7.1.4.3.1.2"
	oidDot1qVlanStaticUntagged  = "1.3.6.1.2.1.17.7.1.4.3.1.4"
	oidDot1qVlanStaticRowStatus = "1.3.6.1.2.1.17.7.1.4.3.1.5"
)

// ifAdminStatus / ifOperStatus values.
const (
	ifStatusUp   = 1
	ifStatusDown = 2
)

// RowStatus createAndGo.
const rowCreateAndGo = 4

// indexOf returns the instance suffix of name under root, e.g. "5" for
// ".1.3.6.1.2.1.31.1.1.1.1.5" under oidIfName.
func indexOf(name, root string) (string, bool) {
	name = strings.TrimPrefix(name, ".")
	if !strings.HasPrefix(name, root+".") {
		return "", false
	}
	return name[len(root)+1:], true
}

// intIndexOf is indexOf for single-integer instance suffixes.
func intIndexOf(name, root string) (int, bool) {
	s, ok := indexOf(name, root)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func pduInt(pdu gosnmp.SnmpPDU) int {
	return int(gosnmp.ToBigInt(pdu.Value).Int64())
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	}
	return ""
}

func pduBytes(pdu gosnmp.SnmpPDU) []byte {
	if b, ok := pdu.Value.([]byte); ok {
		return b
	}
	return nil
}

// PortList is a Q-BRIDGE-MIB port bitmap: bridge port 1 is the most
// significant bit of the first octet.
type PortList []byte

// Has reports whether bridge port n (1-based) is set.
func (p PortList) Has(n int) bool {
	if n < 1 {
		return false
	}
	i := (n - 1) / 8
	if i >= len(p) {
		return false
	}
	return p[i]&(0x80>>uint((n-1)%8)) != 0
}

// With returns a copy with bridge port n set, growing the list as needed.
func (p PortList) With(n int) PortList {
	out := p.grow(n)
	out[(n-1)/8] |= 0x80 >> uint((n-1)%8)
	return out
}

// Without returns a copy with bridge port n cleared.
func (p PortList) Without(n int) PortList {
	out := p.grow(n)
	out[(n-1)/8] &^= 0x80 >> uint((n-1)%8)
	return out
}

// Ports lists the set bridge ports in ascending order.
func (p PortList) Ports() []int {
	var ports []int
	for i, b := range p {
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				ports = append(ports, i*8+bit+1)
			}
		}
	}
	return ports
}

func (p PortList) grow(n int) PortList {
	size := len(p)
	if need := (n-1)/8 + 1; need > size {
		size = need
	}
	out := make(PortList, size)
	copy(out, p)
	return out
}
