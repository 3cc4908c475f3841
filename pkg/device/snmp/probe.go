// Package snmp implements the ring probe for switches managed over SNMP
// (IF-MIB for ports, Q-BRIDGE-MIB for VLAN membership).
package snmp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/samber/lo"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// DriverName is the inventory driver value for SNMP-managed switches.
const DriverName = "snmp"

var (
	errNoSuchPort = errors.New("no such port")
	errNoSuchVLAN = errors.New("no such VLAN")
)

// session is the part of *gosnmp.GoSNMP the probe uses.
type session interface {
	Connect() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	WalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
}

// Probe implements device.Probe over SNMP.
type Probe struct {
	name    string
	address string
	pinger  *device.Pinger

	sess      session
	bind      func(ctx context.Context) // scopes the next request to ctx
	bulk      bool                      // GETBULK needs v2c
	closer    func() error
	mu        sync.Mutex
	connected bool
}

// Register adds the SNMP driver to a registry.
func Register(r *device.Registry) {
	r.Register(DriverName, Open)
}

// Open builds a gosnmp session for the target. The UDP socket is opened on
// first use.
func Open(ctx context.Context, t device.Target) (device.Probe, error) {
	if t.Address == "" {
		return nil, fmt.Errorf("device %s has no management address", t.Name)
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	port := t.SNMPPort
	if port == 0 {
		port = 161
	}
	community := t.Community
	if community == "" {
		community = "public"
	}

	client := &gosnmp.GoSNMP{
		Target:             t.Address,
		Port:               port,
		Community:          community,
		Timeout:            timeout,
		Retries:            1,
		ExponentialTimeout: true,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     20,
	}

	switch t.SNMPVersion {
	case "1":
		client.Version = gosnmp.Version1
	case "", "2c":
		client.Version = gosnmp.Version2c
	default:
		return nil, fmt.Errorf("%w: SNMP version %q", util.ErrUnsupported, t.SNMPVersion)
	}

	p := newProbe(t.Name, t.Address, client)
	p.bulk = client.Version != gosnmp.Version1
	p.bind = func(ctx context.Context) { client.Context = ctx }
	p.closer = func() error {
		if client.Conn == nil {
			return nil
		}
		return client.Conn.Close()
	}
	if t.PingCount > 0 {
		p.pinger = device.NewPinger(t.PingCount, timeout)
	}
	return p, nil
}

func newProbe(name, address string, sess session) *Probe {
	return &Probe{name: name, address: address, sess: sess, bulk: true}
}

// begin scopes the session's next request to ctx. It fails once ctx is
// done, so a multi-walk operation stops at the next request.
func (p *Probe) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.bind != nil {
		p.bind(ctx)
	}
	return nil
}

// finish reports ctx's error for a request that outlived it.
func finish(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Probe) walk(ctx context.Context, root string) ([]gosnmp.SnmpPDU, error) {
	if err := p.begin(ctx); err != nil {
		return nil, fmt.Errorf("SNMP walk %s: %w", root, err)
	}
	var pdus []gosnmp.SnmpPDU
	var err error
	if p.bulk {
		pdus, err = p.sess.BulkWalkAll(root)
	} else {
		pdus, err = p.sess.WalkAll(root)
	}
	if err := finish(ctx, err); err != nil {
		return nil, fmt.Errorf("SNMP walk %s: %w", root, err)
	}
	return pdus, nil
}

func (p *Probe) get(ctx context.Context, oids []string) (*gosnmp.SnmpPacket, error) {
	if err := p.begin(ctx); err != nil {
		return nil, err
	}
	pkt, err := p.sess.Get(oids)
	if err := finish(ctx, err); err != nil {
		return nil, err
	}
	return pkt, nil
}

func (p *Probe) set(ctx context.Context, pdus []gosnmp.SnmpPDU) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	_, err := p.sess.Set(pdus)
	return finish(ctx, err)
}

func (p *Probe) connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	if err := p.begin(ctx); err != nil {
		return fmt.Errorf("SNMP connect %s: %w", p.address, err)
	}
	if err := p.sess.Connect(); err != nil {
		return fmt.Errorf("SNMP connect %s: %w", p.address, err)
	}
	p.connected = true
	return nil
}

// IsReachable pings (when enabled) and then reads sysUpTime.
func (p *Probe) IsReachable(ctx context.Context) bool {
	log := util.WithDevice(p.name)
	if p.pinger != nil {
		ok, err := p.pinger.Ping(ctx, p.address)
		if err != nil {
			log.Debugf("ping: %v", err)
		}
		if !ok {
			return false
		}
	}
	if err := p.connect(ctx); err != nil {
		log.Debugf("unreachable: %v", err)
		return false
	}
	pkt, err := p.get(ctx, []string{oidSysUpTime})
	if err != nil {
		log.Debugf("sysUpTime: %v", err)
		return false
	}
	return len(pkt.Variables) == 1 && pkt.Variables[0].Type == gosnmp.TimeTicks
}

// CollectInterfaces walks IF-MIB and, when asked, Q-BRIDGE-MIB.
func (p *Probe) CollectInterfaces(ctx context.Context, withVLANs bool) ([]device.Interface, error) {
	if err := p.connect(ctx); err != nil {
		return nil, err
	}

	names, err := p.interfaceNames(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := p.walkStrings(ctx, oidIfAlias)
	if err != nil {
		return nil, err
	}
	admin, err := p.walkInts(ctx, oidIfAdminStatus)
	if err != nil {
		return nil, err
	}
	oper, err := p.walkInts(ctx, oidIfOperStatus)
	if err != nil {
		return nil, err
	}

	var vlans map[int][]int
	if withVLANs {
		vlans, err = p.vlanMembership(ctx)
		if err != nil {
			return nil, err
		}
	}

	indexes := lo.Keys(names)
	sort.Ints(indexes)

	ifaces := make([]device.Interface, 0, len(indexes))
	for _, idx := range indexes {
		ifaces = append(ifaces, device.Interface{
			Name:        names[idx],
			Status:      ifStatus(admin[idx], oper[idx]),
			Description: aliases[idx],
			VLANs:       vlans[idx],
		})
	}
	return ifaces, nil
}

// SetPort writes ifAdminStatus.
func (p *Probe) SetPort(ctx context.Context, port string, status device.PortStatus) error {
	if err := p.connect(ctx); err != nil {
		return err
	}

	var value int
	switch status {
	case device.StatusUp:
		value = ifStatusUp
	case device.StatusAdminDown, device.StatusDown:
		value = ifStatusDown
	default:
		return fmt.Errorf("unsupported port status %q", status)
	}

	idx, err := p.ifIndex(ctx, port)
	if err != nil {
		return err
	}

	util.WithDevice(p.name).Infof("Setting %s (ifIndex %d) ifAdminStatus=%d", port, idx, value)
	err = p.set(ctx, []gosnmp.SnmpPDU{{
		Name:  oidIfAdminStatus + "." + strconv.Itoa(idx),
		Type:  gosnmp.Integer,
		Value: value,
	}})
	if err != nil {
		return fmt.Errorf("SNMP set ifAdminStatus on %s: %w", port, err)
	}
	return nil
}

// SetVLANs edits the egress and untagged port lists of each VLAN.
func (p *Probe) SetVLANs(ctx context.Context, port string, op device.VLANOp, vlanIDs []int, tagged bool) error {
	if err := p.connect(ctx); err != nil {
		return err
	}

	idx, err := p.ifIndex(ctx, port)
	if err != nil {
		return err
	}
	bridgePort, err := p.bridgePort(ctx, idx)
	if err != nil {
		return fmt.Errorf("%s: %w", port, err)
	}

	log := util.WithDevice(p.name)
	for _, vlan := range vlanIDs {
		egress, untagged, err := p.vlanPortLists(ctx, vlan)
		if errors.Is(err, errNoSuchVLAN) && op == device.VLANAdd {
			log.Infof("Creating VLAN %d", vlan)
			if err := p.createVLAN(ctx, vlan); err != nil {
				return err
			}
			egress, untagged = PortList{}, PortList{}
		} else if errors.Is(err, errNoSuchVLAN) {
			continue
		} else if err != nil {
			return err
		}

		if unchanged(op, egress, untagged, bridgePort, tagged) {
			log.Debugf("VLAN %d on %s already as requested", vlan, port)
			continue
		}

		switch op {
		case device.VLANAdd:
			egress = egress.With(bridgePort)
			if tagged {
				untagged = untagged.Without(bridgePort)
			} else {
				untagged = untagged.With(bridgePort)
			}
		case device.VLANDelete:
			egress = egress.Without(bridgePort)
			untagged = untagged.Without(bridgePort)
		default:
			return fmt.Errorf("unsupported VLAN operation %q", op)
		}

		log.Infof("%s VLAN %d on %s (bridge port %d)", op, vlan, port, bridgePort)
		suffix := "." + strconv.Itoa(vlan)
		err = p.set(ctx, []gosnmp.SnmpPDU{
			{Name: oidDot1qVlanStaticEgress + suffix, Type: gosnmp.OctetString, Value: []byte(egress)},
			{Name: oidDot1qVlanStaticUntagged + suffix, Type: gosnmp.OctetString, Value: []byte(untagged)},
		})
		if err != nil {
			return fmt.Errorf("SNMP set VLAN %d on %s: %w", vlan, port, err)
		}
	}
	return nil
}

// Close closes the UDP socket.
func (p *Probe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || p.closer == nil {
		return nil
	}
	p.connected = false
	return p.closer()
}

// interfaceNames maps ifIndex to ifName, falling back to ifDescr on agents
// without ifXTable.
func (p *Probe) interfaceNames(ctx context.Context) (map[int]string, error) {
	names, err := p.walkStrings(ctx, oidIfName)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		return names, nil
	}
	return p.walkStrings(ctx, oidIfDescr)
}

func (p *Probe) ifIndex(ctx context.Context, port string) (int, error) {
	names, err := p.interfaceNames(ctx)
	if err != nil {
		return 0, err
	}
	for idx, name := range names {
		if name == port {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("%w: %s on %s", errNoSuchPort, port, p.name)
}

// bridgePort maps an ifIndex to its dot1dBasePort.
func (p *Probe) bridgePort(ctx context.Context, ifIndex int) (int, error) {
	bases, err := p.walkInts(ctx, oidDot1dBasePortIfIndex)
	if err != nil {
		return 0, err
	}
	for base, idx := range bases {
		if idx == ifIndex {
			return base, nil
		}
	}
	return 0, fmt.Errorf("ifIndex %d is not a bridge port", ifIndex)
}

// vlanMembership returns ifIndex -> sorted VLAN IDs.
func (p *Probe) vlanMembership(ctx context.Context) (map[int][]int, error) {
	bases, err := p.walkInts(ctx, oidDot1dBasePortIfIndex)
	if err != nil {
		return nil, err
	}
	pdus, err := p.walk(ctx, oidDot1qVlanStaticEgress)
	if err != nil {
		return nil, err
	}

	members := make(map[int][]int)
	for _, pdu := range pdus {
		vlan, ok := intIndexOf(pdu.Name, oidDot1qVlanStaticEgress)
		if !ok {
			continue
		}
		for _, base := range PortList(pduBytes(pdu)).Ports() {
			if idx, ok := bases[base]; ok {
				members[idx] = append(members[idx], vlan)
			}
		}
	}
	for idx := range members {
		sort.Ints(members[idx])
	}
	return members, nil
}

func (p *Probe) vlanPortLists(ctx context.Context, vlan int) (egress, untagged PortList, err error) {
	suffix := "." + strconv.Itoa(vlan)
	pkt, err := p.get(ctx, []string{oidDot1qVlanStaticEgress + suffix, oidDot1qVlanStaticUntagged + suffix})
	if err != nil {
		return nil, nil, fmt.Errorf("SNMP get VLAN %d: %w", vlan, err)
	}
	for _, pdu := range pkt.Variables {
		switch pdu.Type {
		case gosnmp.NoSuchInstance, gosnmp.NoSuchObject:
			return nil, nil, fmt.Errorf("%w: %d", errNoSuchVLAN, vlan)
		}
		if _, ok := indexOf(pdu.Name, oidDot1qVlanStaticEgress); ok {
			egress = PortList(pduBytes(pdu))
		} else {
			untagged = PortList(pduBytes(pdu))
		}
	}
	return egress, untagged, nil
}

func (p *Probe) createVLAN(ctx context.Context, vlan int) error {
	err := p.set(ctx, []gosnmp.SnmpPDU{{
		Name:  oidDot1qVlanStaticRowStatus + "." + strconv.Itoa(vlan),
		Type:  gosnmp.Integer,
		Value: rowCreateAndGo,
	}})
	if err != nil {
		return fmt.Errorf("SNMP create VLAN %d: %w", vlan, err)
	}
	return nil
}

func (p *Probe) walkStrings(ctx context.Context, root string) (map[int]string, error) {
	pdus, err := p.walk(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(pdus))
	for _, pdu := range pdus {
		if idx, ok := intIndexOf(pdu.Name, root); ok {
			out[idx] = pduString(pdu)
		}
	}
	return out, nil
}

func (p *Probe) walkInts(ctx context.Context, root string) (map[int]int, error) {
	pdus, err := p.walk(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(pdus))
	for _, pdu := range pdus {
		if idx, ok := intIndexOf(pdu.Name, root); ok {
			out[idx] = pduInt(pdu)
		}
	}
	return out, nil
}

// unchanged reports whether op would leave the VLAN's port lists as they
// are.
func unchanged(op device.VLANOp, egress, untagged PortList, bridgePort int, tagged bool) bool {
	switch op {
	case device.VLANAdd:
		return egress.Has(bridgePort) && untagged.Has(bridgePort) != tagged
	case device.VLANDelete:
		return !egress.Has(bridgePort) && !untagged.Has(bridgePort)
	}
	return false
}

func ifStatus(admin, oper int) device.PortStatus {
	if admin == ifStatusDown {
		return device.StatusAdminDown
	}
	if oper == ifStatusUp {
		return device.StatusUp
	}
	return device.StatusDown
}
