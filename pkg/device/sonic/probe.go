package sonic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// DriverName is the inventory driver value for SONiC switches.
const DriverName = "sonic"

// Probe implements device.Probe for a SONiC switch.
type Probe struct {
	name   string
	target device.Target
	pinger *device.Pinger

	config *ConfigDBClient
	state  *StateDBClient
	tunnel *SSHTunnel

	mu sync.Mutex
}

// Register adds the SONiC driver to a registry.
func Register(r *device.Registry) {
	r.Register(DriverName, Open)
}

// Open connects to the switch's Redis, through an SSH tunnel when SSH
// credentials are set. A switch that cannot be reached still yields a Probe
// so that IsReachable can report it; only configuration errors fail Open.
func Open(ctx context.Context, t device.Target) (device.Probe, error) {
	if t.Address == "" {
		return nil, fmt.Errorf("device %s has no management address", t.Name)
	}
	p := &Probe{name: t.Name, target: t}
	if t.PingCount > 0 {
		p.pinger = device.NewPinger(t.PingCount, t.Timeout)
	}
	return p, nil
}

// connect lazily opens the Redis clients.
func (p *Probe) connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config != nil {
		return nil
	}

	redisPort := p.target.RedisPort
	if redisPort == 0 {
		redisPort = 6379
	}

	var addr string
	if p.target.SSHUser != "" && p.target.SSHPassword != "" {
		tun, err := NewSSHTunnel(TunnelConfig{
			Host:       p.target.Address,
			Port:       p.target.SSHPort,
			User:       p.target.SSHUser,
			Password:   p.target.SSHPassword,
			KnownHosts: p.target.KnownHosts,
			RedisPort:  redisPort,
			Timeout:    p.target.Timeout,
		})
		if err != nil {
			return fmt.Errorf("SSH tunnel to %s: %w", p.name, err)
		}
		p.tunnel = tun
		addr = tun.LocalAddr()
	} else {
		addr = fmt.Sprintf("%s:%d", p.target.Address, redisPort)
	}

	config := NewConfigDBClient(addr)
	if err := config.Connect(ctx); err != nil {
		config.Close()
		p.closeTunnel()
		return fmt.Errorf("connecting to config_db on %s: %w", p.name, err)
	}

	p.config = config
	p.state = NewStateDBClient(addr)
	util.WithDevice(p.name).Debug("Connected")
	return nil
}

// IsReachable pings the management address (when enabled) and then checks
// that CONFIG_DB answers.
func (p *Probe) IsReachable(ctx context.Context) bool {
	log := util.WithDevice(p.name)
	if p.pinger != nil {
		ok, err := p.pinger.Ping(ctx, p.target.Address)
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
	return true
}

// CollectInterfaces merges CONFIG_DB PORT with STATE_DB PORT_TABLE.
func (p *Probe) CollectInterfaces(ctx context.Context, withVLANs bool) ([]device.Interface, error) {
	if err := p.connect(ctx); err != nil {
		return nil, err
	}

	ports, err := p.config.Ports(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	states, err := p.state.PortStates(ctx)
	if err != nil {
		// Without STATE_DB every enabled port reads as down.
		util.WithDevice(p.name).Warnf("Failed to load state_db: %v", err)
		states = nil
	}

	var members map[string][]int
	if withVLANs {
		members, err = p.config.VLANMembership(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}

	ifaces := make([]device.Interface, 0, len(ports))
	for name, port := range ports {
		ifaces = append(ifaces, device.Interface{
			Name:        name,
			Status:      portStatus(port.AdminStatus, states[name].OperStatus),
			Description: port.Description,
			VLANs:       members[name],
		})
	}
	sort.Slice(ifaces, func(i, j int) bool {
		return lessInterfaceName(ifaces[i].Name, ifaces[j].Name)
	})
	return ifaces, nil
}

// SetPort writes admin_status up or down.
func (p *Probe) SetPort(ctx context.Context, port string, status device.PortStatus) error {
	if err := p.connect(ctx); err != nil {
		return err
	}

	var admin string
	switch status {
	case device.StatusUp:
		admin = "up"
	case device.StatusAdminDown, device.StatusDown:
		admin = "down"
	default:
		return fmt.Errorf("unsupported port status %q", status)
	}

	exists, err := p.config.Exists(ctx, "PORT", port)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: port %s on %s", util.ErrNotFound, port, p.name)
	}

	util.WithDevice(p.name).Infof("Setting %s admin_status=%s", port, admin)
	return p.config.SetAdminStatus(ctx, port, admin)
}

// SetVLANs adds or removes VLAN_MEMBER entries, one per VLAN.
func (p *Probe) SetVLANs(ctx context.Context, port string, op device.VLANOp, vlanIDs []int, tagged bool) error {
	if err := p.connect(ctx); err != nil {
		return err
	}

	log := util.WithDevice(p.name)
	for _, id := range vlanIDs {
		var err error
		switch op {
		case device.VLANAdd:
			log.Infof("Adding %s to %s", port, VLANName(id))
			err = p.config.AddVLANMember(ctx, id, port, tagged)
		case device.VLANDelete:
			log.Infof("Removing %s from %s", port, VLANName(id))
			err = p.config.RemoveVLANMember(ctx, id, port)
		default:
			return fmt.Errorf("unsupported VLAN operation %q", op)
		}
		if err != nil {
			return fmt.Errorf("%s %s on %s: %w", op, VLANName(id), port, err)
		}
	}
	return nil
}

// Close releases the Redis clients and the SSH tunnel.
func (p *Probe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config != nil {
		p.config.Close()
		p.config = nil
	}
	if p.state != nil {
		p.state.Close()
		p.state = nil
	}
	p.closeTunnel()
	return nil
}

func (p *Probe) closeTunnel() {
	if p.tunnel != nil {
		p.tunnel.Close()
		p.tunnel = nil
	}
}

// portStatus folds CONFIG_DB admin_status and STATE_DB oper_status.
func portStatus(admin, oper string) device.PortStatus {
	if strings.EqualFold(admin, "down") {
		return device.StatusAdminDown
	}
	if strings.EqualFold(oper, "up") {
		return device.StatusUp
	}
	return device.StatusDown
}

// lessInterfaceName orders Ethernet2 before Ethernet10.
func lessInterfaceName(a, b string) bool {
	pa, na := splitInterfaceName(a)
	pb, nb := splitInterfaceName(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitInterfaceName(name string) (string, int) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n := 0
	for _, c := range name[i:] {
		n = n*10 + int(c-'0')
	}
	return name[:i], n
}
