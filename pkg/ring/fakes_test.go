package ring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/newtron-network/newtring/pkg/audit"
	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// Port layout of every fake ring device.
const (
	portPrev     = "Ethernet0"
	portNext     = "Ethernet4"
	portCustomer = "Ethernet8"
)

var testVLANs = []int{10, 20}

// fakeProbe is an in-memory device whose port changes stick, so a plan can
// be applied and the ring evaluated again.
type fakeProbe struct {
	mu         sync.Mutex
	name       string
	reachable  bool
	ifaces     []device.Interface
	collectErr error
	setErr     error
	calls      []string
}

func (p *fakeProbe) IsReachable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable && ctx.Err() == nil
}

func (p *fakeProbe) CollectInterfaces(_ context.Context, withVLANs bool) ([]device.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.collectErr != nil {
		return nil, p.collectErr
	}
	out := make([]device.Interface, len(p.ifaces))
	for i, iface := range p.ifaces {
		out[i] = iface
		out[i].VLANs = nil
		if withVLANs {
			out[i].VLANs = append([]int(nil), iface.VLANs...)
		}
	}
	return out, nil
}

func (p *fakeProbe) iface(name string) *device.Interface {
	for i := range p.ifaces {
		if p.ifaces[i].Name == name {
			return &p.ifaces[i]
		}
	}
	return nil
}

func (p *fakeProbe) SetPort(_ context.Context, port string, status device.PortStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("port %s %s", port, status))
	if p.setErr != nil {
		return p.setErr
	}
	iface := p.iface(port)
	if iface == nil {
		return util.ErrNotFound
	}
	iface.Status = status
	return nil
}

func (p *fakeProbe) SetVLANs(_ context.Context, port string, op device.VLANOp, vlanIDs []int, tagged bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("vlans %s %s %s tagged=%v", port, op, util.CompactRange(vlanIDs), tagged))
	if p.setErr != nil {
		return p.setErr
	}
	iface := p.iface(port)
	if iface == nil {
		return util.ErrNotFound
	}
	if op == device.VLANAdd {
		iface.VLANs = lo.Union(iface.VLANs, vlanIDs)
		sort.Ints(iface.VLANs)
	} else {
		iface.VLANs, _ = lo.Difference(iface.VLANs, vlanIDs)
	}
	return nil
}

func (p *fakeProbe) Close() error { return nil }

// fakeNetwork is a ring of fake devices sw1..swN plus the registry and
// target lookup a Manager needs.
type fakeNetwork struct {
	mu     sync.Mutex
	probes map[string]*fakeProbe
	opens  int
}

// newFakeRing builds a healthy n-node ring: every chain port up, required
// VLANs on the head's next port, tail clean.
func newFakeRing(n int) (*fakeNetwork, *Definition) {
	net := &fakeNetwork{probes: make(map[string]*fakeProbe)}
	def := &Definition{
		Name:   "ring-1",
		Head:   "sw1",
		Tail:   fmt.Sprintf("sw%d", n),
		VLANs:  testVLANs,
		Status: StatusNormal,
	}

	name := func(i int) string { return fmt.Sprintf("sw%d", (i+n)%n+1) }
	for i := 0; i < n; i++ {
		p := &fakeProbe{
			name:      name(i),
			reachable: true,
			ifaces: []device.Interface{
				{Name: portPrev, Status: device.StatusUp, Description: "ring to " + name(i-1)},
				{Name: portNext, Status: device.StatusUp, Description: "ring to " + name(i+1)},
				{Name: portCustomer, Status: device.StatusUp, Description: "customer A"},
			},
		}
		net.probes[p.name] = p

		m := Member{Device: p.name}
		if i < n-1 {
			m.Next = name(i + 1)
		}
		def.Members = append(def.Members, m)
	}
	net.port("sw1", portNext).VLANs = append([]int(nil), testVLANs...)
	return net, def
}

func (n *fakeNetwork) probe(name string) *fakeProbe { return n.probes[name] }

func (n *fakeNetwork) port(dev, port string) *device.Interface {
	return n.probes[dev].iface(port)
}

func (n *fakeNetwork) Target(name string) (device.Target, bool) {
	if _, ok := n.probes[name]; !ok {
		return device.Target{}, false
	}
	return device.Target{Name: name, Driver: "fake"}, true
}

func (n *fakeNetwork) registry() *device.Registry {
	r := device.NewRegistry()
	r.Register("fake", func(_ context.Context, t device.Target) (device.Probe, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.opens++
		return n.probes[t.Name], nil
	})
	return r
}

func (n *fakeNetwork) openCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opens
}

// nodesFor collects the fake ring directly, without a Manager.
func (n *fakeNetwork) nodesFor(def *Definition) ([]*Node, error) {
	chain, err := Normalize(def)
	if err != nil {
		return nil, err
	}
	nodes := NewNodes(chain)
	probes := NewProbes(func(_ context.Context, name string) (device.Probe, error) {
		return n.probes[name], nil
	})
	if err := (Collector{Workers: 2, Timeout: time.Second}).Collect(context.Background(), probes, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// evaluate runs collection, resolution and evaluation on the fake ring.
func (n *fakeNetwork) evaluate(def *Definition) (*Evaluation, error) {
	nodes, err := n.nodesFor(def)
	if err != nil {
		return nil, err
	}
	if err := ResolveLinks(def.Name, nodes); err != nil {
		return nil, err
	}
	return Evaluate(def, nodes)
}

type memStore struct {
	mu      sync.Mutex
	status  map[string]Status
	results map[string]Result
	locks   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		status:  make(map[string]Status),
		results: make(map[string]Result),
		locks:   make(map[string]string),
	}
}

func (s *memStore) Status(_ context.Context, ring string) (Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[ring]
	return st, ok, nil
}

func (s *memStore) SetStatus(_ context.Context, ring string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[ring] = status
	return nil
}

func (s *memStore) LastResult(_ context.Context, ring string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[ring]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (s *memStore) SaveResult(_ context.Context, ring string, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[ring] = res
	return nil
}

func (s *memStore) Lock(_ context.Context, ring, holder string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[ring]; held {
		return util.ErrRingLocked
	}
	s.locks[ring] = holder
	return nil
}

func (s *memStore) Unlock(_ context.Context, ring, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[ring] != holder {
		return errors.New("lock holder mismatch")
	}
	delete(s.locks, ring)
	return nil
}

type fakeAudit struct {
	events []*audit.Event
}

func (a *fakeAudit) Log(e *audit.Event) error {
	a.events = append(a.events, e)
	return nil
}

func (a *fakeAudit) Query(audit.Filter) ([]*audit.Event, error) { return a.events, nil }

func (a *fakeAudit) Close() error { return nil }
