package ring

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// OpenFunc opens the probe for a named device.
type OpenFunc func(ctx context.Context, name string) (device.Probe, error)

// Probes opens each device at most once per run and hands out the same probe
// to collection and to the performer. Concurrent first uses of one device
// share a single open.
type Probes struct {
	open  OpenFunc
	group singleflight.Group

	mu     sync.Mutex
	probes map[string]device.Probe
}

// NewProbes returns an empty probe cache backed by open.
func NewProbes(open OpenFunc) *Probes {
	return &Probes{open: open, probes: make(map[string]device.Probe)}
}

func (p *Probes) cached(name string) (device.Probe, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	probe, ok := p.probes[name]
	return probe, ok
}

// Get returns the cached probe for name, opening it on first use. A failed
// open is not cached.
func (p *Probes) Get(ctx context.Context, name string) (device.Probe, error) {
	if probe, ok := p.cached(name); ok {
		return probe, nil
	}

	v, err, _ := p.group.Do(name, func() (interface{}, error) {
		if probe, ok := p.cached(name); ok {
			return probe, nil
		}
		probe, err := p.open(ctx, name)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.probes[name] = probe
		p.mu.Unlock()
		return probe, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(device.Probe), nil
}

// Close closes every opened probe.
func (p *Probes) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, probe := range p.probes {
		if err := probe.Close(); err != nil {
			util.WithDevice(name).Warnf("closing probe: %v", err)
		}
		delete(p.probes, name)
	}
}

// Collector fills reachability and interface snapshots for a ring's nodes in
// parallel.
type Collector struct {
	Workers int           // concurrent device tasks; <= 0 means one per node
	Timeout time.Duration // per device; 0 means no limit beyond ctx
}

// Collect probes every node. A device that cannot be opened, does not answer
// or fails to return its interfaces is marked Unreachable; that is never an
// error. Collect only fails when ctx is cancelled.
func (c Collector) Collect(ctx context.Context, probes *Probes, nodes []*Node) error {
	g, gctx := errgroup.WithContext(ctx)
	if c.Workers > 0 {
		g.SetLimit(c.Workers)
	}

	for _, node := range nodes {
		node := node
		g.Go(func() error {
			tctx, cancel := c.taskContext(gctx)
			defer cancel()
			c.collectNode(tctx, probes, node)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c Collector) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}

func (c Collector) collectNode(ctx context.Context, probes *Probes, node *Node) {
	log := util.WithDevice(node.Device)
	node.Reach = Unreachable
	node.Interfaces = nil

	probe, err := probes.Get(ctx, node.Device)
	if err != nil {
		log.Warnf("cannot open device: %v", err)
		return
	}
	if !probe.IsReachable(ctx) {
		log.Info("device is unreachable")
		return
	}

	ifaces, err := probe.CollectInterfaces(ctx, node.CollectVLANs)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Warnf("collecting interfaces: %v", err)
		return
	}

	node.Interfaces = ifaces
	node.Reach = Reachable
	log.Debugf("collected %d interfaces", len(ifaces))
}
