package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/newtron-network/newtring/pkg/util"
)

// Opener connects to a device and returns its probe.
type Opener func(ctx context.Context, t Target) (Probe, error)

// Registry maps inventory driver names to openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

// Register binds a driver name. A later registration replaces an earlier one.
func (r *Registry) Register(driver string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[driver] = open
}

// Open resolves the target's driver and opens the device.
func (r *Registry) Open(ctx context.Context, t Target) (Probe, error) {
	r.mu.RLock()
	open, ok := r.openers[t.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (device %s; registered: %s)",
			util.ErrUnknownDriver, t.Driver, t.Name, strings.Join(r.Drivers(), ", "))
	}

	p, err := open(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("opening %s (%s): %w", t.Name, t.Driver, err)
	}
	util.WithDevice(t.Name).Debugf("opened with driver %s", t.Driver)
	return p, nil
}

// Drivers lists the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.openers))
	for name := range r.openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
