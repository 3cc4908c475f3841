// Package finder discovers access rings hanging off an aggregation device by
// following interface descriptions from device to device.
package finder

import (
	"context"
	"fmt"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

// Source returns a device's interface snapshot. An error makes the device a
// dead end.
type Source interface {
	Interfaces(ctx context.Context, name string) ([]device.Interface, error)
}

// Structure is one discovered ring: the access devices in cabling order,
// bounded by the two aggregation ports they hang from.
type Structure struct {
	Aggregation string   `json:"aggregation"`
	PortStart   string   `json:"port_start"`
	Nodes       []string `json:"nodes"`
	PortEnd     string   `json:"port_end"`
}

type snapshot struct {
	ifaces []device.Interface
	err    error
}

// Finder walks the description graph. Interface snapshots are cached for the
// lifetime of the Finder, so use one Finder per discovery run.
type Finder struct {
	source  Source
	matcher Matcher
	cache   map[string]snapshot
}

// New returns a Finder reading interfaces from source.
func New(source Source, matcher Matcher) *Finder {
	return &Finder{source: source, matcher: matcher, cache: make(map[string]snapshot)}
}

// search is the state of one Find call.
type search struct {
	aggregation string
	claimed     map[string]bool // aggregation ports already bounding a ring
	passed      map[string]bool // devices already in a found ring
}

// Find returns every ring that starts and ends on aggregation. Only a failure
// to read the aggregation device itself, or ctx ending, is an error.
func (f *Finder) Find(ctx context.Context, aggregation string) ([]Structure, error) {
	aggIfaces, err := f.interfaces(ctx, aggregation)
	if err != nil {
		return nil, fmt.Errorf("reading aggregation device %s: %w", aggregation, err)
	}

	s := &search{
		aggregation: aggregation,
		claimed:     make(map[string]bool),
		passed:      make(map[string]bool),
	}
	log := util.WithDevice(aggregation)

	var found []Structure
	for _, port := range aggIfaces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.claimed[port.Name] {
			continue
		}
		nb, ok := f.matcher.Match(port.Description)
		if !ok || nb.Kind != KindAccess || s.passed[nb.Name] {
			continue
		}

		visited := map[string]bool{aggregation: true}
		nodes, end, ok := f.walk(ctx, s, port.Name, nb.Name, visited, nil)
		if !ok {
			log.Debugf("no ring closes from port %s (%s)", port.Name, nb.Name)
			continue
		}

		s.claimed[port.Name] = true
		s.claimed[end] = true
		for _, n := range nodes {
			s.passed[n] = true
		}
		log.Infof("found ring %s %v %s", port.Name, nodes, end)
		found = append(found, Structure{
			Aggregation: aggregation,
			PortStart:   port.Name,
			Nodes:       nodes,
			PortEnd:     end,
		})
	}
	return found, nil
}

// walk extends path with dev and follows its descriptions depth first. It
// returns the full path and the closing aggregation port when a link from the
// current device leads back to the origin on a second, unclaimed port.
func (f *Finder) walk(ctx context.Context, s *search, start, dev string, visited map[string]bool, path []string) ([]string, string, bool) {
	visited[dev] = true
	path = append(path, dev)

	ifaces, err := f.interfaces(ctx, dev)
	if err != nil {
		util.WithDevice(dev).Debugf("dead end: %v", err)
		return nil, "", false
	}

	for _, iface := range ifaces {
		nb, ok := f.matcher.Match(iface.Description)
		if !ok {
			continue
		}
		switch nb.Kind {
		case KindAggregation:
			if nb.Name != s.aggregation {
				continue
			}
			if end, ok := f.closingPort(ctx, s, start, dev); ok {
				return append([]string(nil), path...), end, true
			}
		case KindAccess:
			if visited[nb.Name] || s.passed[nb.Name] {
				continue
			}
			if nodes, end, ok := f.walk(ctx, s, start, nb.Name, visited, path); ok {
				return nodes, end, true
			}
		}
	}
	return nil, "", false
}

// closingPort finds an aggregation port, other than start and not yet
// claimed, whose description names dev.
func (f *Finder) closingPort(ctx context.Context, s *search, start, dev string) (string, bool) {
	ifaces, err := f.interfaces(ctx, s.aggregation)
	if err != nil {
		return "", false
	}
	for _, port := range ifaces {
		if port.Name == start || s.claimed[port.Name] {
			continue
		}
		if nb, ok := f.matcher.Match(port.Description); ok && nb.Kind == KindAccess && nb.Name == dev {
			return port.Name, true
		}
	}
	return "", false
}

func (f *Finder) interfaces(ctx context.Context, name string) ([]device.Interface, error) {
	if snap, ok := f.cache[name]; ok {
		return snap.ifaces, snap.err
	}
	ifaces, err := f.source.Interfaces(ctx, name)
	if ctx.Err() == nil {
		f.cache[name] = snapshot{ifaces: ifaces, err: err}
	}
	return ifaces, err
}
