package finder

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/newtron-network/newtring/pkg/device"
)

type fakeSource struct {
	devices map[string][]device.Interface
	calls   map[string]int
}

func (s *fakeSource) Interfaces(_ context.Context, name string) ([]device.Interface, error) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[name]++
	ifaces, ok := s.devices[name]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return ifaces, nil
}

func ports(descs ...string) []device.Interface {
	ifaces := make([]device.Interface, len(descs))
	for i, d := range descs {
		ifaces[i] = device.Interface{Name: "Ethernet" + string(rune('0'+i)), Status: device.StatusUp, Description: d}
	}
	return ifaces
}

var inventory = []string{"agg1", "agg2", "sw1", "sw2", "sw3", "sw4", "sw5", "sw6", "sw8"}

func newTestFinder(t *testing.T, devices map[string][]device.Interface) (*Finder, *fakeSource) {
	t.Helper()
	m, err := NewPatternMatcher(`\b(sw\d+)\b`, `\b(agg\d+)\b`, inventory)
	if err != nil {
		t.Fatalf("NewPatternMatcher: %v", err)
	}
	src := &fakeSource{devices: devices}
	return New(src, m), src
}

func TestPatternMatcher_Match(t *testing.T) {
	m, err := NewPatternMatcher(`\b(sw\d+)\b`, `\bagg\d+\b`, inventory)
	if err != nil {
		t.Fatalf("NewPatternMatcher: %v", err)
	}

	tests := []struct {
		desc   string
		want   Neighbor
		wantOK bool
	}{
		{"to sw2 port 3", Neighbor{Name: "sw2", Kind: KindAccess}, true},
		{"TO SW2", Neighbor{Name: "sw2", Kind: KindAccess}, true},
		{"uplink agg1", Neighbor{Name: "agg1", Kind: KindAggregation}, true},
		{"to sw10 then sw3", Neighbor{Name: "sw3", Kind: KindAccess}, true},
		{"to sw10", Neighbor{}, false},
		{"customer port", Neighbor{}, false},
		{"", Neighbor{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, ok := m.Match(tt.desc)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Match(%q) = %+v, %v; want %+v, %v", tt.desc, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPatternMatcher_DeclaredRole(t *testing.T) {
	m, err := NewPatternMatcher(`\b([a-z]+\d+)\b`, "", inventory)
	if err != nil {
		t.Fatalf("NewPatternMatcher: %v", err)
	}

	if got, _ := m.Match("uplink agg1"); got.Kind != KindAccess {
		t.Errorf("without a role, kind = %s, want access", got.Kind)
	}

	m.WithRole("agg1", KindAggregation).WithRole("sw2", KindAccess)
	tests := []struct {
		desc string
		want Neighbor
	}{
		{"uplink agg1", Neighbor{Name: "agg1", Kind: KindAggregation}},
		{"to sw2", Neighbor{Name: "sw2", Kind: KindAccess}},
		{"to sw3", Neighbor{Name: "sw3", Kind: KindAccess}},
	}
	for _, tt := range tests {
		if got, ok := m.Match(tt.desc); !ok || got != tt.want {
			t.Errorf("Match(%q) = %+v, %v; want %+v", tt.desc, got, ok, tt.want)
		}
	}
}

func TestNewPatternMatcher_BadPattern(t *testing.T) {
	if _, err := NewPatternMatcher(`(sw`, "", inventory); err == nil {
		t.Error("expected error for invalid access pattern")
	}
}

func TestFind_SingleRing(t *testing.T) {
	f, _ := newTestFinder(t, map[string][]device.Interface{
		"agg1": ports("to sw1", "to sw3", "customer"),
		"sw1":  ports("uplink agg1", "to sw2"),
		"sw2":  ports("to sw1", "to sw3"),
		"sw3":  ports("to sw2", "uplink AGG1"),
	})

	got, err := f.Find(context.Background(), "agg1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := []Structure{{Aggregation: "agg1", PortStart: "Ethernet0", Nodes: []string{"sw1", "sw2", "sw3"}, PortEnd: "Ethernet1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Find = %+v, want %+v", got, want)
	}
}

func TestFind_BacktracksDeadBranch(t *testing.T) {
	f, _ := newTestFinder(t, map[string][]device.Interface{
		"agg1": ports("to sw1", "to sw3"),
		"sw1":  ports("uplink agg1", "to sw8", "to sw2"),
		"sw8":  ports("to sw1"),
		"sw2":  ports("to sw1", "to sw3"),
		"sw3":  ports("to sw2", "uplink agg1"),
	})

	got, err := f.Find(context.Background(), "agg1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0].Nodes, []string{"sw1", "sw2", "sw3"}) {
		t.Errorf("Find = %+v, want one ring sw1 sw2 sw3", got)
	}
}

func TestFind_DeadEnds(t *testing.T) {
	tests := []struct {
		name    string
		devices map[string][]device.Interface
	}{
		{
			name: "unreachable member",
			devices: map[string][]device.Interface{
				"agg1": ports("to sw1", "to sw3"),
				"sw1":  ports("uplink agg1", "to sw2"),
				"sw3":  ports("to sw2", "uplink agg1"),
			},
		},
		{
			name: "member absent from inventory",
			devices: map[string][]device.Interface{
				"agg1": ports("to sw1", "to sw3"),
				"sw1":  ports("uplink agg1", "to sw9"),
				"sw3":  ports("to sw9", "uplink agg1"),
			},
		},
		{
			name: "other aggregation not followed",
			devices: map[string][]device.Interface{
				"agg1": ports("to sw1"),
				"sw1":  ports("uplink agg1", "to sw2"),
				"sw2":  ports("to sw1", "uplink agg2"),
				"agg2": ports("to sw2", "to sw1"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFinder(t, tt.devices)
			got, err := f.Find(context.Background(), "agg1")
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Find = %+v, want no rings", got)
			}
		})
	}
}

func TestFind_TwoRingsAndPassedSet(t *testing.T) {
	f, src := newTestFinder(t, map[string][]device.Interface{
		"agg1": ports("to sw1", "to sw2", "backup to sw2", "to sw4", "to sw6"),
		"sw1":  ports("uplink agg1", "to sw2"),
		"sw2":  ports("to sw1", "uplink agg1"),
		"sw4":  ports("uplink agg1", "to sw5"),
		"sw5":  ports("to sw4", "to sw6"),
		"sw6":  ports("to sw5", "uplink agg1"),
	})

	got, err := f.Find(context.Background(), "agg1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := []Structure{
		{Aggregation: "agg1", PortStart: "Ethernet0", Nodes: []string{"sw1", "sw2"}, PortEnd: "Ethernet1"},
		{Aggregation: "agg1", PortStart: "Ethernet3", Nodes: []string{"sw4", "sw5", "sw6"}, PortEnd: "Ethernet4"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Find = %+v, want %+v", got, want)
	}
	if src.calls["sw2"] != 1 {
		t.Errorf("sw2 read %d times, want 1 (cached)", src.calls["sw2"])
	}
}

func TestFind_AggregationUnreachable(t *testing.T) {
	f, _ := newTestFinder(t, map[string][]device.Interface{})
	if _, err := f.Find(context.Background(), "agg1"); err == nil {
		t.Error("expected error when the aggregation device cannot be read")
	}
}

func TestFind_Cancelled(t *testing.T) {
	f, _ := newTestFinder(t, map[string][]device.Interface{
		"agg1": ports("to sw1", "to sw2"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Find(ctx, "agg1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Find error = %v, want context.Canceled", err)
	}
}
