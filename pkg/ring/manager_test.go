package ring

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/util"
)

func newTestManager(net *fakeNetwork) (*Manager, *memStore, *fakeAudit) {
	store := newMemStore()
	log := &fakeAudit{}
	m := NewManager(net.registry(), net, store, Config{
		Workers:       4,
		DeviceTimeout: time.Second,
		User:          "tester",
		Audit:         log,
	})
	return m, store, log
}

func portAction(dev, port string, status device.PortStatus) Solution {
	return Solution{Kind: KindPortStatus, Device: dev, Port: port, Status: status}
}

func vlanAction(dev, port string, op device.VLANOp, vlans []int) Solution {
	return Solution{Kind: KindVLANChange, Device: dev, Port: port, VLANOp: op, VLANs: vlans, Tagged: true}
}

// actionsOnly drops info entries and perform results for comparison.
func actionsOnly(sols Solutions) Solutions {
	out := Solutions{}
	for _, s := range sols.Actions() {
		s.PerformStatus, s.PerformError = "", ""
		out = append(out, s)
	}
	return out
}

func TestEvaluateAndPlan_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		setup func(net *fakeNetwork)
		want  Solutions
	}{
		{
			name:  "healthy four node ring",
			setup: func(net *fakeNetwork) {},
			want:  Solutions{},
		},
		{
			name: "second node unreachable",
			setup: func(net *fakeNetwork) {
				net.probe("sw2").reachable = false
				net.port("sw1", portNext).Status = device.StatusDown
				net.port("sw3", portPrev).Status = device.StatusDown
			},
			want: Solutions{
				portAction("sw1", portNext, device.StatusAdminDown),
				vlanAction("sw4", portPrev, device.VLANAdd, []int{10, 20}),
			},
		},
		{
			name: "rotated with a closed port on the third node",
			setup: func(net *fakeNetwork) {
				net.port("sw4", portPrev).VLANs = []int{10, 20}
				net.port("sw3", portPrev).Status = device.StatusAdminDown
				net.port("sw2", portNext).Status = device.StatusDown
			},
			want: Solutions{
				vlanAction("sw4", portPrev, device.VLANDelete, []int{10, 20}),
				portAction("sw3", portPrev, device.StatusUp),
			},
		},
		{
			name: "single break",
			setup: func(net *fakeNetwork) {
				net.port("sw2", portNext).Status = device.StatusDown
				net.port("sw3", portPrev).Status = device.StatusDown
			},
			want: Solutions{
				portAction("sw2", portNext, device.StatusAdminDown),
				vlanAction("sw4", portPrev, device.VLANAdd, []int{10, 20}),
			},
		},
		{
			name: "several closed ports reopen the farthest",
			setup: func(net *fakeNetwork) {
				net.port("sw2", portNext).Status = device.StatusAdminDown
				net.port("sw3", portPrev).Status = device.StatusDown
				net.port("sw3", portNext).Status = device.StatusAdminDown
				net.port("sw4", portPrev).Status = device.StatusDown
			},
			want: Solutions{
				portAction("sw3", portNext, device.StatusUp),
			},
		},
		{
			name: "both ports closed on one node reopen the next-facing one",
			setup: func(net *fakeNetwork) {
				net.port("sw2", portPrev).Status = device.StatusAdminDown
				net.port("sw2", portNext).Status = device.StatusAdminDown
				net.port("sw1", portNext).Status = device.StatusDown
				net.port("sw3", portPrev).Status = device.StatusDown
			},
			want: Solutions{
				portAction("sw2", portNext, device.StatusUp),
			},
		},
		{
			name: "rotated and healthy de-provisions the tail",
			setup: func(net *fakeNetwork) {
				net.port("sw4", portPrev).VLANs = []int{10, 20}
			},
			want: Solutions{
				vlanAction("sw4", portPrev, device.VLANDelete, []int{10, 20}),
			},
		},
		{
			name: "rotated with a break closes the near side",
			setup: func(net *fakeNetwork) {
				net.port("sw4", portPrev).VLANs = []int{10, 20}
				net.port("sw2", portNext).Status = device.StatusDown
				net.port("sw3", portPrev).Status = device.StatusDown
			},
			want: Solutions{
				portAction("sw2", portNext, device.StatusAdminDown),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, def := newFakeRing(4)
			tt.setup(net)
			m, _, _ := newTestManager(net)

			sols, err := m.EvaluateAndPlan(context.Background(), def)
			if err != nil {
				t.Fatalf("EvaluateAndPlan: %v", err)
			}
			if got := actionsOnly(sols); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("plan = %s\nwant   %s", got, tt.want)
			}
		})
	}
}

func TestEvaluateAndPlan_HealthyIsEmpty(t *testing.T) {
	net, def := newFakeRing(4)
	m, store, _ := newTestManager(net)

	sols, err := m.EvaluateAndPlan(context.Background(), def)
	if err != nil {
		t.Fatalf("EvaluateAndPlan: %v", err)
	}
	if len(sols) != 0 {
		t.Errorf("plan = %s, want no entries", sols)
	}

	last, _ := store.LastResult(context.Background(), def.Name)
	if last == nil || last.State != StateHealthy.String() || last.Performed {
		t.Errorf("stored result = %+v, want an unperformed healthy result", last)
	}
}

func TestEvaluateAndPlan_StrayVLANsOnHealthyRing(t *testing.T) {
	net, def := newFakeRing(4)
	net.port("sw4", portPrev).VLANs = []int{10}
	m, _, _ := newTestManager(net)

	sols, err := m.EvaluateAndPlan(context.Background(), def)
	if err != nil {
		t.Fatalf("EvaluateAndPlan: %v", err)
	}
	if len(sols) != 2 || sols[1].Kind != KindInfo {
		t.Fatalf("plan = %s, want cleanup then info", sols)
	}
	want := vlanAction("sw4", portPrev, device.VLANDelete, []int{10})
	if !reflect.DeepEqual(sols[0], want) {
		t.Errorf("first entry = %s, want %s", sols[0], want)
	}
	for _, s := range sols {
		if s.Kind == KindPortStatus {
			t.Errorf("fault-free ring proposed a port change: %s", s)
		}
	}
}

func TestEvaluateAndPlan_Uncertain(t *testing.T) {
	tests := []struct {
		name  string
		setup func(net *fakeNetwork)
	}{
		{
			name: "two broken links",
			setup: func(net *fakeNetwork) {
				net.port("sw1", portNext).Status = device.StatusDown
				net.port("sw2", portPrev).Status = device.StatusDown
				net.port("sw3", portNext).Status = device.StatusDown
				net.port("sw4", portPrev).Status = device.StatusDown
			},
		},
		{
			name: "two separate outages",
			setup: func(net *fakeNetwork) {
				net.probe("sw2").reachable = false
				net.probe("sw4").reachable = false
			},
		},
		{
			name: "outage with a closed port elsewhere",
			setup: func(net *fakeNetwork) {
				net.probe("sw4").reachable = false
				net.port("sw2", portPrev).Status = device.StatusAdminDown
			},
		},
		{
			name: "break combined with a closed port",
			setup: func(net *fakeNetwork) {
				net.port("sw1", portNext).Status = device.StatusDown
				net.port("sw2", portPrev).Status = device.StatusDown
				net.port("sw3", portNext).Status = device.StatusAdminDown
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, def := newFakeRing(5)
			tt.setup(net)
			m, _, _ := newTestManager(net)

			sols, err := m.EvaluateAndPlan(context.Background(), def)
			if err != nil {
				t.Fatalf("EvaluateAndPlan: %v", err)
			}
			if len(sols) != 1 || sols[0].Kind != KindError {
				t.Errorf("plan = %s, want a single error entry", sols)
			}
		})
	}
}

func TestEvaluateAndPlan_SelfReferenceFailsBeforeProbing(t *testing.T) {
	net, def := newFakeRing(4)
	def.Members[1].Next = def.Members[1].Device
	m, _, _ := newTestManager(net)

	_, err := m.EvaluateAndPlan(context.Background(), def)

	var structErr *util.InvalidRingStructureError
	if !errors.As(err, &structErr) {
		t.Fatalf("error = %v, want InvalidRingStructureError", err)
	}
	if structErr.Device != "sw2" {
		t.Errorf("error names %q, want sw2", structErr.Device)
	}
	if net.openCount() != 0 {
		t.Errorf("%d devices opened before the chain was validated", net.openCount())
	}
}

func TestEvaluateAndPlan_StatusErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(net *fakeNetwork)
	}{
		{"head unreachable", func(net *fakeNetwork) { net.probe("sw1").reachable = false }},
		{"tail unreachable", func(net *fakeNetwork) { net.probe("sw4").reachable = false }},
		{"all unreachable", func(net *fakeNetwork) {
			for _, p := range net.probes {
				p.reachable = false
			}
		}},
		{"required VLANs missing on head", func(net *fakeNetwork) { net.port("sw1", portNext).VLANs = []int{10} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, def := newFakeRing(4)
			tt.setup(net)
			m, _, _ := newTestManager(net)

			if _, err := m.EvaluateAndPlan(context.Background(), def); !errors.Is(err, util.ErrRingStatus) {
				t.Errorf("error = %v, want ErrRingStatus", err)
			}
		})
	}
}

func TestEvaluateAndPlan_CollectFailureIsUnreachable(t *testing.T) {
	net, def := newFakeRing(4)
	net.probe("sw2").collectErr = errors.New("redis timeout")
	net.port("sw1", portNext).Status = device.StatusDown
	m, _, _ := newTestManager(net)

	sols, err := m.EvaluateAndPlan(context.Background(), def)
	if err != nil {
		t.Fatalf("EvaluateAndPlan: %v", err)
	}
	want := Solutions{
		portAction("sw1", portNext, device.StatusAdminDown),
		vlanAction("sw4", portPrev, device.VLANAdd, []int{10, 20}),
	}
	if !reflect.DeepEqual(actionsOnly(sols), want) {
		t.Errorf("plan = %s, want %s", sols, want)
	}
}

func TestEvaluateAndPlan_Deactivated(t *testing.T) {
	net, def := newFakeRing(4)
	def.Status = StatusDeactivated
	m, _, _ := newTestManager(net)

	if _, err := m.EvaluateAndPlan(context.Background(), def); !errors.Is(err, util.ErrRingDeactivated) {
		t.Errorf("error = %v, want ErrRingDeactivated", err)
	}
}

func TestManager_StoredStatusOverridesDeclared(t *testing.T) {
	net, def := newFakeRing(4)
	m, _, _ := newTestManager(net)
	ctx := context.Background()

	if err := m.SetStatus(ctx, def.Name, StatusDeactivated); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := m.EvaluateAndPlan(ctx, def); !errors.Is(err, util.ErrRingDeactivated) {
		t.Errorf("error = %v, want ErrRingDeactivated", err)
	}
	if err := m.SetStatus(ctx, def.Name, StatusInProcess); err == nil {
		t.Error("SetStatus(IN_PROCESS) should be refused")
	}
}

// An outage is isolated, held while it lasts, and undone once the node is
// back; no pass re-proposes an action already applied.
func TestApply_OutageRecoveryCycle(t *testing.T) {
	net, def := newFakeRing(4)
	m, store, log := newTestManager(net)
	ctx := context.Background()

	net.probe("sw2").reachable = false
	net.port("sw1", portNext).Status = device.StatusDown

	plan, err := m.EvaluateAndPlan(ctx, def)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	performed, err := m.Apply(ctx, def, plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if performed.Failed() != 0 {
		t.Fatalf("performed = %s, want no failures", performed)
	}
	for _, s := range performed.Actions() {
		if s.PerformStatus != PerformDone {
			t.Errorf("%s: status %q", s, s.PerformStatus)
		}
	}

	again, err := m.EvaluateAndPlan(ctx, def)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(again.Actions()) != 0 {
		t.Errorf("second pass re-proposed %s", again)
	}
	if len(again) != 1 || again[0].Kind != KindInfo {
		t.Errorf("second pass = %s, want one info entry", again)
	}

	net.probe("sw2").reachable = true
	net.port("sw2", portPrev).Status = device.StatusDown

	restore, err := m.EvaluateAndPlan(ctx, def)
	if err != nil {
		t.Fatalf("recovery pass: %v", err)
	}
	want := Solutions{
		vlanAction("sw4", portPrev, device.VLANDelete, []int{10, 20}),
		portAction("sw1", portNext, device.StatusUp),
	}
	if !reflect.DeepEqual(actionsOnly(restore), want) {
		t.Fatalf("recovery plan = %s, want %s", restore, want)
	}
	if _, err := m.ApplyLast(ctx, def); err != nil {
		t.Fatalf("ApplyLast: %v", err)
	}

	final, err := m.EvaluateAndPlan(ctx, def)
	if err != nil {
		t.Fatalf("final pass: %v", err)
	}
	if len(final) != 0 {
		t.Errorf("final pass = %s, want healthy", final)
	}

	if len(log.events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(log.events))
	}
	if ev := log.events[0]; !ev.Success || ev.State != StateOutage.String() || len(ev.Changes) != 2 {
		t.Errorf("first audit event = %+v", ev)
	}
	if st, _, _ := store.Status(ctx, def.Name); st != StatusNormal {
		t.Errorf("status after apply = %s, want NORMAL", st)
	}
}

func TestApply_BestEffort(t *testing.T) {
	net, def := newFakeRing(4)
	net.probe("sw1").setErr = errors.New("permission denied")
	m, _, log := newTestManager(net)

	plan := Solutions{
		portAction("sw1", portNext, device.StatusAdminDown),
		{Kind: KindInfo, Message: "note"},
		vlanAction("sw4", portPrev, device.VLANAdd, []int{10, 20}),
	}
	performed, err := m.Apply(context.Background(), def, plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if performed[0].PerformStatus != PerformFailed || performed[0].PerformError == "" {
		t.Errorf("first action = %+v, want failed", performed[0])
	}
	if performed[1].PerformStatus != "" {
		t.Errorf("info entry was dispatched: %+v", performed[1])
	}
	if performed[2].PerformStatus != PerformDone {
		t.Errorf("third action = %+v, want done", performed[2])
	}
	if got := net.port("sw4", portPrev).VLANs; !reflect.DeepEqual(got, []int{10, 20}) {
		t.Errorf("tail VLANs = %v", got)
	}
	if plan[0].PerformStatus != "" {
		t.Error("Apply modified the caller's plan")
	}
	if len(log.events) != 1 || log.events[0].Success {
		t.Errorf("audit = %+v, want one failed event", log.events)
	}
}

func TestApply_Locked(t *testing.T) {
	net, def := newFakeRing(4)
	m, store, _ := newTestManager(net)
	ctx := context.Background()

	if err := store.Lock(ctx, def.Name, "someone-else", time.Minute); err != nil {
		t.Fatal(err)
	}
	_, err := m.Apply(ctx, def, Solutions{portAction("sw1", portNext, device.StatusAdminDown)})
	if !errors.Is(err, util.ErrRingLocked) {
		t.Errorf("error = %v, want ErrRingLocked", err)
	}
	if calls := net.probe("sw1").calls; len(calls) != 0 {
		t.Errorf("locked ring was changed: %v", calls)
	}
}

func TestApply_NothingToDo(t *testing.T) {
	net, def := newFakeRing(4)
	m, _, log := newTestManager(net)

	sols, err := m.Apply(context.Background(), def, Solutions{{Kind: KindInfo, Message: "healthy"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(sols) != 1 || len(log.events) != 0 || net.openCount() != 0 {
		t.Errorf("Apply without actions touched devices or audit")
	}
}

func TestApplyLast_NoStoredPlan(t *testing.T) {
	net, def := newFakeRing(4)
	m, _, _ := newTestManager(net)

	if _, err := m.ApplyLast(context.Background(), def); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestApply_RefusesPlanWithError(t *testing.T) {
	net, def := newFakeRing(4)
	m, store, log := newTestManager(net)
	ctx := context.Background()

	plan := Solutions{{Kind: KindError, Message: "ring ring-1: 2 broken links"}}
	if _, err := m.Apply(ctx, def, plan); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("Apply error = %v, want ErrPreconditionFailed", err)
	}

	if err := store.SaveResult(ctx, def.Name, Result{State: "uncertain", Solutions: plan, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ApplyLast(ctx, def); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("ApplyLast error = %v, want ErrPreconditionFailed", err)
	}
	if net.openCount() != 0 || len(log.events) != 0 {
		t.Error("refused plan touched devices or audit")
	}
}

func TestApplyLast_RefusesPerformedPlan(t *testing.T) {
	net, def := newFakeRing(4)
	m, _, log := newTestManager(net)
	ctx := context.Background()

	net.probe("sw2").reachable = false
	net.port("sw1", portNext).Status = device.StatusDown

	plan, err := m.EvaluateAndPlan(ctx, def)
	if err != nil {
		t.Fatalf("EvaluateAndPlan: %v", err)
	}
	if _, err := m.Apply(ctx, def, plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	applied := len(net.probe("sw1").calls)

	if _, err := m.ApplyLast(ctx, def); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("ApplyLast error = %v, want ErrPreconditionFailed", err)
	}
	if calls := net.probe("sw1").calls; len(calls) != applied {
		t.Errorf("sw1 calls = %v, want the first apply only", calls)
	}
	if len(log.events) != 1 {
		t.Errorf("audit events = %d, want 1", len(log.events))
	}
}

func TestApplyLast_RefusesStalePlan(t *testing.T) {
	net, def := newFakeRing(4)
	m, store, log := newTestManager(net)
	ctx := context.Background()

	plan := Solutions{portAction("sw1", portNext, device.StatusAdminDown)}
	if err := store.SaveResult(ctx, def.Name, Result{
		State:     StateOutage.String(),
		Solutions: plan,
		Timestamp: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ApplyLast(ctx, def); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("ApplyLast error = %v, want ErrPreconditionFailed", err)
	}
	if net.openCount() != 0 || len(log.events) != 0 {
		t.Error("stale plan touched devices or audit")
	}

	m.cfg.MaxPlanAge = 2 * time.Hour
	if _, err := m.ApplyLast(ctx, def); err != nil {
		t.Errorf("ApplyLast within the age limit: %v", err)
	}
}

func TestCheck_WhileApplying(t *testing.T) {
	net, def := newFakeRing(4)
	m, store, _ := newTestManager(net)
	ctx := context.Background()

	prior := Result{State: StateOutage.String(), Timestamp: time.Now(), Performed: true}
	if err := store.SaveResult(ctx, def.Name, prior); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, def.Name, StatusInProcess); err != nil {
		t.Fatal(err)
	}
	if err := store.Lock(ctx, def.Name, "other-run", time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Check(ctx, def); !errors.Is(err, util.ErrRingLocked) {
		t.Errorf("Check error = %v, want ErrRingLocked", err)
	}
	if net.openCount() != 0 {
		t.Errorf("Check opened %d devices during apply", net.openCount())
	}
	if last, _ := store.LastResult(ctx, def.Name); !reflect.DeepEqual(*last, prior) {
		t.Errorf("last result = %+v, want it untouched", last)
	}

	// A leftover IN_PROCESS without a holder does not block checks.
	if err := store.Unlock(ctx, def.Name, "other-run"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Check(ctx, def); err != nil {
		t.Errorf("Check with stale status: %v", err)
	}
}

func TestDiscover(t *testing.T) {
	net, _ := newFakeRing(4)
	m, _, _ := newTestManager(net)

	if _, err := m.Discover(context.Background(), "sw1"); err == nil {
		t.Error("Discover without a matcher should fail")
	}
}
