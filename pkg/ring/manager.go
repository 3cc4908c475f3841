package ring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/newtring/pkg/audit"
	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/finder"
	"github.com/newtron-network/newtring/pkg/util"
)

// Targets looks up how to reach an inventory device.
type Targets interface {
	Target(name string) (device.Target, bool)
}

// Result is the last plan computed (or performed) for a ring.
type Result struct {
	State     string    `json:"state"`
	Solutions Solutions `json:"solutions"`
	Timestamp time.Time `json:"timestamp"`
	Performed bool      `json:"performed"`
}

// Store keeps the runtime part of a ring: its status, its last result and
// the run lock that serializes Apply.
type Store interface {
	// Status returns the stored status; ok is false when none was stored.
	Status(ctx context.Context, ring string) (status Status, ok bool, err error)
	SetStatus(ctx context.Context, ring string, status Status) error

	// LastResult returns nil when the ring was never evaluated.
	LastResult(ctx context.Context, ring string) (*Result, error)
	SaveResult(ctx context.Context, ring string, res Result) error

	// Lock returns util.ErrRingLocked when another holder owns the ring.
	Lock(ctx context.Context, ring, holder string, ttl time.Duration) error
	Unlock(ctx context.Context, ring, holder string) error
}

// Config tunes a Manager.
type Config struct {
	Workers       int
	DeviceTimeout time.Duration
	ApplyInterval time.Duration
	LockTTL       time.Duration
	MaxPlanAge    time.Duration // oldest stored plan ApplyLast accepts
	User          string
	Matcher       finder.Matcher
	Audit         audit.Logger // nil uses the package default
}

// Report is one evaluation pass.
type Report struct {
	Ring       string
	State      State
	Reason     string
	Evaluation *Evaluation
	Solutions  Solutions
	Timestamp  time.Time
}

// Manager evaluates, plans and repairs rings.
type Manager struct {
	registry  *device.Registry
	targets   Targets
	store     Store
	cfg       Config
	collector Collector
}

// NewManager wires a manager. Zero Config fields take defaults.
func NewManager(registry *device.Registry, targets Targets, store Store, cfg Config) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.MaxPlanAge <= 0 {
		cfg.MaxPlanAge = 15 * time.Minute
	}
	return &Manager{
		registry:  registry,
		targets:   targets,
		store:     store,
		cfg:       cfg,
		collector: Collector{Workers: cfg.Workers, Timeout: cfg.DeviceTimeout},
	}
}

func (m *Manager) open(ctx context.Context, name string) (device.Probe, error) {
	t, ok := m.targets.Target(name)
	if !ok {
		return nil, fmt.Errorf("device %s: %w", name, util.ErrNotFound)
	}
	if t.Timeout == 0 {
		t.Timeout = m.cfg.DeviceTimeout
	}
	return m.registry.Open(ctx, t)
}

// Status returns the effective status: the stored one if any, otherwise the
// declared one.
func (m *Manager) Status(ctx context.Context, def *Definition) (Status, error) {
	st, ok, err := m.store.Status(ctx, def.Name)
	if err != nil {
		return "", fmt.Errorf("reading status of ring %s: %w", def.Name, err)
	}
	if ok {
		return st, nil
	}
	if def.Status == "" {
		return StatusNormal, nil
	}
	return def.Status, nil
}

// SetStatus activates or deactivates a ring. IN_PROCESS is owned by Apply.
func (m *Manager) SetStatus(ctx context.Context, ring string, status Status) error {
	if status == StatusInProcess {
		return fmt.Errorf("status %s is set only while a plan is applied", status)
	}
	if err := m.store.SetStatus(ctx, ring, status); err != nil {
		return fmt.Errorf("setting status of ring %s: %w", ring, err)
	}
	util.WithRing(ring).Infof("status set to %s", status)
	return nil
}

// LastResult returns the stored result for a ring, or nil.
func (m *Manager) LastResult(ctx context.Context, ring string) (*Result, error) {
	return m.store.LastResult(ctx, ring)
}

// Check normalizes the chain before touching any device, then collects,
// resolves, evaluates and plans. The plan is stored as the ring's last
// result. A ring being changed by a running Apply is not checked.
func (m *Manager) Check(ctx context.Context, def *Definition) (*Report, error) {
	chain, err := Normalize(def)
	if err != nil {
		return nil, err
	}
	status, err := m.Status(ctx, def)
	if err != nil {
		return nil, err
	}
	log := util.WithRing(def.Name)
	switch status {
	case StatusDeactivated:
		return nil, fmt.Errorf("ring %s: %w", def.Name, util.ErrRingDeactivated)
	case StatusInProcess:
		if err := m.checkNotApplying(ctx, def.Name); err != nil {
			return nil, err
		}
		log.Warnf("status %s without a lock holder, checking anyway", status)
	}

	log.Debugf("chain %v", []string(chain))

	probes := NewProbes(m.open)
	defer probes.Close()

	nodes := NewNodes(chain)
	if err := m.collector.Collect(ctx, probes, nodes); err != nil {
		return nil, fmt.Errorf("collecting ring %s: %w", def.Name, err)
	}
	if err := ResolveLinks(def.Name, nodes); err != nil {
		return nil, err
	}
	ev, err := Evaluate(def, nodes)
	if err != nil {
		return nil, err
	}

	state, reason := Classify(ev)
	report := &Report{
		Ring:       def.Name,
		State:      state,
		Reason:     reason,
		Evaluation: ev,
		Solutions:  Plan(ev),
		Timestamp:  time.Now(),
	}
	log.Infof("state %s: %s", state, report.Solutions)

	if err := m.store.SaveResult(ctx, def.Name, Result{
		State:     state.String(),
		Solutions: report.Solutions,
		Timestamp: report.Timestamp,
	}); err != nil {
		return nil, fmt.Errorf("saving result of ring %s: %w", def.Name, err)
	}
	return report, nil
}

// checkNotApplying fails with util.ErrRingLocked while an Apply holds the
// ring's run lock.
func (m *Manager) checkNotApplying(ctx context.Context, ring string) error {
	holder := uuid.NewString()
	if err := m.store.Lock(ctx, ring, holder, m.cfg.LockTTL); err != nil {
		return fmt.Errorf("ring %s is being applied: %w", ring, err)
	}
	if err := m.store.Unlock(context.WithoutCancel(ctx), ring, holder); err != nil {
		return fmt.Errorf("releasing check lock of ring %s: %w", ring, err)
	}
	return nil
}

// EvaluateAndPlan returns the corrective plan for a ring.
func (m *Manager) EvaluateAndPlan(ctx context.Context, def *Definition) (Solutions, error) {
	report, err := m.Check(ctx, def)
	if err != nil {
		return nil, err
	}
	return report.Solutions, nil
}

// Apply performs sols against the ring's devices under the ring's run lock
// and returns them with PerformStatus set. Failed actions are reported in
// the result, not as an error.
func (m *Manager) Apply(ctx context.Context, def *Definition, sols Solutions) (Solutions, error) {
	status, err := m.Status(ctx, def)
	if err != nil {
		return nil, err
	}
	if status == StatusDeactivated {
		return nil, fmt.Errorf("ring %s: %w", def.Name, util.ErrRingDeactivated)
	}

	log := util.WithRing(def.Name).WithField("operation", "apply")
	if sols.HasError() {
		return nil, util.NewPreconditionError("apply", "ring "+def.Name, "plan has no error entry", sols.String())
	}
	if len(sols.Actions()) == 0 {
		log.Info("nothing to apply")
		return sols, nil
	}

	holder := uuid.NewString()
	if err := m.store.Lock(ctx, def.Name, holder, m.cfg.LockTTL); err != nil {
		return nil, fmt.Errorf("locking ring %s: %w", def.Name, err)
	}
	defer func() {
		if err := m.store.Unlock(context.WithoutCancel(ctx), def.Name, holder); err != nil {
			log.Warnf("releasing lock: %v", err)
		}
	}()

	if err := m.store.SetStatus(ctx, def.Name, StatusInProcess); err != nil {
		return nil, fmt.Errorf("marking ring %s in process: %w", def.Name, err)
	}
	defer func() {
		if err := m.store.SetStatus(context.WithoutCancel(ctx), def.Name, StatusNormal); err != nil {
			log.Warnf("returning to %s: %v", StatusNormal, err)
		}
	}()

	state := ""
	if last, err := m.store.LastResult(ctx, def.Name); err == nil && last != nil {
		state = last.State
	}

	start := time.Now()
	probes := NewProbes(m.open)
	defer probes.Close()

	performed, perr := NewPerformer(m.cfg.ApplyInterval, m.cfg.DeviceTimeout).Perform(ctx, probes, sols)

	if err := m.store.SaveResult(context.WithoutCancel(ctx), def.Name, Result{
		State:     state,
		Solutions: performed,
		Timestamp: time.Now(),
		Performed: true,
	}); err != nil {
		log.Warnf("saving performed result: %v", err)
	}

	m.record(def.Name, state, performed, perr, time.Since(start))

	if failed := performed.Failed(); failed > 0 {
		log.Warnf("%d of %d actions failed", failed, len(performed.Actions()))
	}
	return performed, perr
}

// ApplyLast applies the ring's last stored plan. A plan that was already
// performed, or that is older than Config.MaxPlanAge, is refused: the ring
// must be checked again first.
func (m *Manager) ApplyLast(ctx context.Context, def *Definition) (Solutions, error) {
	last, err := m.store.LastResult(ctx, def.Name)
	if err != nil {
		return nil, fmt.Errorf("reading last result of ring %s: %w", def.Name, err)
	}
	if last == nil {
		return nil, fmt.Errorf("no stored plan for ring %s: %w", def.Name, util.ErrNotFound)
	}
	if last.Performed {
		return nil, util.NewPreconditionError("apply", "ring "+def.Name, "last plan not yet performed",
			"performed at "+last.Timestamp.Format(time.RFC3339))
	}
	if age := time.Since(last.Timestamp); age > m.cfg.MaxPlanAge {
		return nil, util.NewPreconditionError("apply", "ring "+def.Name, "last plan is recent",
			fmt.Sprintf("computed %s ago, limit %s", age.Truncate(time.Second), m.cfg.MaxPlanAge))
	}
	sols := make(Solutions, len(last.Solutions))
	for i, s := range last.Solutions {
		s.PerformStatus, s.PerformError = "", ""
		sols[i] = s
	}
	return m.Apply(ctx, def, sols)
}

func (m *Manager) record(ring, state string, performed Solutions, perr error, d time.Duration) {
	changes := make([]audit.Change, 0, len(performed))
	for _, s := range performed.Actions() {
		changes = append(changes, audit.Change{
			Device: s.Device,
			Port:   s.Port,
			Action: s.String(),
			Status: string(s.PerformStatus),
			Error:  s.PerformError,
		})
	}

	event := audit.NewEvent(m.cfg.User, ring, "ring.apply").
		WithState(state).
		WithChanges(changes).
		WithExecuteMode(true).
		WithDuration(d)
	switch {
	case perr != nil:
		event.WithError(perr)
	case performed.Failed() > 0:
		event.WithError(fmt.Errorf("%d actions failed", performed.Failed()))
	default:
		event.WithSuccess()
	}

	var err error
	if m.cfg.Audit != nil {
		err = m.cfg.Audit.Log(event)
	} else {
		err = audit.Log(event)
	}
	if err != nil {
		util.WithRing(ring).Warnf("audit: %v", err)
	}
}

// Discover finds the rings hanging off an aggregation device.
func (m *Manager) Discover(ctx context.Context, aggregation string) ([]finder.Structure, error) {
	if m.cfg.Matcher == nil {
		return nil, errors.New("discovery patterns are not configured")
	}
	probes := NewProbes(m.open)
	defer probes.Close()

	return finder.New(probeSource{probes: probes, timeout: m.cfg.DeviceTimeout}, m.cfg.Matcher).Find(ctx, aggregation)
}

// probeSource feeds the finder from the run's probes.
type probeSource struct {
	probes  *Probes
	timeout time.Duration
}

func (s probeSource) Interfaces(ctx context.Context, name string) ([]device.Interface, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	probe, err := s.probes.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !probe.IsReachable(ctx) {
		return nil, fmt.Errorf("device %s: %w", name, util.ErrDeviceUnreachable)
	}
	return probe.CollectInterfaces(ctx, false)
}
