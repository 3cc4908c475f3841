package ring

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/newtron-network/newtring/pkg/util"
)

// Performer dispatches the action entries of a plan, in order, one device
// call per entry. A failed entry is recorded and the remaining entries still
// run; the next evaluation corrects partial application.
type Performer struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewPerformer paces dispatches at most one per interval (no pacing when
// interval is zero) and bounds each dispatch by timeout.
func NewPerformer(interval, timeout time.Duration) *Performer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Performer{
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

// Perform returns a copy of sols with PerformStatus set on every action.
// The error is non-nil only when ctx ends before all actions were tried;
// untried actions are then marked failed with the context error.
func (p *Performer) Perform(ctx context.Context, probes *Probes, sols Solutions) (Solutions, error) {
	out := make(Solutions, len(sols))
	copy(out, sols)

	for i := range out {
		s := &out[i]
		if !s.IsAction() {
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			markRemaining(out[i:], err)
			return out, fmt.Errorf("performing %s: %w", s, err)
		}

		log := util.WithDevice(s.Device).WithField("action", s.String())
		if err := p.dispatch(ctx, probes, *s); err != nil {
			s.PerformStatus = PerformFailed
			s.PerformError = err.Error()
			log.Errorf("failed: %v", err)
			continue
		}
		s.PerformStatus = PerformDone
		log.Info("done")
	}
	return out, nil
}

func (p *Performer) dispatch(ctx context.Context, probes *Probes, s Solution) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	probe, err := probes.Get(ctx, s.Device)
	if err != nil {
		return err
	}

	switch s.Kind {
	case KindPortStatus:
		return probe.SetPort(ctx, s.Port, s.Status)
	case KindVLANChange:
		return probe.SetVLANs(ctx, s.Port, s.VLANOp, s.VLANs, s.Tagged)
	}
	return fmt.Errorf("%w: solution kind %q", util.ErrUnsupported, s.Kind)
}

func markRemaining(sols Solutions, err error) {
	for i := range sols {
		if sols[i].IsAction() && sols[i].PerformStatus == "" {
			sols[i].PerformStatus = PerformFailed
			sols[i].PerformError = err.Error()
		}
	}
}
