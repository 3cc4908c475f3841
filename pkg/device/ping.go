package device

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger sends ICMP echo requests to a device's management address.
type Pinger struct {
	Count      int
	Interval   time.Duration
	Timeout    time.Duration
	Privileged bool
}

// NewPinger returns a pinger sending count echoes within timeout.
func NewPinger(count int, timeout time.Duration) *Pinger {
	if count <= 0 {
		count = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Pinger{
		Count:    count,
		Interval: 200 * time.Millisecond,
		Timeout:  timeout,
	}
}

// Ping returns true when at least one echo reply was received.
func (p *Pinger) Ping(ctx context.Context, host string) (bool, error) {
	pr := probing.New(host)
	pr.SetNetwork("ip")

	if err := pr.Resolve(); err != nil {
		return false, fmt.Errorf("DNS lookup '%s': %v", host, err)
	}

	pr.RecordRtts = false
	pr.Interval = p.Interval
	pr.Count = p.Count
	pr.Timeout = p.Timeout
	pr.SetPrivileged(p.Privileged)
	pr.SetLogger(nil)

	if err := pr.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("pinging host '%s' (ip %s): %v", pr.Addr(), pr.IPAddr(), err)
	}

	return pr.Statistics().PacketsRecv > 0, nil
}
