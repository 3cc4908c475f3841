package device

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/newtron-network/newtring/pkg/util"
)

func TestRegistry_UnknownDriver(t *testing.T) {
	r := NewRegistry()
	open := func(context.Context, Target) (Probe, error) { return nil, errors.New("not dialed") }
	r.Register("snmp", open)
	r.Register("sonic", open)

	_, err := r.Open(context.Background(), Target{Name: "sw1", Driver: "junos"})
	if !errors.Is(err, util.ErrUnknownDriver) {
		t.Fatalf("error = %v, want ErrUnknownDriver", err)
	}
	if !strings.Contains(err.Error(), "registered: snmp, sonic") {
		t.Errorf("error %q does not list the registered drivers", err)
	}

	if _, err := r.Open(context.Background(), Target{Name: "sw1", Driver: "snmp"}); err == nil || errors.Is(err, util.ErrUnknownDriver) {
		t.Errorf("registered driver error = %v", err)
	}
}
