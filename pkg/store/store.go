// Package store keeps the runtime state of rings: status, last plan and the
// run lock that serializes apply across operators.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/newtron-network/newtring/pkg/ring"
	"github.com/newtron-network/newtring/pkg/util"
)

var (
	_ ring.Store = (*Memory)(nil)
	_ ring.Store = (*Redis)(nil)

	_ LockInspector = (*Memory)(nil)
	_ LockInspector = (*Redis)(nil)
)

// LockInspector reports who holds a ring's run lock. holder is "" when the
// ring is not locked.
type LockInspector interface {
	LockHolder(ctx context.Context, name string) (holder string, acquired time.Time, err error)
}

type memLock struct {
	holder   string
	acquired time.Time
	expires  time.Time
}

// Memory is a process-local store, used when no Redis address is configured.
type Memory struct {
	mu      sync.Mutex
	status  map[string]ring.Status
	results map[string]ring.Result
	locks   map[string]memLock
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		status:  make(map[string]ring.Status),
		results: make(map[string]ring.Result),
		locks:   make(map[string]memLock),
		now:     time.Now,
	}
}

func (m *Memory) Status(_ context.Context, name string) (ring.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[name]
	return st, ok, nil
}

func (m *Memory) SetStatus(_ context.Context, name string, status ring.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[name] = status
	return nil
}

func (m *Memory) LastResult(_ context.Context, name string) (*ring.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[name]
	if !ok {
		return nil, nil
	}
	res.Solutions = append(ring.Solutions(nil), res.Solutions...)
	return &res, nil
}

func (m *Memory) SaveResult(_ context.Context, name string, res ring.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res.Solutions = append(ring.Solutions(nil), res.Solutions...)
	m.results[name] = res
	return nil
}

func (m *Memory) Lock(_ context.Context, name, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, held := m.locks[name]; held && m.now().Before(l.expires) {
		return util.ErrRingLocked
	}
	now := m.now()
	m.locks[name] = memLock{holder: holder, acquired: now, expires: now.Add(ttl)}
	return nil
}

// LockHolder returns the live holder of a ring's lock, if any.
func (m *Memory) LockHolder(_ context.Context, name string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, held := m.locks[name]
	if !held || !m.now().Before(l.expires) {
		return "", time.Time{}, nil
	}
	return l.holder, l.acquired, nil
}

func (m *Memory) Unlock(_ context.Context, name, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, held := m.locks[name]
	if !held {
		return nil
	}
	if l.holder != holder {
		return errHolderMismatch(name)
	}
	delete(m.locks, name)
	return nil
}
