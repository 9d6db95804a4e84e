package xp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// memBackend is an in-memory Backend shared by tests.
type memBackend struct {
	mu   sync.Mutex
	obs  map[string]*Observation
	fail error

	// existsCalls counts IdentifierExists calls; the first collide calls
	// report a collision.
	existsCalls atomic.Int64
	collide     int64
}

func newMemBackend() *memBackend {
	return &memBackend{obs: make(map[string]*Observation)}
}

func (m *memBackend) Name() string { return "mem" }

func (m *memBackend) CoreFiles() []string { return nil }

func (m *memBackend) Save(_ context.Context, obs *Observation) error {
	if m.fail != nil {
		return m.fail
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.obs[obs.ID]; ok {
		return errors.New("duplicate id " + obs.ID)
	}

	m.obs[obs.ID] = obs

	return nil
}

func (m *memBackend) LoadAll(context.Context) ([]*Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Observation, 0, len(m.obs))
	for _, o := range m.obs {
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (m *memBackend) IdentifierExists(_ context.Context, id string) (bool, error) {
	if n := m.existsCalls.Add(1); n <= m.collide || m.collide < 0 {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.obs[id]

	return ok, nil
}

func (m *memBackend) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.obs)
}
