package xp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

//////
// Const, vars, types.
//////

const (
	// idTimeLayout is fixed width UTC, so ids sort lexicographically in
	// creation order.
	idTimeLayout = "20060102-150405.000000000"

	// DefaultIDAttempts bounds collision retries before ErrIDExhausted.
	DefaultIDAttempts = 16
)

// IdentifierChecker is the slice of Backend used by id generation.
type IdentifierChecker interface {
	IdentifierExists(ctx context.Context, id string) (bool, error)
}

// idGenerator produces ids made of a high-resolution timestamp and a random
// suffix. Timestamps are strictly increasing within the process.
type idGenerator struct {
	mu     sync.Mutex
	last   time.Time
	now    func() time.Time
	suffix func() string

	// inflight holds ids handed out but not yet persisted, so two callers
	// in this process never share one even before either is saved.
	inflight map[string]struct{}
}

var defaultIDs = newIDGenerator()

//////
// Methods.
//////

func (g *idGenerator) candidate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UTC()
	if !ts.After(g.last) {
		ts = g.last.Add(time.Nanosecond)
	}

	g.last = ts

	return ts.Format(idTimeLayout) + "-" + g.suffix()
}

func (g *idGenerator) claim(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, taken := g.inflight[id]; taken {
		return false
	}

	g.inflight[id] = struct{}{}

	return true
}

func (g *idGenerator) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inflight, id)
}

// reserve generates an id the checker confirms unused and marks it in
// flight. The returned func releases the reservation.
func (g *idGenerator) reserve(ctx context.Context, checker IdentifierChecker, attempts int) (string, func(), error) {
	if attempts <= 0 {
		attempts = DefaultIDAttempts
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		id := g.candidate()
		if !g.claim(id) {
			continue
		}

		exists, err := checker.IdentifierExists(ctx, id)
		if err != nil {
			g.release(id)

			return "", nil, fmt.Errorf("%w: checking id %s: %v", ErrLoadFailed, id, err)
		}

		if exists {
			g.release(id)

			continue
		}

		return id, func() { g.release(id) }, nil
	}

	return "", nil, fmt.Errorf("%w: after %d attempts", ErrIDExhausted, attempts)
}

//////
// Exported functionalities.
//////

// NewID generates an identifier unused by checker. Ids are a UTC timestamp
// with nanosecond resolution followed by a random suffix; on collision a new
// candidate is drawn, up to DefaultIDAttempts times.
func NewID(ctx context.Context, checker IdentifierChecker) (string, error) {
	id, release, err := defaultIDs.reserve(ctx, checker, DefaultIDAttempts)
	if err != nil {
		return "", err
	}

	release()

	return id, nil
}

// IDTime parses the creation timestamp back out of an id.
func IDTime(id string) (time.Time, error) {
	if len(id) < len(idTimeLayout) {
		return time.Time{}, fmt.Errorf("id %q too short", id)
	}

	return time.Parse(idTimeLayout, id[:len(idTimeLayout)])
}

//////
// Factory.
//////

func newIDGenerator() *idGenerator {
	return &idGenerator{
		now: time.Now,
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
		inflight: make(map[string]struct{}),
	}
}
