package xp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

//////
// Const, vars, types.
//////

type runKey struct{}

type metadataKey struct{}

// run is the ambient state of one invocation. It lives only in the context
// handed to the computation and its callbacks.
type run struct {
	experiment string
	id         string
	dir        string

	dirOnce    sync.Once
	dirErr     error
	dirCreated bool

	mu     sync.Mutex
	blocks map[string]any
}

//////
// Methods.
//////

func (r *run) scratchDir() (string, error) {
	r.dirOnce.Do(func() {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			r.dirErr = fmt.Errorf("create scratch dir for %s: %w", r.id, err)

			return
		}

		r.dirCreated = true
	})

	return r.dir, r.dirErr
}

// cleanup removes the scratch dir if the computation left it empty.
func (r *run) cleanup() {
	if !r.dirCreated {
		return
	}

	entries, err := os.ReadDir(r.dir)
	if err == nil && len(entries) == 0 {
		os.Remove(r.dir)
	}
}

func (r *run) recordBlock(name string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.blocks == nil {
		r.blocks = make(map[string]any)
	}

	r.blocks[name] = timingBlock(start, end)
}

func (r *run) timingBlocks() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.blocks) == 0 {
		return nil
	}

	out := make(map[string]any, len(r.blocks))
	for k, v := range r.blocks {
		out[k] = v
	}

	return out
}

func timingBlock(start, end time.Time) map[string]any {
	return map[string]any{
		"start":    start.UTC().Format(time.RFC3339Nano),
		"end":      end.UTC().Format(time.RFC3339Nano),
		"duration": end.Sub(start).Seconds(),
	}
}

func runFrom(ctx context.Context) (*run, error) {
	r, ok := ctx.Value(runKey{}).(*run)
	if !ok || r == nil {
		return nil, ErrNoRun
	}

	return r, nil
}

func withRun(ctx context.Context, experiment, id, experimentDir string) (context.Context, *run) {
	r := &run{
		experiment: experiment,
		id:         id,
		dir:        filepath.Join(experimentDir, StorageDir, id),
	}

	return context.WithValue(ctx, runKey{}, r), r
}

//////
// Exported functionalities.
//////

// CurrentID returns the id of the invocation running under ctx.
func CurrentID(ctx context.Context) (string, error) {
	r, err := runFrom(ctx)
	if err != nil {
		return "", err
	}

	return r.id, nil
}

// CurrentExperiment returns the name of the experiment whose invocation runs
// under ctx. Callbacks shared between experiments use it to tell them apart.
func CurrentExperiment(ctx context.Context) (string, error) {
	r, err := runFrom(ctx)
	if err != nil {
		return "", err
	}

	return r.experiment, nil
}

// CurrentDir returns the scratch directory of the invocation running under
// ctx, creating it on first access. Files written there are listed later by
// Experiment.Artefacts with the same id.
func CurrentDir(ctx context.Context) (string, error) {
	r, err := runFrom(ctx)
	if err != nil {
		return "", err
	}

	return r.scratchDir()
}

// TimeBlock starts a named timer inside a running invocation. Calling the
// returned func stops it and records the block under metadata timing.blocks.
// Outside an invocation it is a no-op.
//
//	defer xp.TimeBlock(ctx, "load")()
func TimeBlock(ctx context.Context, name string) func() {
	r, err := runFrom(ctx)
	if err != nil {
		return func() {}
	}

	start := time.Now()

	return func() {
		r.recordBlock(name, start, time.Now())
	}
}

// WithMetadata returns a context whose invocations get kv merged into their
// metadata. Nested calls merge, inner keys win.
func WithMetadata(ctx context.Context, kv map[string]any) context.Context {
	merged := make(map[string]any)

	if prev, ok := ctx.Value(metadataKey{}).(map[string]any); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}

	for k, v := range kv {
		merged[k] = v
	}

	return context.WithValue(ctx, metadataKey{}, merged)
}

func metadataFrom(ctx context.Context) map[string]any {
	kv, _ := ctx.Value(metadataKey{}).(map[string]any)

	return kv
}
