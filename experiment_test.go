package xp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDivisionByZero = errors.New("division by zero")

func add(_ context.Context, cfg Config) (any, error) {
	a, _ := cfg.Get("a")
	b, _ := cfg.Get("b")

	return a.(int) + b.(int), nil
}

func reciprocal(_ context.Context, cfg Config) (any, error) {
	x, _ := cfg.Get("x")
	if x.(float64) == 0 {
		return nil, errDivisionByZero
	}

	return 1 / x.(float64), nil
}

func newAdd(t *testing.T, root string, opts ...Option) *Experiment {
	t.Helper()

	e, err := New("add", abSig, add, append([]Option{WithRoot(root)}, opts...)...)
	require.NoError(t, err)

	return e
}

func TestInvokeReturnsComputationResult(t *testing.T) {
	ctx := context.Background()
	e := newAdd(t, t.TempDir())

	for _, tt := range []struct {
		args   []any
		kwargs Kwargs
	}{
		{[]any{1, 2}, nil},
		{nil, Kwargs{"a": 1, "b": 2}},
		{[]any{1}, nil},
		{[]any{1}, Kwargs{"b": 2}},
	} {
		got, err := e.Invoke(ctx, tt.args, tt.kwargs)
		require.NoError(t, err)

		cfg, err := abSig.Bind(tt.args, tt.kwargs)
		require.NoError(t, err)

		direct, err := add(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, direct, got)
	}

	history, err := e.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, history, 4)

	for _, obs := range history {
		assert.Equal(t, []string{"a", "b"}, obs.Config.Keys())
		assert.True(t, ConfigOf("a", 1, "b", 2).Equal(obs.Config))
		assert.EqualValues(t, 3, obs.Result)
		assert.Contains(t, obs.Metadata, MetaTiming)
		assert.Contains(t, obs.Metadata, MetaCode)
	}

	assert.Less(t, history[0].ID, history[1].ID)
}

func TestFailedComputationIsNotRecorded(t *testing.T) {
	ctx := context.Background()

	var failures atomic.Int32

	observer := &failureCounter{n: &failures}

	e, err := New("reciprocal", Signature{Required("x")}, reciprocal,
		WithRoot(t.TempDir()), WithCallbacks(observer))
	require.NoError(t, err)

	_, err = e.Call(ctx, 4.0)
	require.NoError(t, err)

	before, err := e.Observations(ctx)
	require.NoError(t, err)

	_, err = e.Call(ctx, 0.0)
	assert.Same(t, errDivisionByZero, err)

	after, err := e.Observations(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, int32(1), observer.ends.Load())
}

type failureCounter struct {
	BaseCallback

	n    *atomic.Int32
	ends atomic.Int32
}

func (f *failureCounter) End(context.Context, *Observation) error {
	f.ends.Add(1)

	return nil
}

func (f *failureCounter) Fail(context.Context, string, Config, error) {
	f.n.Add(1)
}

type panickingObserver struct {
	BaseCallback
}

func (panickingObserver) Name() string { return "panicky" }

func (panickingObserver) Fail(context.Context, string, Config, error) {
	panic("boom")
}

func TestPanickingFailureObserverKeepsComputationError(t *testing.T) {
	var failures atomic.Int32

	logs := &failureCounter{n: &failures}

	e, err := New("reciprocal", Signature{Required("x")}, reciprocal,
		WithRoot(t.TempDir()), WithCallbacks(panickingObserver{}, logs))
	require.NoError(t, err)

	var result any

	require.NotPanics(t, func() {
		result, err = e.Call(context.Background(), 0.0)
	})
	assert.Same(t, errDivisionByZero, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(1), failures.Load())
}

func TestBindingErrorRunsNothing(t *testing.T) {
	var calls atomic.Int32

	e, err := New("count", abSig, func(context.Context, Config) (any, error) {
		calls.Add(1)

		return nil, nil
	}, WithRoot(t.TempDir()))
	require.NoError(t, err)

	_, err = e.CallKw(context.Background(), Kwargs{"b": 1})
	assert.ErrorIs(t, err, ErrBinding)
	assert.Zero(t, calls.Load())

	history, err := e.Observations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

type orderCallback struct {
	BaseCallback

	key   string
	after string
	saw   *bool
}

func (o *orderCallback) End(_ context.Context, obs *Observation) error {
	if o.after != "" {
		_, *o.saw = obs.Metadata[o.after]
	}

	obs.Metadata[o.key] = true

	return nil
}

func TestCallbacksRunInAttachmentOrder(t *testing.T) {
	var sawA bool

	a := &orderCallback{key: "a"}
	b := &orderCallback{key: "b", after: "a", saw: &sawA}

	e := newAdd(t, t.TempDir(), WithCallbacks(a, b))

	_, err := e.Call(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, sawA)

	history, err := e.Observations(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, true, history[0].Metadata["a"])
	assert.Equal(t, true, history[0].Metadata["b"])
}

type brokenCallback struct {
	BaseCallback
}

func (brokenCallback) Name() string { return "broken" }

func (brokenCallback) Start(context.Context, string, Config) error {
	return errors.New("start exploded")
}

func (brokenCallback) End(context.Context, *Observation) error {
	panic("end exploded")
}

func TestCallbackFailuresAreRecordedNotPropagated(t *testing.T) {
	e := newAdd(t, t.TempDir(), WithCallbacks(brokenCallback{}))

	got, err := e.Call(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	history, err := e.Observations(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)

	errs, ok := history[0].Metadata[MetaCallbackErrors].([]any)
	require.True(t, ok)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "start exploded")
	assert.Contains(t, errs[1], "end exploded")
}

func TestSaveFailureDoesNotMaskResult(t *testing.T) {
	mem := newMemBackend()
	mem.fail = errors.New("disk full")

	var recorded error

	e := newAdd(t, t.TempDir(),
		WithBackendInstance(mem),
		WithRecordErrorHandler(func(_ string, err error) { recorded = err }),
	)

	got, err := e.Call(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
	assert.EqualError(t, recorded, "disk full")
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	for _, backend := range []string{"json", "yaml"} {
		t.Run(backend, func(t *testing.T) {
			first := newAdd(t, filepath.Join(root, backend), WithBackend(backend))

			for i := 0; i < 3; i++ {
				_, err := first.Call(ctx, i, i)
				require.NoError(t, err)
			}

			before, err := first.Observations(ctx)
			require.NoError(t, err)

			reopened := newAdd(t, filepath.Join(root, backend), WithBackend(backend))

			after, err := reopened.Observations(ctx)
			require.NoError(t, err)
			require.Len(t, after, len(before))

			for i := range before {
				assert.Equal(t, before[i].ID, after[i].ID)
				assert.True(t, before[i].Config.Equal(after[i].Config))
			}

			b, label, err := Open(reopened.Dir())
			require.NoError(t, err)
			assert.Equal(t, backend, b.Name())
			assert.Equal(t, "add", label.Name)
			assert.Equal(t, reopened.Code(), label.Code)
		})
	}
}

func TestScratchDirAndArtefacts(t *testing.T) {
	ctx := context.Background()

	var seenID string

	e, err := New("writer", Signature{Optional("keep", true)}, func(ctx context.Context, cfg Config) (any, error) {
		id, err := CurrentID(ctx)
		if err != nil {
			return nil, err
		}

		seenID = id

		dir, err := CurrentDir(ctx)
		if err != nil {
			return nil, err
		}

		if keep, _ := cfg.Get("keep"); keep == true {
			if err := os.WriteFile(filepath.Join(dir, "out.txt"), []byte("hello"), 0o644); err != nil {
				return nil, err
			}
		}

		return id, nil
	}, WithRoot(t.TempDir()))
	require.NoError(t, err)

	got, err := e.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, seenID, got)

	firstID := seenID

	files, err := e.Artefacts(firstID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "out.txt", filepath.Base(files[0]))

	_, err = e.Call(ctx, false)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, seenID)

	_, statErr := os.Stat(filepath.Join(e.Dir(), StorageDir, firstID))
	assert.NoError(t, statErr)

	_, statErr = os.Stat(filepath.Join(e.Dir(), StorageDir, seenID))
	assert.True(t, os.IsNotExist(statErr))

	emptyFiles, err := e.Artefacts("unknown")
	require.NoError(t, err)
	assert.Empty(t, emptyFiles)

	_, err = CurrentID(ctx)
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestEmptyScratchDirIsRemoved(t *testing.T) {
	e, err := New("touch", nil, func(ctx context.Context, _ Config) (any, error) {
		return CurrentDir(ctx)
	}, WithRoot(t.TempDir()))
	require.NoError(t, err)

	dir, err := e.Call(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(dir.(string))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTimeBlocksAndContextMetadata(t *testing.T) {
	e, err := New("timed", nil, func(ctx context.Context, _ Config) (any, error) {
		stop := TimeBlock(ctx, "load")
		stop()

		return "ok", nil
	}, WithRoot(t.TempDir()))
	require.NoError(t, err)

	ctx := WithMetadata(context.Background(), map[string]any{"search_mode": "random"})

	_, err = e.Call(ctx)
	require.NoError(t, err)

	history, err := e.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)

	meta := history[0].Metadata
	assert.Equal(t, "random", meta["search_mode"])

	timing, ok := meta[MetaTiming].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, timing, "start")
	assert.Contains(t, timing, "end")
	assert.Contains(t, timing, "duration")

	blocks, ok := timing["blocks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, blocks, "load")
}

func TestCacheReturnsRecordedResult(t *testing.T) {
	for _, backend := range []string{"json", "yaml"} {
		t.Run(backend, func(t *testing.T) {
			var calls atomic.Int32

			e, err := New("cached", Signature{Required("x")}, func(_ context.Context, cfg Config) (any, error) {
				calls.Add(1)

				x, _ := cfg.Get("x")

				return x.(int) * 2, nil
			}, WithRoot(t.TempDir()), WithBackend(backend), WithCache(true))
			require.NoError(t, err)

			ctx := context.Background()

			first, err := e.Call(ctx, 21)
			require.NoError(t, err)
			assert.Equal(t, 42, first)

			second, err := e.Call(ctx, 21)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			assert.Equal(t, int32(1), calls.Load())

			history, err := e.Observations(ctx, CurrentCodeOnly())
			require.NoError(t, err)
			assert.Len(t, history, 1)
		})
	}
}

func TestUnwritableRootFailsAtFirstUse(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	e := newAdd(t, file)

	_, err := e.Call(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrStorageRoot)
}

func TestStorageRootIsRetriedUntilUsable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mount")
	require.NoError(t, os.WriteFile(root, nil, 0o644))

	e := newAdd(t, root)
	ctx := context.Background()

	_, err := e.Call(ctx, 1, 2)
	require.ErrorIs(t, err, ErrStorageRoot)

	require.NoError(t, os.Remove(root))

	result, err := e.Call(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result)

	history, err := e.Observations(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIDExhaustionIsFatal(t *testing.T) {
	mem := newMemBackend()
	mem.collide = -1

	var calls atomic.Int32

	e, err := New("never", nil, func(context.Context, Config) (any, error) {
		calls.Add(1)

		return nil, nil
	}, WithRoot(t.TempDir()), WithBackendInstance(mem), WithIDAttempts(3))
	require.NoError(t, err)

	_, err = e.Call(context.Background())
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.Zero(t, calls.Load())
}

type setupRecorder struct {
	BaseCallback

	info FuncInfo
}

func (s *setupRecorder) Setup(info FuncInfo) error {
	s.info = info

	return nil
}

func TestSetupReceivesComputationDescriptor(t *testing.T) {
	rec := &setupRecorder{}
	e := newAdd(t, t.TempDir(), WithCallbacks(rec))

	assert.Equal(t, "add", rec.info.Name)
	assert.Equal(t, abSig, rec.info.Signature)
	assert.Contains(t, rec.info.Code, "func add(")
	assert.Equal(t, e.Dir(), rec.info.Dir)
}
