package xp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thalesfsp/xp/internal/config"
	"github.com/thalesfsp/xp/internal/logger"
)

//////
// Const, vars, types.
//////

// Metadata keys written by the wrapper.
const (
	MetaTiming         = "timing"
	MetaCode           = "code"
	MetaCallbackErrors = "callback_errors"
)

// Experiment wraps a computation so every successful invocation is recorded
// as an Observation. It is safe for concurrent use; each invocation runs to
// completion before its recording continues.
type Experiment struct {
	name      string
	signature Signature
	fn        Func
	code      string
	dir       string
	backend   Backend
	callbacks []Callback
	cache     bool
	logger    *zap.Logger
	onRecord  func(id string, err error)

	idAttempts int

	prepareMu sync.Mutex
	prepared  bool
}

type options struct {
	root       string
	backend    string
	instance   Backend
	callbacks  []Callback
	cache      bool
	logger     *zap.Logger
	onRecord   func(id string, err error)
	idAttempts int
}

// Option configures an Experiment.
type Option func(*options)

// WithRoot sets the storage root. The experiment lives in <root>/<name>.
// Defaults to XP_ROOT, then "experiments".
func WithRoot(root string) Option {
	return func(o *options) { o.root = root }
}

// WithBackend selects a backend by registry name. Defaults to XP_BACKEND,
// then DefaultBackend.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithBackendInstance binds an already built backend, bypassing the
// registry.
func WithBackendInstance(b Backend) Option {
	return func(o *options) { o.instance = b }
}

// WithCallbacks attaches callbacks, in order, after any already attached.
func WithCallbacks(cbs ...Callback) Option {
	return func(o *options) { o.callbacks = append(o.callbacks, cbs...) }
}

// WithCache makes an invocation return the recorded result of an earlier
// Observation with the same config and code instead of running again.
func WithCache(enabled bool) Option {
	return func(o *options) { o.cache = enabled }
}

// WithLogger sets the logger recording failures are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecordErrorHandler registers fn to receive recording failures. The
// caller's result is delivered regardless.
func WithRecordErrorHandler(fn func(id string, err error)) Option {
	return func(o *options) { o.onRecord = fn }
}

// WithIDAttempts bounds id collision retries.
func WithIDAttempts(n int) Option {
	return func(o *options) { o.idAttempts = n }
}

//////
// Factory.
//////

// New wraps fn. name identifies the experiment and its directory under the
// storage root; when empty it is derived from fn. Attached callbacks get
// Setup called in order; a Setup failure aborts construction.
func New(name string, sig Signature, fn Func, opts ...Option) (*Experiment, error) {
	if fn == nil {
		return nil, errors.New("xp: nil computation")
	}

	if err := sig.Validate(); err != nil {
		return nil, err
	}

	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	o := options{
		root:    settings.Root,
		backend: settings.Backend,
		logger:  logger.L(),
	}

	if settings.Verbose {
		o.callbacks = append(o.callbacks, NewLogging(logger.New(logger.Config{
			Level:  settings.LogLevel,
			Format: settings.LogFormat,
		})))
	}

	for _, opt := range opts {
		opt(&o)
	}

	if name == "" {
		name = funcName(fn)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	e := &Experiment{
		name:       name,
		signature:  sig,
		fn:         fn,
		code:       sourceOf(fn),
		dir:        filepath.Join(o.root, name),
		callbacks:  o.callbacks,
		cache:      o.cache,
		logger:     o.logger.With(zap.String("experiment", name)),
		onRecord:   o.onRecord,
		idAttempts: o.idAttempts,
	}

	e.backend = o.instance
	if e.backend == nil {
		b, err := NewBackend(o.backend, e.dir)
		if err != nil {
			return nil, err
		}

		e.backend = b
	}

	info := FuncInfo{Name: name, Signature: sig, Code: e.code, Dir: e.dir}
	for _, cb := range e.callbacks {
		if err := safeCall(func() error { return cb.Setup(info) }); err != nil {
			return nil, &CallbackError{Callback: callbackName(cb), Phase: "setup", Err: err}
		}
	}

	return e, nil
}

//////
// Methods.
//////

// Name returns the experiment name.
func (e *Experiment) Name() string { return e.name }

// Signature returns the computation's declared parameters.
func (e *Experiment) Signature() Signature { return e.signature }

// Dir returns the experiment directory.
func (e *Experiment) Dir() string { return e.dir }

// Code returns the captured source of the computation.
func (e *Experiment) Code() string { return e.code }

// Backend returns the bound backend.
func (e *Experiment) Backend() Backend { return e.backend }

// Call invokes the experiment with positional arguments.
func (e *Experiment) Call(ctx context.Context, args ...any) (any, error) {
	return e.Invoke(ctx, args, nil)
}

// CallKw invokes the experiment with keyword arguments.
func (e *Experiment) CallKw(ctx context.Context, kwargs Kwargs) (any, error) {
	return e.Invoke(ctx, nil, kwargs)
}

// Invoke binds args and kwargs, runs the computation and records the
// outcome. It returns exactly what the computation returned. Errors not
// produced by the computation are binding errors, ErrStorageRoot and
// ErrIDExhausted, all raised before the computation runs. Recording failures
// after a successful run are logged and passed to the record error handler,
// never returned.
func (e *Experiment) Invoke(ctx context.Context, args []any, kwargs Kwargs) (any, error) {
	cfg, err := e.signature.Bind(args, kwargs)
	if err != nil {
		return nil, err
	}

	if err := e.prepare(); err != nil {
		return nil, err
	}

	if e.cache {
		if result, ok := e.cached(ctx, cfg); ok {
			return result, nil
		}
	}

	id, release, err := defaultIDs.reserve(ctx, e.backend, e.idAttempts)
	if err != nil {
		e.logger.Error("id generation failed", zap.Error(err))

		return nil, err
	}
	defer release()

	runCtx, r := withRun(ctx, e.name, id, e.dir)
	defer r.cleanup()

	var cbErrs []any

	for _, cb := range e.callbacks {
		if err := safeCall(func() error { return cb.Start(runCtx, id, cfg.Clone()) }); err != nil {
			cbErrs = append(cbErrs, e.callbackFailed(cb, "start", id, err))
		}
	}

	start := time.Now()
	result, err := e.fn(runCtx, cfg.Clone())
	end := time.Now()

	if err != nil {
		e.logger.Debug("computation failed, nothing recorded", zap.String("id", id), zap.Error(err))

		for _, cb := range e.callbacks {
			fo, ok := cb.(FailureObserver)
			if !ok {
				continue
			}

			ferr := safeCall(func() error {
				fo.Fail(runCtx, id, cfg.Clone(), err)

				return nil
			})
			if ferr != nil {
				e.callbackFailed(cb, "fail", id, ferr)
			}
		}

		return result, err
	}

	obs := &Observation{
		ID:       id,
		Config:   cfg,
		Result:   result,
		Metadata: e.seedMetadata(ctx, r, start, end),
	}

	for _, cb := range e.callbacks {
		if err := safeCall(func() error { return cb.End(runCtx, obs) }); err != nil {
			cbErrs = append(cbErrs, e.callbackFailed(cb, "end", id, err))
		}
	}

	if len(cbErrs) > 0 {
		obs.Metadata[MetaCallbackErrors] = cbErrs
	}

	if err := e.backend.Save(ctx, obs); err != nil {
		e.recordFailed(id, err)
	}

	return result, nil
}

func (e *Experiment) seedMetadata(ctx context.Context, r *run, start, end time.Time) map[string]any {
	metadata := make(map[string]any)

	for k, v := range metadataFrom(ctx) {
		metadata[k] = v
	}

	timing := timingBlock(start, end)
	if blocks := r.timingBlocks(); blocks != nil {
		timing["blocks"] = blocks
	}

	metadata[MetaTiming] = timing
	metadata[MetaCode] = e.code

	return metadata
}

func (e *Experiment) callbackFailed(cb Callback, phase, id string, err error) string {
	cbErr := &CallbackError{Callback: callbackName(cb), Phase: phase, Err: err}

	e.logger.Warn("callback failed",
		zap.String("id", id),
		zap.String("callback", cbErr.Callback),
		zap.String("phase", phase),
		zap.Error(err),
	)

	return cbErr.Error()
}

func (e *Experiment) recordFailed(id string, err error) {
	e.logger.Error("recording failed", zap.String("id", id), zap.Error(err))

	if e.onRecord != nil {
		e.onRecord(id, err)
	}
}

// prepare checks the storage root and writes the label. A failure is
// retried on the next invocation; after the first success it is a no-op.
func (e *Experiment) prepare() error {
	e.prepareMu.Lock()
	defer e.prepareMu.Unlock()

	if e.prepared {
		return nil
	}

	if err := ensureWritable(e.dir); err != nil {
		return err
	}

	label := Label{Name: e.name, Backend: e.backend.Name(), Code: e.code}
	if err := writeLabel(e.dir, label); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageRoot, err)
	}

	e.prepared = true

	return nil
}

func (e *Experiment) cached(ctx context.Context, cfg Config) (any, bool) {
	history, err := e.Observations(ctx, CurrentCodeOnly())
	if err != nil {
		e.logger.Warn("cache lookup failed", zap.Error(err))

		return nil, false
	}

	for _, obs := range history {
		if obs.Config.Equal(cfg) {
			e.logger.Debug("cache hit", zap.String("id", obs.ID))

			return obs.Result, true
		}
	}

	return nil, false
}

// QueryOption filters Observations.
type QueryOption func(*query)

type query struct {
	currentCode bool
}

// CurrentCodeOnly keeps Observations produced by the current source of the
// computation.
func CurrentCodeOnly() QueryOption {
	return func(q *query) { q.currentCode = true }
}

// Observations loads the recorded history of this experiment, including
// earlier processes, ordered by id.
func (e *Experiment) Observations(ctx context.Context, opts ...QueryOption) ([]*Observation, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	all, err := e.backend.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	if !q.currentCode {
		return all, nil
	}

	out := make([]*Observation, 0, len(all))

	for _, obs := range all {
		if code, _ := obs.Metadata[MetaCode].(string); code == e.code {
			out = append(out, obs)
		}
	}

	return out, nil
}

// Artefacts lists the files the computation wrote to its scratch directory
// during the invocation with the given id.
func (e *Experiment) Artefacts(id string) ([]string, error) {
	return artefacts(e.dir, id)
}

//////
// Helpers.
//////

// safeCall turns a panicking callback into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}
