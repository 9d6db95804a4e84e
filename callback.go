package xp

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

//////
// Const, vars, types.
//////

// FuncInfo describes the computation an Experiment wraps. Callbacks receive
// it once, at construction.
type FuncInfo struct {
	Name      string
	Signature Signature
	Code      string
	Dir       string
}

// Callback observes the lifecycle of an Experiment. Callbacks run in the
// order they were attached, at every phase, so a later callback sees the
// metadata written by an earlier one. Errors are recorded and logged, never
// propagated to the caller.
type Callback interface {
	// Setup is called once when the Experiment is constructed.
	Setup(info FuncInfo) error

	// Start is called before each invocation, after the id is assigned.
	Start(ctx context.Context, id string, cfg Config) error

	// End is called after each successful invocation, before the
	// Observation is saved. It may write obs.Metadata.
	End(ctx context.Context, obs *Observation) error
}

// FailureObserver is implemented by callbacks that want to hear about
// computations that returned an error. Nothing is persisted for those.
type FailureObserver interface {
	Fail(ctx context.Context, id string, cfg Config, err error)
}

// BaseCallback implements every Callback method as a no-op. Embed it and
// override what you need.
type BaseCallback struct{}

func (BaseCallback) Setup(FuncInfo) error { return nil }

func (BaseCallback) Start(context.Context, string, Config) error { return nil }

func (BaseCallback) End(context.Context, *Observation) error { return nil }

// Namer lets a callback pick the name it is reported under.
type Namer interface {
	Name() string
}

func callbackName(cb Callback) string {
	if n, ok := cb.(Namer); ok {
		return n.Name()
	}

	return fmt.Sprintf("%T", cb)
}

//////
// Logging.
//////

// Logging writes a line when each invocation starts, ends or fails. One
// instance may be shared by several experiments; lines carry the name of the
// experiment being invoked.
type Logging struct {
	BaseCallback

	Logger *zap.Logger
}

// NewLogging returns a Logging callback writing to logger.
func NewLogging(logger *zap.Logger) *Logging {
	return &Logging{Logger: logger}
}

func (l *Logging) Name() string { return "logging" }

func (l *Logging) Setup(FuncInfo) error {
	if l.Logger == nil {
		l.Logger = zap.NewNop()
	}

	return nil
}

func (l *Logging) Start(ctx context.Context, id string, cfg Config) error {
	name, _ := CurrentExperiment(ctx)

	l.Logger.Info("starting experiment",
		zap.String("experiment", name),
		zap.String("id", id),
		zap.Any("config", cfg.Map()),
	)

	return nil
}

func (l *Logging) End(ctx context.Context, obs *Observation) error {
	name, _ := CurrentExperiment(ctx)

	l.Logger.Info("finished experiment",
		zap.String("experiment", name),
		zap.String("id", obs.ID),
		zap.String("result", abbreviate(fmt.Sprint(obs.Result), 100)),
	)

	return nil
}

func (l *Logging) Fail(ctx context.Context, id string, _ Config, err error) {
	name, _ := CurrentExperiment(ctx)

	l.Logger.Warn("experiment failed",
		zap.String("experiment", name),
		zap.String("id", id),
		zap.Error(err),
	)
}

// abbreviate keeps the head and tail of long values.
func abbreviate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	half := max / 2

	return s[:half] + "..." + s[len(s)-half:]
}

//////
// Metadata providers.
//////

// MetadataProvider supplies environment facts merged into every
// Observation. It is invoked once per invocation.
type MetadataProvider interface {
	Collect(ctx context.Context) (map[string]any, error)
}

// ProviderFunc adapts a function to MetadataProvider.
type ProviderFunc func(ctx context.Context) (map[string]any, error)

func (f ProviderFunc) Collect(ctx context.Context) (map[string]any, error) {
	return f(ctx)
}

type providerCallback struct {
	BaseCallback

	key      string
	provider MetadataProvider
}

// WithProvider turns a MetadataProvider into a callback storing its output
// under metadata[key].
func WithProvider(key string, p MetadataProvider) Callback {
	return &providerCallback{key: key, provider: p}
}

func (p *providerCallback) Name() string { return "provider:" + p.key }

func (p *providerCallback) End(ctx context.Context, obs *Observation) error {
	facts, err := p.provider.Collect(ctx)
	if err != nil {
		return err
	}

	obs.Metadata[p.key] = facts

	return nil
}

// SystemInfo reports host and runtime facts.
var SystemInfo MetadataProvider = ProviderFunc(func(context.Context) (map[string]any, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return map[string]any{
		"hostname":   host,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
		"pid":        os.Getpid(),
	}, nil
})
