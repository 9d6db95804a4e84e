package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thalesfsp/xp"
	"github.com/thalesfsp/xp/internal/logger"
)

//////
// Const, vars, types.
//////

// MetaSearchMode is the metadata key tagging how a configuration was chosen.
const MetaSearchMode = "search_mode"

// Search modes recorded under MetaSearchMode.
const (
	SearchRandom   = "random"
	SearchBayesian = "bayesian"
)

// Controller drives an experiment towards the configuration with the best
// objective value. Proposals are evaluated strictly one at a time; the
// history is reloaded from the backend after every round so the model sees
// the previous result before proposing the next point.
//
// A Controller runs one Run at a time. State may be read concurrently.
type Controller struct {
	runner Runner
	space  Space
	config OptimizationConfig
	logger *zap.Logger
	rng    *rand.Rand
	now    func() time.Time

	// gp is reused across rounds; modelIDs are the observations it holds.
	gp       *gaussianProcess
	modelIDs []string

	mu    sync.RWMutex
	state State
}

// point is one usable observation.
type point struct {
	obs   *xp.Observation
	x     []float64
	value float64
	loss  float64
}

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration. Callers still choose the
// Objective and, usually, a smaller Iterations.
func DefaultConfig() OptimizationConfig {
	return OptimizationConfig{
		Iterations:      50,
		InitialSamples:  10,
		NumCandidates:   50,
		AcquisitionFunc: UCB,
		AcqParams: AcquisitionParams{
			BestSoFar: math.MaxFloat64,
			Beta:      2.0,
			Xi:        0.01,
		},
		Sigma:        DefaultSigma,
		Noise:        DefaultNoise,
		ProgressChan: nil, // Default to no progress updates.
	}
}

// New validates space and config against runner and its recorded history.
// This is the INIT state: any error here is returned before a single
// invocation runs.
//
// Returns:
// - ErrInvalidSpace when a parameter is undeclared, a domain is empty, a
// required parameter is neither searched nor fixed, or Fixed overlaps the
// space
// - ErrObjective when the objective is malformed or a recorded result
// cannot be projected
// - ErrInvalidConfig when the run has no termination criterion or cannot
// propose candidates
//
// Usage example:
//
//	exp, _ := xp.New("train", sig, train)
//
//	space := optimize.Space{
//	    "lr":     optimize.ParameterRange[float64]{Min: 1e-4, Max: 1e-1},
//	    "layers": optimize.ParameterRange[int]{Min: 1, Max: 8},
//	}
//
//	config := optimize.DefaultConfig()
//	config.Iterations = 30
//	config.Objective = optimize.Objective{Direction: optimize.Maximize, Field: "accuracy"}
//
//	ctrl, err := optimize.New(ctx, exp, space, config)
//	if err != nil {
//	    return err
//	}
//
//	report, err := ctrl.Run(ctx)
func New(ctx context.Context, runner Runner, space Space, config OptimizationConfig) (*Controller, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: nil runner", ErrInvalidConfig)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	sig := runner.Signature()

	if err := space.Validate(sig); err != nil {
		return nil, err
	}

	for name := range config.Fixed {
		if _, ok := sig.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: fixed %q is not a parameter of the computation", ErrInvalidSpace, name)
		}

		if _, ok := space[name]; ok {
			return nil, fmt.Errorf("%w: %q is both fixed and searched", ErrInvalidSpace, name)
		}
	}

	for _, p := range sig {
		_, searched := space[p.Name]
		_, fixed := config.Fixed[p.Name]

		if !p.HasDefault && !searched && !fixed {
			return nil, fmt.Errorf("%w: required parameter %q is neither searched nor fixed", ErrInvalidSpace, p.Name)
		}
	}

	if err := config.Objective.Validate(); err != nil {
		return nil, err
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	l := config.Logger
	if l == nil {
		l = logger.L()
	}

	c := &Controller{
		runner: runner,
		space:  space,
		config: config,
		logger: l.With(zap.String("experiment", runner.Name())),
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
		gp:     newGaussianProcess(config.Sigma, config.Noise),
		state:  StateInit,
	}

	if c.config.AcqParams.RandomState == nil {
		c.config.AcqParams.RandomState = c.rng
	}

	if _, err := c.history(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// State returns the phase the controller is in.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Predict returns the surrogate's posterior for params, in objective units:
// the expected value and its variance. Params must cover the space. It may be
// called while Run is in progress.
//
// Returns:
// - ErrNotFitted before the first model round
// - ErrInvalidSpace when params fall outside the space
func (c *Controller) Predict(params xp.Kwargs) (value, variance float64, err error) {
	x, ok := c.space.Encode(func(name string) (any, bool) {
		v, found := params[name]

		return v, found
	})
	if !ok {
		return 0, 0, fmt.Errorf("%w: params outside the space", ErrInvalidSpace)
	}

	if c.gp.Len() == 0 {
		return 0, 0, ErrNotFitted
	}

	mean, variance := c.gp.Predict(x)

	if c.config.Objective.Direction == Maximize {
		mean = -mean
	}

	return mean, variance, nil
}

// Run explores until the history holds InitialSamples usable observations,
// then proposes configurations from the surrogate model, until the round
// budget, the time limit, the patience window or ctx ends the run. A round
// in flight is never interrupted.
//
// Computation failures are counted and skipped. ErrIDExhausted,
// ErrStorageRoot, backend load failures and unprojectable results end the
// run with an error; the report is returned either way.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	started := c.now()

	history, err := c.history(ctx)
	if err != nil {
		return c.abort(ctx, report, nil, err)
	}

	best := bestPoint(history)
	stale := 0

	for {
		if reason, stop := c.shouldStop(ctx, report.Rounds, started, stale); stop {
			if reason == ReasonCancelled {
				return c.finish(report, reason, history), ctx.Err()
			}

			return c.finish(report, reason, history), nil
		}

		state := StateExplore
		if len(history) >= max(c.config.InitialSamples, 1) {
			state = StateModel
		}

		c.setState(state)

		params := c.propose(state, history, best)
		report.Rounds++

		runCtx := xp.WithMetadata(ctx, map[string]any{MetaSearchMode: searchMode(state)})

		result, err := c.runner.CallKw(runCtx, c.withFixed(params))
		if err != nil {
			if fatal(err) {
				c.logger.Error("round aborted", zap.Int("round", report.Rounds), zap.Error(err))

				return c.finish(report, ReasonError, history), err
			}

			report.Failures++

			c.logger.Warn("computation failed, round skipped",
				zap.Int("round", report.Rounds),
				zap.Any("params", params),
				zap.Error(err),
			)

			c.progress(ProgressUpdate{State: state, Round: report.Rounds, Params: params, Failed: true}, best)

			continue
		}

		value, err := c.config.Objective.Value(result)
		if err != nil {
			return c.finish(report, ReasonError, history), err
		}

		report.Evaluations++

		loss := c.config.Objective.loss(value)
		if best == nil || loss < best.loss-c.config.Tolerance {
			stale = 0
		} else {
			stale++
		}

		next, err := c.history(ctx)
		if err != nil {
			return c.abort(ctx, report, history, err)
		}

		history = next

		best = bestPoint(history)

		c.logger.Info("round finished",
			zap.Int("round", report.Rounds),
			zap.Stringer("state", state),
			zap.Any("params", params),
			zap.Float64("value", value),
		)

		c.progress(ProgressUpdate{State: state, Round: report.Rounds, Params: params, Value: value}, best)
	}
}

//////
// Helpers.
//////

func validateConfig(config OptimizationConfig) error {
	switch {
	case config.Iterations < 0, config.InitialSamples < 0, config.Patience < 0, config.TimeLimit < 0:
		return fmt.Errorf("%w: negative budget", ErrInvalidConfig)
	case config.Iterations == 0 && config.TimeLimit == 0 && config.Patience == 0:
		return fmt.Errorf("%w: no termination criterion", ErrInvalidConfig)
	case config.NumCandidates <= 0:
		return fmt.Errorf("%w: NumCandidates must be positive", ErrInvalidConfig)
	case config.AcquisitionFunc == nil:
		return fmt.Errorf("%w: nil AcquisitionFunc", ErrInvalidConfig)
	}

	for _, sigma := range config.SigmaGrid {
		if !(sigma > 0) || math.IsInf(sigma, 0) {
			return fmt.Errorf("%w: SigmaGrid holds %v", ErrInvalidConfig, sigma)
		}
	}

	return nil
}

// history loads the observations the model can learn from: those matching
// the fixed parameters whose configuration lies in the space.
func (c *Controller) history(ctx context.Context) ([]point, error) {
	all, err := c.runner.Observations(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]point, 0, len(all))

	for _, obs := range all {
		if !c.matchesFixed(obs.Config) {
			continue
		}

		x, ok := c.space.Encode(obs.Config.Get)
		if !ok {
			continue
		}

		value, err := c.config.Objective.Value(obs.Result)
		if err != nil {
			return nil, fmt.Errorf("observation %s: %w", obs.ID, err)
		}

		points = append(points, point{obs: obs, x: x, value: value, loss: c.config.Objective.loss(value)})
	}

	return points, nil
}

func (c *Controller) matchesFixed(cfg xp.Config) bool {
	for name, want := range c.config.Fixed {
		got, ok := cfg.Get(name)
		if !ok || !xp.ValuesEqual(got, want) {
			return false
		}
	}

	return true
}

func (c *Controller) withFixed(params xp.Kwargs) xp.Kwargs {
	kw := make(xp.Kwargs, len(params)+len(c.config.Fixed))

	for k, v := range c.config.Fixed {
		kw[k] = v
	}

	for k, v := range params {
		kw[k] = v
	}

	return kw
}

// propose samples uniformly while exploring. While modelling it fits the
// surrogate to the history and returns the candidate with the lowest
// acquisition value.
func (c *Controller) propose(state State, history []point, best *point) xp.Kwargs {
	if state == StateExplore || best == nil {
		return c.space.Sample(c.rng)
	}

	gp := c.surrogate(history)

	params := c.config.AcqParams
	params.BestSoFar = best.loss

	var (
		next    xp.Kwargs
		nextAcq = math.Inf(1)
	)

	for j := 0; j < c.config.NumCandidates; j++ {
		candidate := c.space.Sample(c.rng)

		x, ok := c.space.Encode(func(name string) (any, bool) {
			v, found := candidate[name]

			return v, found
		})
		if !ok {
			continue
		}

		mean, variance := gp.Predict(x)

		if acq := c.config.AcquisitionFunc(mean, variance, params); next == nil || acq < nextAcq {
			next, nextAcq = candidate, acq
		}
	}

	if next == nil {
		return c.space.Sample(c.rng)
	}

	return next
}

// surrogate brings the model up to date with history. A single new
// observation appended to the points already held is added with Update;
// anything else refits from scratch.
func (c *Controller) surrogate(history []point) *gaussianProcess {
	held := len(c.modelIDs)

	switch {
	case len(history) == held && holds(history, c.modelIDs):
		// Nothing new since the last model round.
	case len(history) == held+1 && holds(history, c.modelIDs):
		p := history[held]
		c.gp.Update(p.x, p.loss)
	default:
		xs := make([][]float64, len(history))
		ys := make([]float64, len(history))

		for i, p := range history {
			xs[i] = p.x
			ys[i] = p.loss
		}

		c.gp.Fit(xs, ys)
	}

	c.modelIDs = c.modelIDs[:0]
	for _, p := range history {
		c.modelIDs = append(c.modelIDs, p.obs.ID)
	}

	if len(c.config.SigmaGrid) > 0 {
		c.tuneSigma()
	}

	return c.gp
}

// tuneSigma keeps the length scale from SigmaGrid, or the current one, that
// maximizes the marginal likelihood.
func (c *Controller) tuneSigma() {
	best := c.gp.GetSigma()
	bestLML := c.gp.LogMarginalLikelihood()
	current := best

	for _, sigma := range c.config.SigmaGrid {
		if sigma == current {
			continue
		}

		c.gp.SetSigma(sigma)
		current = sigma

		if lml := c.gp.LogMarginalLikelihood(); lml > bestLML {
			best, bestLML = sigma, lml
		}
	}

	if current != best {
		c.gp.SetSigma(best)
	}

	c.logger.Debug("length scale selected", zap.Float64("sigma", c.gp.GetSigma()), zap.Float64("lml", bestLML))
}

// holds reports whether history starts with the observations in ids.
func holds(history []point, ids []string) bool {
	if len(history) < len(ids) {
		return false
	}

	for i, id := range ids {
		if history[i].obs.ID != id {
			return false
		}
	}

	return true
}

func (c *Controller) shouldStop(ctx context.Context, rounds int, started time.Time, stale int) (Reason, bool) {
	switch {
	case ctx.Err() != nil:
		return ReasonCancelled, true
	case c.config.Iterations > 0 && rounds >= c.config.Iterations:
		return ReasonBudget, true
	case c.config.TimeLimit > 0 && c.now().Sub(started) >= c.config.TimeLimit:
		return ReasonTimeLimit, true
	case c.config.Patience > 0 && stale >= c.config.Patience:
		return ReasonConverged, true
	default:
		return "", false
	}
}

func (c *Controller) finish(report *Report, reason Reason, history []point) *Report {
	c.setState(StateTerminated)

	report.Reason = reason
	report.Observations = len(history)

	if best := bestPoint(history); best != nil {
		report.Best = best.obs
		report.BestValue = best.value
	}

	c.logger.Info("optimization finished",
		zap.String("reason", string(reason)),
		zap.Int("rounds", report.Rounds),
		zap.Int("failures", report.Failures),
		zap.Float64("best", report.BestValue),
	)

	return report
}

// abort ends the run on a load error, reporting the last history seen.
func (c *Controller) abort(ctx context.Context, report *Report, history []point, err error) (*Report, error) {
	if ctx.Err() != nil {
		return c.finish(report, ReasonCancelled, history), ctx.Err()
	}

	return c.finish(report, ReasonError, history), err
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
}

func (c *Controller) progress(update ProgressUpdate, best *point) {
	if c.config.ProgressChan == nil {
		return
	}

	update.TotalRounds = c.config.Iterations

	if best != nil {
		update.BestParams = best.obs.Config.Kwargs()
		update.BestValue = best.value
	}

	select {
	case c.config.ProgressChan <- update:
	default:
		// Skip update if channel is full.
	}
}

// bestPoint returns the lowest loss, ties broken by the earliest id.
func bestPoint(history []point) *point {
	var best *point

	for i := range history {
		p := &history[i]
		if best == nil || p.loss < best.loss || (p.loss == best.loss && p.obs.ID < best.obs.ID) {
			best = p
		}
	}

	return best
}

// fatal tells errors the wrapper raised before running the computation.
func fatal(err error) bool {
	return errors.Is(err, xp.ErrIDExhausted) ||
		errors.Is(err, xp.ErrStorageRoot) ||
		errors.Is(err, xp.ErrBinding)
}

func searchMode(s State) string {
	if s == StateModel {
		return SearchBayesian
	}

	return SearchRandom
}
