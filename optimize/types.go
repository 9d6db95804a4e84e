package optimize

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/constraints"

	"github.com/thalesfsp/xp"
)

// State is a phase of the controller's state machine.
type State int

const (
	// StateInit validates the space, the objective and existing history.
	StateInit State = iota

	// StateExplore draws configurations uniformly at random.
	StateExplore

	// StateModel proposes configurations from the surrogate model.
	StateModel

	// StateTerminated is final.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateExplore:
		return "explore"
	case StateModel:
		return "model"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reason tells why a run terminated.
type Reason string

const (
	ReasonBudget    Reason = "budget"
	ReasonTimeLimit Reason = "time_limit"
	ReasonConverged Reason = "converged"
	ReasonCancelled Reason = "cancelled"
	ReasonError     Reason = "error"
)

// ProgressUpdate represents the current state of the optimization process.
// One is sent per round.
type ProgressUpdate struct {
	// State is the phase the round ran in (explore or model).
	State State

	// Round is the 1-based round number within this run.
	Round int

	// TotalRounds is the round budget, 0 when unbounded.
	TotalRounds int

	// Params holds the configuration that was tried.
	Params xp.Kwargs

	// Value is the objective value of the round, unset when Failed.
	Value float64

	// Failed is true when the computation returned an error.
	Failed bool

	// BestParams holds the best configuration found so far.
	BestParams xp.Kwargs

	// BestValue holds the best objective value found so far.
	BestValue float64
}

// Domain is the set of values one parameter may take.
type Domain interface {
	// Kind is one of the Kind* constants.
	Kind() string

	// Validate reports an empty or malformed domain.
	Validate() error

	// Sample draws a value uniformly at random.
	Sample(rng *rand.Rand) any

	// Dims is the width of the encoding.
	Dims() int

	// Encode maps a value into the unit hypercube of the surrogate model.
	// It reports false for values outside the domain.
	Encode(v any) ([]float64, bool)
}

// ParameterRange defines an inclusive numeric range for a parameter. Integer
// types sample integers, float types sample reals.
//
// Usage:
//
//	// Example 1: Buffer size range from 1KB to 1MB
//	bufferSizeRange := ParameterRange[int]{Min: 1024, Max: 1048576}
//
//	// Example 2: Learning rate range from 0.0001 to 0.1
//	learningRateRange := ParameterRange[float64]{Min: 0.0001, Max: 0.1}
//
// Validation:
// - Min must be less than or equal to Max
// - The range is inclusive of both Min and Max values
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	// Min defines the minimum allowed value (inclusive).
	Min T

	// Max defines the maximum allowed value (inclusive).
	Max T
}

// LogRange is an inclusive range of positive reals sampled uniformly in log
// space, the usual domain for learning rates and regularization weights.
//
// Usage:
//
//	lr := LogRange{Min: 1e-5, Max: 1e-1}
type LogRange struct {
	Min float64
	Max float64
}

// Categorical is a finite set of choices. Values are compared by value, so
// 1 and 1.0 are the same choice.
type Categorical []any

// AcquisitionFunc scores a candidate from the surrogate's prediction of its
// loss. Lower values indicate more promising points.
//
// Parameters:
// - mean: The predicted loss at a point
// - variance: The predicted variance at that point
// - params: Additional parameters needed by specific acquisition functions
//
// Built-in acquisition functions:
// - UCB: Confidence bound
// - ProbabilityOfImprovement: Probability of beating the best loss
// - ExpectedImprovement: Expected magnitude of improvement
// - ThompsonSampling: Random sampling from the posterior
//
// Custom acquisition functions should handle zero variance and return lower
// values for more promising points.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters used by the acquisition functions.
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off in UCB.
	// Higher values encourage exploring uncertain areas. Typical values
	// range from 0.1 to 5.0.
	Beta float64

	// Xi is the minimum improvement over BestSoFar that PI and EI ask for,
	// in loss units. Typical values range from 0.01 to 0.1.
	Xi float64

	// BestSoFar is the lowest loss seen so far. The controller sets it
	// every round.
	BestSoFar float64

	// RandomState is used by Thompson Sampling. The controller fills it
	// from Seed when nil.
	RandomState *rand.Rand
}

// OptimizationConfig holds all configuration parameters for a controller
// run.
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Iterations = 30
//	config.Objective = Objective{Direction: Maximize, Field: "accuracy"}
//	config.Fixed = xp.Kwargs{"epochs": 10}
//
// At least one of Iterations, TimeLimit or Patience must be set.
type OptimizationConfig struct {
	// Iterations is the number of rounds one Run performs. Every round
	// invokes the experiment once, failed invocations included. 0 means
	// no round limit.
	Iterations int

	// InitialSamples is the number of valid observations the history must
	// hold before the surrogate model is used. Observations recorded by
	// earlier runs count.
	InitialSamples int

	// NumCandidates determines how many random candidates are scored by the
	// acquisition function in each model round.
	NumCandidates int

	// AcquisitionFunc selects the next point to evaluate.
	AcquisitionFunc AcquisitionFunc

	// AcqParams holds the parameters for the acquisition function.
	AcqParams AcquisitionParams

	// Objective projects results onto the value being optimized.
	Objective Objective

	// Fixed holds parameters passed unchanged to every invocation. They
	// must not overlap the space.
	Fixed xp.Kwargs

	// Seed seeds sampling. 0 seeds from the clock.
	Seed int64

	// TimeLimit stops the run once elapsed, after the current round
	// completes. 0 means no limit.
	TimeLimit time.Duration

	// Patience stops the run after this many successful rounds without
	// improving the best loss by more than Tolerance. 0 disables it.
	Patience int

	// Tolerance is the minimum loss decrease counted as an improvement.
	Tolerance float64

	// Sigma is the RBF length scale in the unit hypercube.
	Sigma float64

	// SigmaGrid lists candidate length scales. When set, every model round
	// keeps the one whose fit has the highest marginal likelihood, starting
	// from Sigma.
	SigmaGrid []float64

	// Noise is the observation noise added to the kernel diagonal, in
	// standardized units.
	Noise float64

	// Logger receives one line per round. Nil uses the package logger.
	Logger *zap.Logger

	// ProgressChan is used to send progress updates during optimization.
	// Sends never block; updates are dropped when the channel is full.
	ProgressChan chan<- ProgressUpdate
}

// Runner is what the controller drives. *xp.Experiment implements it.
type Runner interface {
	Name() string
	Signature() xp.Signature
	CallKw(ctx context.Context, kwargs xp.Kwargs) (any, error)
	Observations(ctx context.Context, opts ...xp.QueryOption) ([]*xp.Observation, error)
}

// Report summarizes a terminated run.
type Report struct {
	// Best is the best observation in the history, ties broken by the
	// earliest id. Nil when the history holds no usable observation.
	Best *xp.Observation

	// BestValue is the objective value of Best.
	BestValue float64

	// Rounds is the number of rounds this run performed.
	Rounds int

	// Evaluations is the number of successful rounds.
	Evaluations int

	// Failures is the number of rounds whose computation failed.
	Failures int

	// Observations is the size of the usable history at termination.
	Observations int

	// Reason tells why the run stopped.
	Reason Reason
}
