// Package optimize searches the configuration space of an xp.Experiment
// using Bayesian optimization with a Gaussian Process surrogate. Every
// proposal runs through the experiment, so each evaluated configuration is
// recorded like any other invocation, and the controller learns from the
// whole recorded history, earlier processes included.
//
// # State machine
//
//   - init: New validates the space against the computation's signature,
//     the objective, the budget and the recorded history
//   - explore: while the history holds fewer than InitialSamples usable
//     observations, configurations are drawn uniformly at random
//   - model: the surrogate is fit to the history and the candidate with
//     the lowest acquisition value is evaluated
//   - terminated: the round budget, the time limit, the patience window
//     or the context ended the run
//
// Each invocation is tagged with metadata search_mode ("random" or
// "bayesian").
//
// # Parameter space
//
// A Space maps parameter names to domains: ParameterRange[T] for integer or
// continuous ranges, LogRange for positive ranges searched on a log scale and
// Categorical for finite choices. Parameters left out
// of the space keep their default or take their value from
// OptimizationConfig.Fixed. Spaces can be loaded from YAML with
// ParseSpaceYAML or LoadSpace.
//
// # Surrogate
//
// One Gaussian Process is kept across rounds. When a round adds a single
// observation it is appended with an incremental update; any other change in
// the history refits it. With SigmaGrid set, each model round keeps the
// length scale with the highest marginal likelihood. Controller.Predict
// queries the current model.
//
// # Acquisition Functions
//
// Four acquisition functions are provided. All of them score the
// surrogate's predicted loss, and lower scores win:
//
// 1. UCB (the default): confidence bound controlled by Beta.
//
//	config := DefaultConfig()
//	config.AcqParams.Beta = 2.0
//
// 2. Probability of Improvement (PI): conservative, controlled by Xi.
//
//	config.AcquisitionFunc = ProbabilityOfImprovement
//
// 3. Expected Improvement (EI): balances improvement probability and
// magnitude.
//
//	config.AcquisitionFunc = ExpectedImprovement
//
// 4. Thompson Sampling: draws from the posterior, using RandomState or the
// controller's seeded generator.
//
//	config.AcquisitionFunc = ThompsonSampling
//
// # Objective
//
// An Objective declares how a result becomes a number: the result itself,
// a dotted Field lookup into a structured result, or a Func. Maximized
// objectives are negated internally so the model always minimizes a loss.
//
// # Failures
//
// A computation that returns an error is not recorded by the experiment, so
// the round is skipped without touching the model. Failures are counted in
// the Report.
package optimize
