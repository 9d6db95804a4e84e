package optimize

import "math"

//////
// Available acquisition functions for Bayesian optimization.
// Each function helps decide which points to evaluate next by balancing
// exploration (trying new areas) and exploitation (focusing on known good
// areas). Inputs are the surrogate's predicted loss; lower outputs win.
//////

// UCB implements the confidence bound acquisition function. For a loss it is
// the lower bound mean - Beta·σ.
//
// When to use:
// - General purpose, works well in most cases
// - When you want direct control over exploration-exploitation trade-off
//
// Example:
//
//	params := AcquisitionParams{Beta: 2.0}
//	value := UCB(0.5, 0.2, params)
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(math.Max(variance, 0))
}

// ProbabilityOfImprovement (PI) scores a point by the probability its loss
// is at least Xi below BestSoFar, negated so lower is better.
//
// When to use:
// - When you want to be conservative in exploring new points
// - When you're fine with small improvements
//
// Example:
//
//	params := AcquisitionParams{BestSoFar: 1.0, Xi: 0.01}
//	score := ProbabilityOfImprovement(0.9, 0.2, params)
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	sd := math.Sqrt(math.Max(variance, 0))
	if sd == 0 {
		if improvement > 0 {
			return -1
		}

		return 0
	}

	return -normalCDF(improvement / sd)
}

// ExpectedImprovement (EI) scores a point by the expected amount its loss
// falls below BestSoFar - Xi, negated so lower is better.
//
// When to use:
// - Most commonly used acquisition function
// - In problems where the magnitude of improvement matters
//
// Example:
//
//	params := AcquisitionParams{BestSoFar: 1.0, Xi: 0.01}
//	score := ExpectedImprovement(0.9, 0.2, params)
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	sd := math.Sqrt(math.Max(variance, 0))
	if sd == 0 {
		return -math.Max(improvement, 0)
	}

	z := improvement / sd

	return -(improvement*normalCDF(z) + sd*normalPDF(z))
}

// ThompsonSampling draws one sample from the posterior at the point.
// Without a RandomState it degrades to the posterior mean.
//
// Example:
//
//	params := AcquisitionParams{
//	    RandomState: rand.New(rand.NewSource(time.Now().UnixNano())),
//	}
//	sample := ThompsonSampling(0.9, 0.2, params)
//
// Warning:
// - Don't share RandomState between goroutines.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	if params.RandomState == nil {
		return mean
	}

	return mean + math.Sqrt(math.Max(variance, 0))*params.RandomState.NormFloat64()
}
