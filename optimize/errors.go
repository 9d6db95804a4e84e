package optimize

import "errors"

var (
	// ErrInvalidSpace is returned when the parameter space does not match
	// the computation's signature or holds an empty domain.
	ErrInvalidSpace = errors.New("invalid parameter space")

	// ErrObjective is returned when a result cannot be projected onto a
	// real number.
	ErrObjective = errors.New("objective not projectable")

	// ErrInvalidConfig is returned for an unusable OptimizationConfig.
	ErrInvalidConfig = errors.New("invalid optimization config")

	// ErrNotFitted is returned by Predict before the first model round.
	ErrNotFitted = errors.New("surrogate model not fitted")
)
