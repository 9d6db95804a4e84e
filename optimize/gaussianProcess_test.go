package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRBF(t *testing.T) {
	assert.Equal(t, 1.0, rbf([]float64{1, 2}, []float64{1, 2}, 1))
	assert.InDelta(t, math.Exp(-0.5), rbf([]float64{0}, []float64{1}, 1), 1e-12)
	assert.Less(t, rbf([]float64{0}, []float64{10}, 1), 1e-10)

	assert.Panics(t, func() { rbf([]float64{0}, []float64{0, 1}, 1) })
}

func TestGaussianProcessPrior(t *testing.T) {
	gp := newGaussianProcess(0, 0)

	mean, variance := gp.Predict([]float64{0.3})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)
	assert.Equal(t, DefaultSigma, gp.GetSigma())
	assert.Zero(t, gp.Len())
	assert.True(t, math.IsInf(gp.LogMarginalLikelihood(), -1))
}

func TestGaussianProcessInterpolates(t *testing.T) {
	gp := newGaussianProcess(0.2, 1e-8)

	xs := [][]float64{{0}, {0.25}, {0.5}, {0.75}, {1}}
	ys := make([]float64, len(xs))

	for i, x := range xs {
		ys[i] = math.Sin(3 * x[0])
	}

	gp.Fit(xs, ys)

	for i, x := range xs {
		mean, variance := gp.Predict(x)
		assert.InDelta(t, ys[i], mean, 1e-3)
		assert.Less(t, variance, 1e-4)
	}

	// Between and far from the data the model is less certain.
	_, between := gp.Predict([]float64{0.125})
	_, far := gp.Predict([]float64{3})

	assert.Greater(t, between, 0.0)
	assert.Greater(t, far, between)
}

func TestGaussianProcessUpdateAndSetSigma(t *testing.T) {
	gp := newGaussianProcess(0.3, 0)

	input := []float64{0.2}
	gp.Update(input, 4)

	// The model keeps its own copy.
	input[0] = 0.9

	mean, _ := gp.Predict([]float64{0.2})
	assert.InDelta(t, 4, mean, 1e-6)

	gp.Update([]float64{0.8}, 6)

	require.Len(t, gp.X, 2)
	assert.Equal(t, []float64{0.2}, gp.X[0])

	gp.SetSigma(0.5)
	assert.Equal(t, 0.5, gp.GetSigma())

	mean, _ = gp.Predict([]float64{0.8})
	assert.InDelta(t, 6, mean, 1e-3)
}

func TestGaussianProcessLogMarginalLikelihoodPrefersSmoothFit(t *testing.T) {
	xs := make([][]float64, 8)
	ys := make([]float64, 8)

	for i := range xs {
		x := float64(i) / 7
		xs[i] = []float64{x}
		ys[i] = math.Sin(3 * x)
	}

	gp := newGaussianProcess(0.01, 1e-4)
	gp.Fit(xs, ys)

	narrow := gp.LogMarginalLikelihood()
	assert.False(t, math.IsInf(narrow, 0))

	gp.SetSigma(0.3)
	assert.Greater(t, gp.LogMarginalLikelihood(), narrow)
	assert.Equal(t, 8, gp.Len())
}

func TestGaussianProcessSurvivesDuplicatePoints(t *testing.T) {
	gp := newGaussianProcess(0.25, 1e-12)

	gp.Fit([][]float64{{0.5}, {0.5}, {0.5}}, []float64{1, 1.1, 0.9})

	mean, variance := gp.Predict([]float64{0.5})
	assert.False(t, math.IsNaN(mean))
	assert.InDelta(t, 1, mean, 0.1)
	assert.GreaterOrEqual(t, variance, 0.0)
}

func TestCholeskySolves(t *testing.T) {
	a := [][]float64{{4, 2}, {2, 3}}

	l, err := cholesky(a)
	require.NoError(t, err)

	// a·x = b with b = (2, 1).
	x := backSolve(l, forwardSolve(l, []float64{2, 1}))
	assert.InDelta(t, 0.5, x[0], 1e-12)
	assert.InDelta(t, 0, x[1], 1e-12)

	_, err = cholesky([][]float64{{1, 2}, {2, 1}})
	assert.ErrorIs(t, err, errNotPositiveDefinite)
}
