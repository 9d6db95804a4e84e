package optimize

import (
	"errors"
	"math"
)

//////
// Helper functions.
//////

var errNotPositiveDefinite = errors.New("matrix is not positive definite")

// normalCDF is the cumulative distribution function of the standard normal
// distribution.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the probability density function of the standard normal
// distribution.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// cholesky factors the symmetric matrix a into L·Lᵀ and returns the lower
// triangular L. a is not modified.
func cholesky(a [][]float64) ([][]float64, error) {
	n := len(a)

	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}

			if i == j {
				if sum <= 0 || math.IsNaN(sum) {
					return nil, errNotPositiveDefinite
				}

				l[i][i] = math.Sqrt(sum)

				continue
			}

			l[i][j] = sum / l[j][j]
		}
	}

	return l, nil
}

// forwardSolve solves L·x = b for lower triangular L.
func forwardSolve(l [][]float64, b []float64) []float64 {
	x := make([]float64, len(b))

	for i := range b {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * x[k]
		}

		x[i] = sum / l[i][i]
	}

	return x
}

// backSolve solves Lᵀ·x = b for lower triangular L.
func backSolve(l [][]float64, b []float64) []float64 {
	n := len(b)
	x := make([]float64, n)

	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}

		x[i] = sum / l[i][i]
	}

	return x
}

// meanStd returns the mean and population standard deviation of ys. A zero
// spread is reported as 1 so standardizing never divides by zero.
func meanStd(ys []float64) (mean, std float64) {
	if len(ys) == 0 {
		return 0, 1
	}

	for _, y := range ys {
		mean += y
	}

	mean /= float64(len(ys))

	for _, y := range ys {
		std += (y - mean) * (y - mean)
	}

	std = math.Sqrt(std / float64(len(ys)))
	if std == 0 {
		std = 1
	}

	return mean, std
}
