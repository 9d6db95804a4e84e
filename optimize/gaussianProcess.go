package optimize

import (
	"math"
	"sync"
)

//////
// Const, vars, types.
//////

const (
	// DefaultSigma suits inputs encoded into the unit hypercube.
	DefaultSigma = 0.25

	// DefaultNoise keeps the kernel matrix well conditioned.
	DefaultNoise = 1e-6

	// minVariance floors posterior variance against rounding.
	minVariance = 1e-12

	jitterAttempts = 6
)

// gaussianProcess implements a thread-safe Gaussian Process regression model
// with multidimensional inputs. The controller fits it to the encoded
// configurations and losses in the history and asks it for the posterior at
// untested candidates.
//
// Fields:
// - mu: RWMutex for thread-safe access to all fields
// - X: Observed input points, encoded into the unit hypercube
// - Y: Observed losses at each input point
// - sigma: RBF length scale
// - noise: Observation noise added to the kernel diagonal
//
// The posterior (Cholesky factor and weights) is recomputed on every write,
// so Predict only reads.
//
// Memory usage:
// - O(n²) for the factor where n is the number of observations.
type gaussianProcess struct {
	// mu protects access to all fields
	mu sync.RWMutex

	// X stores the input points. Length of inner slices must be consistent.
	X [][]float64

	// Y stores the observed losses at each point in X.
	Y []float64

	// sigma is the kernel width parameter.
	// Larger values = smoother interpolation
	// Smaller values = more local influence
	sigma float64

	noise float64

	// Posterior state, standardized.
	chol  [][]float64
	alpha []float64
	yMean float64
	yStd  float64

	// lml is the log marginal likelihood of the standardized targets.
	lml float64
}

//////
// Methods.
//////

// Predict returns the posterior mean and variance of the loss at x.
//
// Mathematical details:
// - Targets are standardized before fitting, and predictions are mapped
// back to loss units
// - mean = kᵀ(K + σₙ²I)⁻¹y
// - variance = k(x, x) - kᵀ(K + σₙ²I)⁻¹k
// - Returns (0, 1) if no observations exist
//
// Variance is never negative and shrinks towards zero at observed points.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	// Handle case with no observations
	if len(gp.X) == 0 {
		return 0, 1
	}

	if gp.chol == nil {
		return gp.yMean, gp.yStd * gp.yStd
	}

	k := make([]float64, len(gp.X))
	for i := range gp.X {
		k[i] = rbf(x, gp.X[i], gp.sigma)
	}

	var m float64
	for i := range k {
		m += k[i] * gp.alpha[i]
	}

	v := forwardSolve(gp.chol, k)

	s := 1.0
	for i := range v {
		s -= v[i] * v[i]
	}

	s = math.Max(s, minVariance)

	return gp.yMean + gp.yStd*m, s * gp.yStd * gp.yStd
}

// Update adds a new observation point to the model and refits it.
//
// Important notes:
// - Creates a deep copy of input slice x to prevent external modifications
// - Refitting is O(n³); use Fit to load many points at once
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	newX := make([]float64, len(x))
	copy(newX, x)

	gp.X = append(gp.X, newX)
	gp.Y = append(gp.Y, y)

	gp.fit()
}

// Fit replaces the training data and refits the model once.
func (gp *gaussianProcess) Fit(xs [][]float64, ys []float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.X = make([][]float64, len(xs))
	for i, x := range xs {
		gp.X[i] = append([]float64(nil), x...)
	}

	gp.Y = append([]float64(nil), ys...)

	gp.fit()
}

// SetSigma updates the kernel width parameter (sigma) and refits.
// Larger values give smoother interpolation.
func (gp *gaussianProcess) SetSigma(sigma float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.sigma = sigma

	gp.fit()
}

// GetSigma returns the current kernel width parameter (sigma).
func (gp *gaussianProcess) GetSigma() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.sigma
}

// LogMarginalLikelihood scores how well the current sigma explains the
// standardized targets. Higher is better; -Inf when nothing is fitted.
//
// Mathematical formula:
//
//	log p(y) = -½ yᵀα - Σ log Lᵢᵢ - (n/2) log 2π
func (gp *gaussianProcess) LogMarginalLikelihood() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.lml
}

// Len returns the number of training points.
func (gp *gaussianProcess) Len() int {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return len(gp.X)
}

// fit recomputes the posterior. Callers hold the write lock.
func (gp *gaussianProcess) fit() {
	gp.chol, gp.alpha = nil, nil
	gp.lml = math.Inf(-1)
	gp.yMean, gp.yStd = meanStd(gp.Y)

	n := len(gp.X)
	if n == 0 {
		return
	}

	y := make([]float64, n)
	for i := range gp.Y {
		y[i] = (gp.Y[i] - gp.yMean) / gp.yStd
	}

	jitter := gp.noise

	for attempt := 0; attempt < jitterAttempts; attempt++ {
		k := make([][]float64, n)
		for i := range k {
			k[i] = make([]float64, n)
			for j := range k[i] {
				k[i][j] = rbf(gp.X[i], gp.X[j], gp.sigma)
			}

			k[i][i] += jitter
		}

		l, err := cholesky(k)
		if err == nil {
			gp.chol = l
			gp.alpha = backSolve(l, forwardSolve(l, y))

			gp.lml = -0.5 * float64(n) * math.Log(2*math.Pi)
			for i := range y {
				gp.lml -= 0.5*y[i]*gp.alpha[i] + math.Log(l[i][i])
			}

			return
		}

		jitter = math.Max(jitter*10, 1e-10)
	}
}

//////
// Factory.
//////

// newGaussianProcess creates an empty model. Non-positive arguments fall
// back to DefaultSigma and DefaultNoise.
func newGaussianProcess(sigma, noise float64) *gaussianProcess {
	if sigma <= 0 {
		sigma = DefaultSigma
	}

	if noise <= 0 {
		noise = DefaultNoise
	}

	return &gaussianProcess{
		sigma: sigma,
		noise: noise,
		yStd:  1,
		lml:   math.Inf(-1),
	}
}

//////
// Helpers.
//////

func rbf(x1, x2 []float64, sigma float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * sigma * sigma))
}
