package optimize

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/xp"
)

//////
// Const, vars, types.
//////

// Domain kinds.
const (
	KindInteger     = "integer"
	KindContinuous  = "continuous"
	KindLogUniform  = "log_uniform"
	KindCategorical = "categorical"
)

// Space maps parameter names to their domains.
type Space map[string]Domain

//////
// ParameterRange.
//////

func (r ParameterRange[T]) isFloat() bool {
	switch any(r.Min).(type) {
	case float32, float64:
		return true
	default:
		return false
	}
}

// Kind is "continuous" for float ranges, "integer" otherwise.
func (r ParameterRange[T]) Kind() string {
	if r.isFloat() {
		return KindContinuous
	}

	return KindInteger
}

func (r ParameterRange[T]) Validate() error {
	lo, hi := float64(r.Min), float64(r.Max)

	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return fmt.Errorf("range [%v, %v] is not finite", r.Min, r.Max)
	}

	if r.Min > r.Max {
		return fmt.Errorf("range [%v, %v] is empty", r.Min, r.Max)
	}

	return nil
}

func (r ParameterRange[T]) Sample(rng *rand.Rand) any {
	if r.isFloat() {
		lo := float64(r.Min)
		hi := float64(r.Max)

		return T(lo + rng.Float64()*(hi-lo))
	}

	lo := int64(r.Min)
	hi := int64(r.Max)

	return T(lo + rng.Int63n(hi-lo+1))
}

func (r ParameterRange[T]) Dims() int { return 1 }

func (r ParameterRange[T]) Encode(v any) ([]float64, bool) {
	f, ok := xp.AsFloat(v)
	if !ok || math.IsNaN(f) {
		return nil, false
	}

	lo, hi := float64(r.Min), float64(r.Max)
	if f < lo || f > hi {
		return nil, false
	}

	if !r.isFloat() && f != math.Trunc(f) {
		return nil, false
	}

	if hi == lo {
		return []float64{0}, true
	}

	return []float64{(f - lo) / (hi - lo)}, true
}

//////
// LogRange.
//////

func (r LogRange) Kind() string { return KindLogUniform }

func (r LogRange) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("range [%v, %v] is not finite", r.Min, r.Max)
	}

	if r.Min <= 0 {
		return fmt.Errorf("log range needs a positive minimum, got %v", r.Min)
	}

	if r.Min > r.Max {
		return fmt.Errorf("range [%v, %v] is empty", r.Min, r.Max)
	}

	return nil
}

// Sample draws exp(U(log Min, log Max)).
func (r LogRange) Sample(rng *rand.Rand) any {
	lo, hi := math.Log(r.Min), math.Log(r.Max)

	v := math.Exp(lo + rng.Float64()*(hi-lo))

	// exp(log(x)) may round just outside the bounds.
	return math.Min(math.Max(v, r.Min), r.Max)
}

func (r LogRange) Dims() int { return 1 }

// Encode maps log(v) linearly onto [0, 1].
func (r LogRange) Encode(v any) ([]float64, bool) {
	f, ok := xp.AsFloat(v)
	if !ok || math.IsNaN(f) || f < r.Min || f > r.Max {
		return nil, false
	}

	if r.Min == r.Max {
		return []float64{0}, true
	}

	lo, hi := math.Log(r.Min), math.Log(r.Max)

	return []float64{(math.Log(f) - lo) / (hi - lo)}, true
}

//////
// Categorical.
//////

func (c Categorical) Kind() string { return KindCategorical }

func (c Categorical) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("no choices")
	}

	return nil
}

func (c Categorical) Sample(rng *rand.Rand) any {
	return c[rng.Intn(len(c))]
}

func (c Categorical) Dims() int { return len(c) }

// Encode one-hot encodes v.
func (c Categorical) Encode(v any) ([]float64, bool) {
	for i, choice := range c {
		if xp.ValuesEqual(choice, v) {
			out := make([]float64, len(c))
			out[i] = 1

			return out, true
		}
	}

	return nil, false
}

//////
// Space.
//////

// Names returns the parameter names, sorted.
func (s Space) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Validate checks every parameter is declared by sig and every domain is
// non-empty.
func (s Space) Validate(sig xp.Signature) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidSpace)
	}

	for _, name := range s.Names() {
		if _, ok := sig.Lookup(name); !ok {
			return fmt.Errorf("%w: %q is not a parameter of the computation", ErrInvalidSpace, name)
		}

		d := s[name]
		if d == nil {
			return fmt.Errorf("%w: %q has no domain", ErrInvalidSpace, name)
		}

		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidSpace, name, err)
		}
	}

	return nil
}

// Sample draws one configuration uniformly at random.
func (s Space) Sample(rng *rand.Rand) xp.Kwargs {
	kw := make(xp.Kwargs, len(s))

	for _, name := range s.Names() {
		kw[name] = s[name].Sample(rng)
	}

	return kw
}

// Dims is the width of an encoded configuration.
func (s Space) Dims() int {
	var n int
	for _, d := range s {
		n += d.Dims()
	}

	return n
}

// Encode maps the values of the space's parameters into the unit hypercube. It
// reports false when a parameter is missing or out of its domain.
func (s Space) Encode(get func(name string) (any, bool)) ([]float64, bool) {
	out := make([]float64, 0, s.Dims())

	for _, name := range s.Names() {
		v, ok := get(name)
		if !ok {
			return nil, false
		}

		enc, ok := s[name].Encode(v)
		if !ok {
			return nil, false
		}

		out = append(out, enc...)
	}

	return out, true
}

//////
// YAML.
//////

type domainDecl struct {
	Kind    string   `yaml:"kind"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Choices []any    `yaml:"choices"`
}

// ParseSpaceYAML reads a space descriptor:
//
//	batch_size:
//	  kind: integer
//	  min: 8
//	  max: 256
//	lr:
//	  kind: continuous
//	  min: 0.0001
//	  max: 0.1
//	weight_decay:
//	  kind: log_uniform
//	  min: 0.00001
//	  max: 0.01
//	activation:
//	  kind: categorical
//	  choices: [relu, tanh]
//
// Integer parameters are sampled as int, continuous and log_uniform ones as
// float64.
func ParseSpaceYAML(data []byte) (Space, error) {
	var decls map[string]domainDecl
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}

	space := make(Space, len(decls))

	for name, decl := range decls {
		d, err := decl.domain()
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSpace, name, err)
		}

		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSpace, name, err)
		}

		space[name] = d
	}

	return space, nil
}

// LoadSpace reads a space descriptor file.
func LoadSpace(path string) (Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseSpaceYAML(data)
}

func (d domainDecl) domain() (Domain, error) {
	switch d.Kind {
	case KindCategorical:
		return Categorical(d.Choices), nil
	case KindInteger, KindContinuous, KindLogUniform:
		if d.Min == nil || d.Max == nil {
			return nil, fmt.Errorf("%s needs min and max", d.Kind)
		}

		switch d.Kind {
		case KindContinuous:
			return ParameterRange[float64]{Min: *d.Min, Max: *d.Max}, nil
		case KindLogUniform:
			return LogRange{Min: *d.Min, Max: *d.Max}, nil
		}

		if *d.Min != math.Trunc(*d.Min) || *d.Max != math.Trunc(*d.Max) {
			return nil, fmt.Errorf("integer bounds must be whole numbers")
		}

		return ParameterRange[int]{Min: int(*d.Min), Max: int(*d.Max)}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", d.Kind)
	}
}
