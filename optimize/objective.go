package optimize

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/thalesfsp/xp"
)

// Direction says whether the objective is minimized or maximized.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}

	return "minimize"
}

// Objective is the declared projection from a result to a real number.
type Objective struct {
	Direction Direction

	// Field is a dotted path into a map result ("metrics.loss"). Empty
	// means the result itself must be numeric.
	Field string

	// Func, when set, replaces Field.
	Func func(result any) (float64, error)
}

// Validate checks the objective is well formed.
func (o Objective) Validate() error {
	if o.Direction != Minimize && o.Direction != Maximize {
		return fmt.Errorf("%w: unknown direction %d", ErrObjective, o.Direction)
	}

	if o.Field != "" {
		for _, part := range strings.Split(o.Field, ".") {
			if part == "" {
				return fmt.Errorf("%w: malformed field %q", ErrObjective, o.Field)
			}
		}
	}

	return nil
}

// Value projects result onto a finite real number.
func (o Objective) Value(result any) (float64, error) {
	if o.Func != nil {
		v, err := o.Func(result)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrObjective, err)
		}

		return finite(v)
	}

	v := result

	if o.Field != "" {
		for _, part := range strings.Split(o.Field, ".") {
			next, ok := lookup(v, part)
			if !ok {
				return 0, fmt.Errorf("%w: field %q not found in %T", ErrObjective, o.Field, result)
			}

			v = next
		}
	}

	f, ok := xp.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %T is not numeric", ErrObjective, v)
	}

	return finite(f)
}

// loss maps a value so lower is always better.
func (o Objective) loss(value float64) float64 {
	if o.Direction == Maximize {
		return -value
	}

	return value
}

// Best returns the observation with the best objective value, ties broken by
// the earliest id. Observations whose result cannot be projected are
// skipped. It reports false when none can be.
func Best(history []*xp.Observation, obj Objective) (*xp.Observation, float64, bool) {
	sorted := make([]*xp.Observation, len(history))
	copy(sorted, history)

	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var (
		best     *xp.Observation
		bestVal  float64
		bestLoss = math.Inf(1)
	)

	for _, obs := range sorted {
		v, err := obj.Value(obs.Result)
		if err != nil {
			continue
		}

		if l := obj.loss(v); best == nil || l < bestLoss {
			best, bestVal, bestLoss = obs, v, l
		}
	}

	return best, bestVal, best != nil
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", ErrObjective, f)
	}

	return f, nil
}

// lookup reads key from any map with string keys, or an exported struct
// field.
func lookup(v any, key string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		out, found := m[key]

		return out, found
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		out := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !out.IsValid() {
			return nil, false
		}

		return out.Interface(), true
	case reflect.Struct:
		f := rv.FieldByName(key)
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}

		return f.Interface(), true
	default:
		return nil, false
	}
}
