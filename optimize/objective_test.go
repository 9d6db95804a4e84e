package optimize

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/xp"
)

type evalResult struct {
	Accuracy float64
	Metrics  map[string]float64
}

func TestObjectiveValue(t *testing.T) {
	tests := []struct {
		name   string
		obj    Objective
		result any
		want   float64
	}{
		{"identity int", Objective{}, 3, 3},
		{"identity float", Objective{}, 2.5, 2.5},
		{"map field", Objective{Field: "loss"}, map[string]any{"loss": 0.25}, 0.25},
		{"nested field", Objective{Field: "metrics.f1"}, map[string]any{"metrics": map[string]any{"f1": 0.8}}, 0.8},
		{"typed map", Objective{Field: "f1"}, map[string]float64{"f1": 0.5}, 0.5},
		{"struct field", Objective{Field: "Accuracy"}, evalResult{Accuracy: 0.9}, 0.9},
		{"struct then map", Objective{Field: "Metrics.recall"}, &evalResult{Metrics: map[string]float64{"recall": 0.7}}, 0.7},
		{"func", Objective{Func: func(r any) (float64, error) { return float64(len(r.(string))), nil }}, "four", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.obj.Value(tt.result)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestObjectiveValueErrors(t *testing.T) {
	tests := []struct {
		name   string
		obj    Objective
		result any
	}{
		{"string", Objective{}, "nope"},
		{"nil", Objective{}, nil},
		{"missing field", Objective{Field: "loss"}, map[string]any{"acc": 1}},
		{"non-numeric field", Objective{Field: "loss"}, map[string]any{"loss": "high"}},
		{"nan", Objective{}, math.NaN()},
		{"inf", Objective{}, math.Inf(1)},
		{"func error", Objective{Func: func(any) (float64, error) { return 0, errors.New("boom") }}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.obj.Value(tt.result)
			assert.ErrorIs(t, err, ErrObjective)
		})
	}
}

func TestObjectiveValidate(t *testing.T) {
	assert.NoError(t, Objective{Direction: Maximize, Field: "a.b"}.Validate())
	assert.ErrorIs(t, Objective{Direction: Direction(7)}.Validate(), ErrObjective)
	assert.ErrorIs(t, Objective{Field: ".a"}.Validate(), ErrObjective)
}

func TestBestBreaksTiesByEarliestID(t *testing.T) {
	history := []*xp.Observation{
		{ID: "c", Result: 5.0},
		{ID: "b", Result: 9.0},
		{ID: "a", Result: 9.0},
		{ID: "d", Result: "broken"},
	}

	best, value, ok := Best(history, Objective{Direction: Maximize})
	require.True(t, ok)
	assert.Equal(t, "a", best.ID)
	assert.Equal(t, 9.0, value)

	best, value, ok = Best(history, Objective{Direction: Minimize})
	require.True(t, ok)
	assert.Equal(t, "c", best.ID)
	assert.Equal(t, 5.0, value)

	_, _, ok = Best([]*xp.Observation{{ID: "x", Result: "broken"}}, Objective{})
	assert.False(t, ok)
}
