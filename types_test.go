package xp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var abSig = Signature{Required("a"), Optional("b", 2)}

func TestBindMixesPositionalKeywordAndDefaults(t *testing.T) {
	positional, err := abSig.Bind([]any{1, 5}, nil)
	require.NoError(t, err)

	keyword, err := abSig.Bind(nil, Kwargs{"b": 5, "a": 1})
	require.NoError(t, err)

	mixed, err := abSig.Bind([]any{1}, Kwargs{"b": 5})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, positional.Keys())
	assert.True(t, positional.Equal(keyword))
	assert.True(t, positional.Equal(mixed))

	defaulted, err := abSig.Bind([]any{1}, nil)
	require.NoError(t, err)

	b, _ := defaulted.Get("b")
	assert.Equal(t, 2, b)
}

func TestBindErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []any
		kwargs Kwargs
		param  string
	}{
		{"missing required", nil, Kwargs{"b": 1}, "a"},
		{"bound twice", []any{1}, Kwargs{"a": 1}, "a"},
		{"unexpected keyword", nil, Kwargs{"a": 1, "c": 3}, "c"},
		{"too many positional", []any{1, 2, 3}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := abSig.Bind(tt.args, tt.kwargs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBinding))

			var bindErr *BindError
			require.ErrorAs(t, err, &bindErr)
			assert.Equal(t, tt.param, bindErr.Param)
		})
	}
}

func TestSignatureValidate(t *testing.T) {
	assert.NoError(t, abSig.Validate())
	assert.ErrorIs(t, Signature{Required("a"), Required("a")}.Validate(), ErrInvalidSignature)
	assert.ErrorIs(t, Signature{Required("")}.Validate(), ErrInvalidSignature)
}

func TestConfigKeepsOrderThroughJSONAndYAML(t *testing.T) {
	cfg := ConfigOf("zeta", 1.5, "alpha", "x", "mid", []any{"p", "q"})

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1.5,"alpha":"x","mid":["p","q"]}`, string(data))

	var fromJSON Config
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, fromJSON.Keys())
	assert.True(t, cfg.Equal(fromJSON))

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	var fromYAML Config
	require.NoError(t, yaml.Unmarshal(out, &fromYAML))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, fromYAML.Keys())
	assert.True(t, cfg.Equal(fromYAML))
}

func TestConfigEqualComparesNumbersByValue(t *testing.T) {
	assert.True(t, ConfigOf("a", 1).Equal(ConfigOf("a", 1.0)))
	assert.False(t, ConfigOf("a", 1).Equal(ConfigOf("a", 2)))
	assert.False(t, ConfigOf("a", 1, "b", 2).Equal(ConfigOf("b", 2, "a", 1)))
	assert.False(t, ConfigOf("a", int64(1<<53+1)).Equal(ConfigOf("a", int64(1<<53))))
	assert.True(t, ConfigOf("a", uint64(7)).Equal(ConfigOf("a", int8(7))))
}

func TestConfigJSONKeepsIntegerTypes(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"n":9007199254740993,"big":18446744073709551615,"f":2.5,"e":1e3,"m":{"k":4}}`), &cfg))

	n, _ := cfg.Get("n")
	assert.Equal(t, 9007199254740993, n)

	big, _ := cfg.Get("big")
	assert.Equal(t, uint64(18446744073709551615), big)

	f, _ := cfg.Get("f")
	assert.Equal(t, 2.5, f)

	e, _ := cfg.Get("e")
	assert.Equal(t, 1000.0, e)

	m, _ := cfg.Get("m")
	assert.Equal(t, map[string]any{"k": 4}, m)
}
