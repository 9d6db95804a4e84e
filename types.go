package xp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"gopkg.in/yaml.v3"
)

//////
// Const, vars, types.
//////

// Func is the computation wrapped by an Experiment. It receives the fully
// bound configuration and a context carrying the ambient run state (see
// CurrentID and CurrentDir).
type Func func(ctx context.Context, cfg Config) (any, error)

// Kwargs holds keyword arguments for an invocation.
type Kwargs map[string]any

// Param is one formal parameter of a computation.
type Param struct {
	// Name of the parameter. Must be unique within a Signature.
	Name string

	// Default is used when the caller does not bind the parameter. Only
	// meaningful when HasDefault is set.
	Default any

	// HasDefault marks the parameter as optional.
	HasDefault bool
}

// Required declares a parameter without default.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default value.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Signature is the ordered parameter list of a computation.
type Signature []Param

// Observation is the unit of record: one invocation's id, fully resolved
// config, result and metadata. After Backend.Save it is read-only history.
type Observation struct {
	ID       string         `json:"id" yaml:"id"`
	Config   Config         `json:"config" yaml:"config"`
	Result   any            `json:"result" yaml:"result"`
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
}

// Config is an insertion-ordered mapping from parameter name to value. The
// zero value is an empty Config ready to use.
type Config struct {
	keys   []string
	values map[string]any
}

//////
// Signature.
//////

// Names returns the parameter names in declaration order.
func (s Signature) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}

	return names
}

// Lookup finds a parameter by name.
func (s Signature) Lookup(name string) (Param, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}

	return Param{}, false
}

// Validate reports empty or duplicated parameter names.
func (s Signature) Validate() error {
	seen := make(map[string]bool, len(s))

	for i, p := range s {
		if p.Name == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrInvalidSignature, i)
		}

		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidSignature, p.Name)
		}

		seen[p.Name] = true
	}

	return nil
}

// Bind resolves positional and keyword arguments against the signature and
// fills the rest from declared defaults. The resulting Config follows the
// declaration order. Every failure is a *BindError.
func (s Signature) Bind(args []any, kwargs Kwargs) (Config, error) {
	if len(args) > len(s) {
		return Config{}, &BindError{
			Reason: fmt.Sprintf("takes %d positional arguments but %d were given", len(s), len(args)),
		}
	}

	for name := range kwargs {
		if _, ok := s.Lookup(name); !ok {
			return Config{}, &BindError{Param: name, Reason: "unexpected keyword argument"}
		}
	}

	var cfg Config

	for i, p := range s {
		kv, inKwargs := kwargs[p.Name]

		switch {
		case i < len(args) && inKwargs:
			return Config{}, &BindError{Param: p.Name, Reason: "bound more than once"}
		case i < len(args):
			cfg.Set(p.Name, args[i])
		case inKwargs:
			cfg.Set(p.Name, kv)
		case p.HasDefault:
			cfg.Set(p.Name, p.Default)
		default:
			return Config{}, &BindError{Param: p.Name, Reason: "missing required argument"}
		}
	}

	return cfg, nil
}

//////
// Config.
//////

// ConfigOf builds a Config from alternating key/value pairs. It panics on an
// odd number of arguments or a non-string key.
func ConfigOf(pairs ...any) Config {
	if len(pairs)%2 != 0 {
		panic("xp: ConfigOf needs key/value pairs")
	}

	var cfg Config

	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("xp: ConfigOf key %v is not a string", pairs[i]))
		}

		cfg.Set(key, pairs[i+1])
	}

	return cfg
}

// Set binds key to value. A new key is appended, an existing key keeps its
// position.
func (c *Config) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}

	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}

	c.values[key] = value
}

// Get returns the value bound to key.
func (c Config) Get(key string) (any, bool) {
	v, ok := c.values[key]

	return v, ok
}

// Keys returns the keys in insertion order.
func (c Config) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)

	return out
}

// Len returns the number of bound keys.
func (c Config) Len() int {
	return len(c.keys)
}

// Map returns an unordered copy.
func (c Config) Map() map[string]any {
	out := make(map[string]any, len(c.keys))
	for _, k := range c.keys {
		out[k] = c.values[k]
	}

	return out
}

// Kwargs returns the config as keyword arguments, suitable for re-invoking
// an experiment with the same configuration.
func (c Config) Kwargs() Kwargs {
	return Kwargs(c.Map())
}

// Clone returns a shallow copy so callers can't reorder or rebind the
// original.
func (c Config) Clone() Config {
	var out Config
	for _, k := range c.keys {
		out.Set(k, c.values[k])
	}

	return out
}

// Equal compares key order and values. Numeric values compare by value
// regardless of their Go type, so a config decoded from storage equals the
// one it was saved from.
func (c Config) Equal(other Config) bool {
	if len(c.keys) != len(other.keys) {
		return false
	}

	for i, k := range c.keys {
		if other.keys[i] != k {
			return false
		}

		if !ValuesEqual(c.values[k], other.values[k]) {
			return false
		}
	}

	return true
}

// MarshalJSON writes the config as a JSON object in insertion order.
func (c Config) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}

		value, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, fmt.Errorf("config key %q: %w", k, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the document's key order.
func (c *Config) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	*c = Config{}

	if tok == nil {
		return nil
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("config: expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("config: expected string key, got %v", tok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}

		c.Set(key, fromJSONNumbers(value))
	}

	_, err = dec.Token()

	return err
}

// MarshalYAML writes the config as a YAML mapping in insertion order.
func (c Config) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, k := range c.keys {
		var value yaml.Node
		if err := value.Encode(c.values[k]); err != nil {
			return nil, fmt.Errorf("config key %q: %w", k, err)
		}

		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&value,
		)
	}

	return node, nil
}

// UnmarshalYAML reads a YAML mapping keeping the document's key order.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	*c = Config{}

	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}

	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config: expected YAML mapping at line %d", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value

		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}

		c.Set(key, value)
	}

	return nil
}

//////
// Helpers.
//////

// ValuesEqual compares two decoded values. Numbers compare numerically
// across Go types, integers exactly; everything else uses reflect.DeepEqual.
func ValuesEqual(a, b any) bool {
	if ia, ok := asInt(a); ok {
		if ib, ok := asInt(b); ok {
			return ia == ib
		}
	}

	fa, aNum := AsFloat(a)
	fb, bNum := AsFloat(b)

	if aNum && bNum {
		return fa == fb
	}

	return reflect.DeepEqual(a, b)
}

// AsFloat converts any Go numeric value (and json.Number) to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN(), false
		}

		return f, true
	default:
		return 0, false
	}
}

// asInt widens signed and unsigned integers that fit in an int64.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	default:
		return 0, false
	}
}

// decodeJSON decodes data with json.Number in place of float64. Pass the
// untyped parts through fromJSONNumbers.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}

// fromJSONNumbers replaces json.Number values inside maps and slices, in
// place. Whole numbers become int (int64 or uint64 when they do not fit), the
// rest float64, as the YAML decoder does for the same values.
func fromJSONNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		return jsonNumber(x)
	case map[string]any:
		for k, item := range x {
			x[k] = fromJSONNumbers(item)
		}

		return x
	case []any:
		for i, item := range x {
			x[i] = fromJSONNumbers(item)
		}

		return x
	default:
		return v
	}
}

func jsonNumber(n json.Number) any {
	s := n.String()

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}

		return i
	}

	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}

	if f, err := n.Float64(); err == nil {
		return f
	}

	return s
}
