package xp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const jsonRecordsDir = "observations"

// jsonBackend keeps one JSON document per Observation under
// <dir>/observations/<id>.json.
type jsonBackend struct {
	dir string
}

// NewJSONBackend returns the per-Observation-file backend registered as
// "json".
func NewJSONBackend(dir string) Backend {
	return &jsonBackend{dir: dir}
}

func (b *jsonBackend) Name() string { return "json" }

func (b *jsonBackend) CoreFiles() []string {
	return []string{jsonRecordsDir}
}

func (b *jsonBackend) path(id string) string {
	return filepath.Join(b.dir, jsonRecordsDir, id+".json")
}

func (b *jsonBackend) Save(_ context.Context, obs *Observation) error {
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %s: encode: %v", ErrSaveFailed, obs.ID, err)
	}

	if err := writeFileAtomic(b.path(obs.ID), data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, obs.ID, err)
	}

	return nil
}

func (b *jsonBackend) LoadAll(ctx context.Context) ([]*Observation, error) {
	names, err := recordFiles(filepath.Join(b.dir, jsonRecordsDir), ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	out := make([]*Observation, 0, len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs, err := b.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		out = append(out, obs)
	}

	return out, nil
}

func (b *jsonBackend) load(id string) (*Observation, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}

	var obs Observation
	if err := decodeJSON(data, &obs); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", ErrLoadFailed, id, err)
	}

	obs.Result = fromJSONNumbers(obs.Result)

	if obs.Metadata == nil {
		obs.Metadata = map[string]any{}
	}

	fromJSONNumbers(obs.Metadata)

	return &obs, nil
}

func (b *jsonBackend) IdentifierExists(_ context.Context, id string) (bool, error) {
	return fileExists(b.path(id))
}
