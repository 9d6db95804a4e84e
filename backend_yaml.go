package xp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const yamlRecordsDir = "records"

// yamlBackend keeps one human-readable YAML file per Observation under
// <dir>/records/<id>.yaml. Each file holds three documents in order: config,
// result and metadata.
type yamlBackend struct {
	dir string
}

// NewYAMLBackend returns the structured backend registered as "yaml".
func NewYAMLBackend(dir string) Backend {
	return &yamlBackend{dir: dir}
}

func (b *yamlBackend) Name() string { return "yaml" }

func (b *yamlBackend) CoreFiles() []string {
	return []string{yamlRecordsDir}
}

func (b *yamlBackend) path(id string) string {
	return filepath.Join(b.dir, yamlRecordsDir, id+".yaml")
}

func (b *yamlBackend) Save(_ context.Context, obs *Observation) error {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	for _, section := range []any{obs.Config, obs.Result, obs.Metadata} {
		if err := enc.Encode(section); err != nil {
			return fmt.Errorf("%w: %s: encode: %v", ErrSaveFailed, obs.ID, err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: %s: encode: %v", ErrSaveFailed, obs.ID, err)
	}

	if err := writeFileAtomic(b.path(obs.ID), buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, obs.ID, err)
	}

	return nil
}

func (b *yamlBackend) LoadAll(ctx context.Context) ([]*Observation, error) {
	names, err := recordFiles(filepath.Join(b.dir, yamlRecordsDir), ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	out := make([]*Observation, 0, len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs, err := b.load(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, err
		}

		out = append(out, obs)
	}

	return out, nil
}

func (b *yamlBackend) load(id string) (*Observation, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}

	obs := &Observation{ID: id}
	dec := yaml.NewDecoder(bytes.NewReader(data))

	for i, section := range []any{&obs.Config, &obs.Result, &obs.Metadata} {
		if err := dec.Decode(section); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %s: missing section %d", ErrLoadFailed, id, i+1)
			}

			return nil, fmt.Errorf("%w: %s: decode: %v", ErrLoadFailed, id, err)
		}
	}

	if obs.Metadata == nil {
		obs.Metadata = map[string]any{}
	}

	return obs, nil
}

func (b *yamlBackend) IdentifierExists(_ context.Context, id string) (bool, error) {
	return fileExists(b.path(id))
}
