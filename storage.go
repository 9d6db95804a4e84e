package xp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// LabelFile marks a directory as holding an experiment and names its
	// backend.
	LabelFile = ".xp.yaml"

	// StorageDir holds one scratch directory per observation id.
	StorageDir = "storage"
)

// Label is the content of LabelFile.
type Label struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
	Code    string `yaml:"code"`
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never see a partial record.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return err
	}

	return nil
}

// ensureWritable creates dir and proves it accepts files.
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageRoot, dir, err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageRoot, dir, err)
	}

	name := probe.Name()
	probe.Close()
	os.Remove(name)

	return nil
}

// recordFiles lists record files with the given extension in dir, sorted by
// name. Hidden files (temp files among them) are skipped. A missing dir is
// an empty store.
func recordFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var names []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ext {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// ReadLabel loads the label of an experiment directory.
func ReadLabel(dir string) (*Label, error) {
	data, err := os.ReadFile(filepath.Join(dir, LabelFile))
	if err != nil {
		return nil, fmt.Errorf("%s does not hold an experiment: %w", dir, err)
	}

	var label Label
	if err := yaml.Unmarshal(data, &label); err != nil {
		return nil, fmt.Errorf("parse %s: %w", LabelFile, err)
	}

	return &label, nil
}

func writeLabel(dir string, label Label) error {
	data, err := yaml.Marshal(label)
	if err != nil {
		return err
	}

	return writeFileAtomic(filepath.Join(dir, LabelFile), data)
}

// Open reconstructs the backend of an existing experiment directory from its
// label. Used by tooling that has no access to the computation itself.
func Open(dir string) (Backend, *Label, error) {
	label, err := ReadLabel(dir)
	if err != nil {
		return nil, nil, err
	}

	b, err := NewBackend(label.Backend, dir)
	if err != nil {
		return nil, nil, err
	}

	return b, label, nil
}

// artefacts lists the files saved under the scratch directory of id.
func artefacts(dir, id string) ([]string, error) {
	root := filepath.Join(dir, StorageDir, id)

	var files []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == root {
				return filepath.SkipAll
			}

			return err
		}

		if !d.IsDir() {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
