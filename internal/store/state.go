package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"meshmon/internal/history"
	"meshmon/internal/model"
)

const (
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"

	DefaultYAMLPath   = "meshmon-state.yaml"
	DefaultSQLitePath = "meshmon-state.db"
)

// Persister saves and restores the history store.
type Persister interface {
	history.Saver
	// Load returns the saved snapshot, or nil when nothing was saved yet.
	Load() (*history.Snapshot, error)
	Close() error
}

// Open returns the persister for backend at path. An empty path uses the
// backend's default file name.
func Open(backend, path string) (Persister, error) {
	switch backend {
	case "", BackendYAML:
		if path == "" {
			path = DefaultYAMLPath
		}
		return NewYAMLFile(path), nil
	case BackendSQLite:
		if path == "" {
			path = DefaultSQLitePath
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", backend)
	}
}

// stateFile is the on-disk layout of the YAML backend.
type stateFile struct {
	UpdatedAt time.Time            `yaml:"updated_at"`
	Counts    map[string]int       `yaml:"counts"`
	Messages  []model.MessageEntry `yaml:"messages"`
	Packets   []model.PacketEntry  `yaml:"packets"`
}

// YAMLFile keeps the snapshot in one YAML file, rewritten in full on every
// save through a temporary file and rename.
type YAMLFile struct {
	path string
}

func NewYAMLFile(path string) *YAMLFile {
	return &YAMLFile{path: path}
}

// Load reads the snapshot. A missing file means nothing was saved yet.
func (f *YAMLFile) Load() (*history.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var st stateFile
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return &history.Snapshot{Counts: st.Counts, Messages: st.Messages, Packets: st.Packets}, nil
}

// Save writes the snapshot to disk.
func (f *YAMLFile) Save(snap history.Snapshot) error {
	st := stateFile{
		UpdatedAt: time.Now().UTC(),
		Counts:    snap.Counts,
		Messages:  snap.Messages,
		Packets:   snap.Packets,
	}
	data, err := yaml.Marshal(&st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *YAMLFile) Close() error { return nil }
