package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk layout of FileBackend.
type fileDocument struct {
	UpdatedAt time.Time         `yaml:"updated_at"`
	Values    map[string]string `yaml:"values"`
}

// FileBackend persists values in a YAML file readable only by the current
// user. Writes go to a temp file that is renamed over the original, so a crash
// mid-write leaves the previous session intact.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend stores values at path. An empty path means
// $HOME/.palpalette/session.yaml.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".palpalette", "session.yaml")
	}
	return &FileBackend{path: path}, nil
}

// Path returns the file location.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", err
	}

	v, ok := doc.Values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) Apply(_ context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}

	maps.Copy(doc.Values, b.Set)
	for _, key := range b.Delete {
		delete(doc.Values, key)
	}
	doc.UpdatedAt = time.Now().UTC()

	return f.save(doc)
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) load() (*fileDocument, error) {
	doc := &fileDocument{Values: make(map[string]string)}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("tokenstore: read %s: %w", f.path, err)
	}

	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("tokenstore: parse %s: %w", f.path, err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	return doc, nil
}

func (f *FileBackend) save(doc *fileDocument) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("tokenstore: create dir: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tokenstore: rename temp file: %w", err)
	}
	return nil
}
