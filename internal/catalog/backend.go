package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Document string

const (
	DocumentState    Document = "state"
	DocumentVersions Document = "versions"
	DocumentSettings Document = "settings"
)

var Documents = []Document{DocumentState, DocumentVersions, DocumentSettings}

func (d Document) FileName() string {
	switch d {
	case DocumentState:
		return "data.json"
	case DocumentVersions:
		return "versions.json"
	case DocumentSettings:
		return "settings.json"
	}
	return string(d) + ".json"
}

// DocumentBackend persists the three independently stored documents. Load
// returns nil, nil for a document that was never saved. Save must be atomic.
type DocumentBackend interface {
	Load(ctx context.Context, doc Document) ([]byte, error)
	Save(ctx context.Context, doc Document, data []byte) error
}

type documentBackendCloser interface {
	Close() error
}

type JSONFileBackend struct {
	Dir     string
	release func() error
}

// OpenJSONFileBackend creates dir when needed and takes an exclusive lock on
// it for the lifetime of the backend.
func OpenJSONFileBackend(dir string) (*JSONFileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	release, err := lockDirectory(dir)
	if err != nil {
		return nil, err
	}
	return &JSONFileBackend{Dir: dir, release: release}, nil
}

func (b *JSONFileBackend) Path(doc Document) string {
	return filepath.Join(b.Dir, doc.FileName())
}

func (b *JSONFileBackend) Load(_ context.Context, doc Document) ([]byte, error) {
	data, err := os.ReadFile(b.Path(doc))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *JSONFileBackend) Save(_ context.Context, doc Document, data []byte) error {
	return writeFileAtomic(b.Path(doc), data, 0o644)
}

func (b *JSONFileBackend) Close() error {
	if b == nil || b.release == nil {
		return nil
	}
	release := b.release
	b.release = nil
	return release()
}

type MemoryBackend struct {
	mu   sync.Mutex
	docs map[Document][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: map[Document][]byte{}}
}

func (b *MemoryBackend) Load(_ context.Context, doc Document) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.docs[doc]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, doc Document, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[doc] = append([]byte(nil), data...)
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
