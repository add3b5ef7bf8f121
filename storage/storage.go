// Package storage reads seed data and writes exported artifacts, locally or
// in S3.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Loader reads one artifact.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
}

// Writer stores named artifacts.
type Writer interface {
	Write(ctx context.Context, name string, data []byte) error
}

var ErrNotFound = errors.New("not found")

// TestLoader is a simple in-memory implementation for testing
type TestLoader struct {
	data []byte
	err  error
}

func NewTestLoader(data []byte) *TestLoader {
	return &TestLoader{data: data}
}

func NewTestLoaderWithError() *TestLoader {
	return &TestLoader{err: ErrNotFound}
}

func (t *TestLoader) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}

// MemoryWriter keeps written artifacts in memory.
type MemoryWriter struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{files: make(map[string][]byte)}
}

func (m *MemoryWriter) Write(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryWriter) Get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	return b, ok
}

// Names returns the written artifact names in order.
func (m *MemoryWriter) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
