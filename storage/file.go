package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type FileLoader struct {
	FilePath string
}

func NewFileLoader(filePath string) *FileLoader {
	return &FileLoader{FilePath: filePath}
}

func (f *FileLoader) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(f.FilePath)
}

// FileWriter writes artifacts below Dir, creating it on first use.
type FileWriter struct {
	Dir string
}

func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{Dir: dir}
}

func (f *FileWriter) Write(ctx context.Context, name string, data []byte) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(f.Dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
