package reflex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirBackend stores one file per generation, named <prefix><index>.json.
type DirBackend struct {
	Dir    string
	Prefix string
}

// NewDirBackend creates a backend rooted at dir. The directory is created on first write.
func NewDirBackend(dir, prefix string) *DirBackend {
	return &DirBackend{Dir: dir, Prefix: prefix}
}

// Path returns the file holding the given generation.
func (b *DirBackend) Path(generation int) string {
	return filepath.Join(b.Dir, fmt.Sprintf("%s%d.json", b.Prefix, generation))
}

// Read returns the stored generation or ErrGenerationNotFound.
func (b *DirBackend) Read(generation int) ([]byte, error) {
	data, err := os.ReadFile(b.Path(generation))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generation file: %w", err)
	}
	return data, nil
}

// Write stores the generation, replacing any previous file. The payload is
// written to a temporary file first and renamed into place, so a failed
// write never leaves a truncated generation behind.
func (b *DirBackend) Write(generation int, data []byte) error {
	if err := os.MkdirAll(b.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create generation directory '%s': %w", b.Dir, err)
	}
	path := b.Path(generation)
	file, err := os.CreateTemp(b.Dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for '%s': %w", path, err)
	}
	tmp := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write generation file '%s': %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write generation file '%s': %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace generation file '%s': %w", path, err)
	}
	return nil
}
