package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PayloadStore writes binary payloads (screenshot bytes, clipboard
// images) as files under a content directory. Paths are derived from
// the record's timestamp plus its id, so no two writers ever touch the
// same file.
type PayloadStore struct {
	root string
}

// NewPayloadStore creates the payload root directory if needed.
func NewPayloadStore(root string) (*PayloadStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create payload dir: %w", err)
	}
	return &PayloadStore{root: root}, nil
}

// PathFor derives the payload path for a record: one subdirectory per
// day, file named <unix-millis>-<id>.<ext>.
func (p *PayloadStore) PathFor(id string, createdAt time.Time, ext string) string {
	day := createdAt.UTC().Format("20060102")
	name := fmt.Sprintf("%d-%s.%s", createdAt.UnixMilli(), id, ext)
	return filepath.Join(p.root, day, name)
}

// Write stores data at path, creating the day directory as needed.
func (p *PayloadStore) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create payload subdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write payload %s: %w", path, err)
	}
	return nil
}

// Read returns the payload bytes at path.
func (p *PayloadStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the payload file. A missing file is not an error: the
// deletion already happened.
func (p *PayloadStore) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete payload %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a payload file is present.
func (p *PayloadStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
