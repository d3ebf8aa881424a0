package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Store loads and saves the detector state document.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// FileStore persists the state document as a single JSON file. Saves write
// to a temp file in the same directory and rename over the target, so a
// crash mid-write leaves the previous document intact.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore constructs a file-backed store at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "state_store").Str("path", path).Logger(),
	}
}

// Load reads the state document. A missing file yields a fresh document;
// an unreadable or corrupt file also yields a fresh document with a loud
// warning, keeping the detector self-healing after corruption.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDocument(), nil
		}
		s.logger.Warn().Err(err).Msg("state file unreadable; starting from a fresh baseline, duplicate alerts are possible")
		return NewDocument(), nil
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Warn().Err(err).Msg("state file corrupt; starting from a fresh baseline, duplicate alerts are possible")
		return NewDocument(), nil
	}
	doc.ensureMaps()
	return doc, nil
}

// Save atomically replaces the state document on disk.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

// atomicWriteFile writes data to a temp file next to path and renames it
// over the target.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
