package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// MemoryStore keeps the state document in memory. Used by tests and by the
// simulate command, which must never touch the real state file.
type MemoryStore struct {
	data []byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the last saved document, or a fresh one.
func (s *MemoryStore) Load(ctx context.Context) (*Document, error) {
	if s.data == nil {
		return NewDocument(), nil
	}
	doc := NewDocument()
	if err := json.Unmarshal(s.data, doc); err != nil {
		return nil, fmt.Errorf("unmarshal in-memory state: %w", err)
	}
	doc.ensureMaps()
	return doc, nil
}

// Save serialises the document, mirroring the round trip of the file store.
func (s *MemoryStore) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal in-memory state: %w", err)
	}
	s.data = data
	return nil
}

var _ Store = (*MemoryStore)(nil)
