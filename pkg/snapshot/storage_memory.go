package snapshot

import (
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
)

// MemoryStorage keeps the current snapshot and the one before it in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	current *Snapshot
	backup  *Snapshot
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory snapshot storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Store(_ context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return eris.New("snapshot cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backup = m.current
	m.current = clone(snapshot)
	return nil
}

func (m *MemoryStorage) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, eris.Wrap(ErrSnapshotNotFound, "memory storage is empty")
	}
	return clone(m.current), nil
}

// Backup returns the snapshot replaced by the most recent Store.
func (m *MemoryStorage) Backup(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backup == nil {
		return nil, eris.Wrap(ErrSnapshotNotFound, "no backup snapshot")
	}
	return clone(m.backup), nil
}

func clone(s *Snapshot) *Snapshot {
	c := *s
	c.Data = slices.Clone(s.Data)
	return &c
}
