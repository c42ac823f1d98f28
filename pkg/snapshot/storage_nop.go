package snapshot

import (
	"context"

	"github.com/rotisserie/eris"
)

// NopStorage discards every snapshot. It is the default when no persistence is configured, so
// Checkpoint always succeeds and Restore always reports ErrSnapshotNotFound.
type NopStorage struct{}

var _ Storage = (*NopStorage)(nil)

// NewNopStorage creates a new no-op snapshot storage.
func NewNopStorage() *NopStorage {
	return &NopStorage{}
}

func (n *NopStorage) Store(_ context.Context, _ *Snapshot) error {
	return nil
}

func (n *NopStorage) Load(_ context.Context) (*Snapshot, error) {
	return nil, eris.Wrap(ErrSnapshotNotFound, "snapshot storage is disabled")
}
