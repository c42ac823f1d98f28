// Package snapshot persists encoded scenes so an engine can checkpoint and later restore its state.
package snapshot

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Snapshot is a point-in-time capture of a scene.
type Snapshot struct {
	Frame     uint64    `json:"frame"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
	Version   uint32    `json:"version"`
}

const CurrentVersion uint32 = 1

var ErrSnapshotNotFound = eris.New("snapshot not found")

// Storage provides persistence for snapshots.
// Implementations keep the previous snapshot as a backup when they can.
type Storage interface {
	// Store saves the snapshot, atomically replacing any existing snapshot.
	Store(ctx context.Context, snapshot *Snapshot) error

	// Load retrieves the current snapshot.
	// Returns ErrSnapshotNotFound if no snapshot exists.
	Load(ctx context.Context) (*Snapshot, error)
}

// StorageType defines the type of snapshot storage to use.
type StorageType uint8

const (
	StorageTypeUndefined StorageType = iota
	StorageTypeNop
	StorageTypeMemory
	StorageTypeRedis
)

const (
	nopStorageString       = "NOP"
	memoryStorageString    = "MEMORY"
	redisStorageString     = "REDIS"
	undefinedStorageString = "UNDEFINED"
)

func (s StorageType) String() string {
	switch s {
	case StorageTypeUndefined:
		return undefinedStorageString
	case StorageTypeNop:
		return nopStorageString
	case StorageTypeMemory:
		return memoryStorageString
	case StorageTypeRedis:
		return redisStorageString
	default:
		return undefinedStorageString
	}
}

func (s StorageType) IsValid() bool {
	return s == StorageTypeNop || s == StorageTypeMemory || s == StorageTypeRedis
}

func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToUpper(s) {
	case nopStorageString:
		return StorageTypeNop, nil
	case memoryStorageString:
		return StorageTypeMemory, nil
	case redisStorageString:
		return StorageTypeRedis, nil
	default:
		return StorageTypeUndefined, eris.Errorf("invalid snapshot storage type: %s", s)
	}
}
