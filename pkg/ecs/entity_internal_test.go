package ecs

import (
	"testing"

	. "github.com/argus-labs/vertex/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_Handle(t *testing.T) {
	t.Parallel()

	e := newEntity(42, 7)
	assert.Equal(t, EntityID(42), e.ID())
	assert.Equal(t, uint32(7), e.Generation())
	assert.False(t, e.IsNull())
	assert.Equal(t, "42v7", e.String())
	assert.True(t, Null.IsNull())
}

func TestEntityManager_Create(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(em *entityManager)
		wantID   EntityID
		wantGen  uint32
		wantName string
		create   string
	}{
		{
			name:     "first entity gets id 1",
			setup:    func(*entityManager) {},
			wantID:   1,
			wantName: "Entity 1",
		},
		{
			name: "watermark advances",
			setup: func(em *entityManager) {
				_, _ = em.create("")
				_, _ = em.create("")
			},
			wantID:   3,
			wantName: "Entity 3",
		},
		{
			name: "recycled id has bumped generation",
			setup: func(em *entityManager) {
				e, _ := em.create("")
				_, _ = em.create("")
				em.release(e)
			},
			wantID:   1,
			wantGen:  1,
			wantName: "camera",
			create:   "camera",
		},
		{
			name: "recycled ids are reused last in first out",
			setup: func(em *entityManager) {
				a, _ := em.create("")
				b, _ := em.create("")
				_, _ = em.create("")
				em.release(a)
				em.release(b)
			},
			wantID:   2,
			wantGen:  1,
			wantName: "Entity 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			em := newEntityManager()
			tt.setup(&em)

			e, err := em.create(tt.create)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.ID())
			assert.Equal(t, tt.wantGen, e.Generation())

			rec, err := em.record(e)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, rec.name)
			assert.Equal(t, Composition(0), rec.composition)
			assert.NotEmpty(t, em.free, "free stack must never be empty")
		})
	}
}

func TestEntityManager_Record(t *testing.T) {
	t.Parallel()

	em := newEntityManager()
	live, err := em.create("")
	require.NoError(t, err)
	dead, err := em.create("")
	require.NoError(t, err)
	em.release(dead)
	recycled, err := em.create("")
	require.NoError(t, err)
	require.Equal(t, dead.ID(), recycled.ID())

	for _, e := range []Entity{Null, newEntity(99, 0), dead} {
		_, err := em.record(e)
		require.ErrorIs(t, err, ErrInvalidEntity, "entity %s", e)
	}
	for _, e := range []Entity{live, recycled} {
		_, err := em.record(e)
		require.NoError(t, err)
	}

	handle, err := em.handle(recycled.ID())
	require.NoError(t, err)
	assert.Equal(t, recycled, handle)
	_, err = em.handle(0)
	require.ErrorIs(t, err, ErrInvalidEntity)
}

func TestEntityManager_Exhausted(t *testing.T) {
	t.Parallel()

	em := newEntityManager()
	em.free = []EntityID{MaxEntityID + 1}

	_, err := em.create("")
	require.Error(t, err)
	assert.Equal(t, []EntityID{MaxEntityID + 1}, em.free)
}

// -------------------------------------------------------------------------------------------------
// Model-Based Fuzzing
//
// Random create/release sequences checked against a map of live handles. Properties: live IDs are
// unique, never 0, and a recycled ID starts with an empty composition and a fresh generation.
// -------------------------------------------------------------------------------------------------

type entityOp uint8

const (
	opCreate  entityOp = 60
	opRelease entityOp = 40
)

func TestEntityManager_ModelBasedFuzz(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)

	em := newEntityManager()
	live := make(map[EntityID]Entity)
	generations := make(map[EntityID]uint32)

	const opsMax = 1 << 14
	for range opsMax {
		switch RandWeightedOp(prng, []entityOp{opCreate, opRelease}) {
		case opCreate:
			e, err := em.create(RandName(prng, 6))
			require.NoError(t, err)
			require.NotZero(t, e.ID())

			_, taken := live[e.ID()]
			require.False(t, taken, "id %d issued twice", e.ID())
			if gen, seen := generations[e.ID()]; seen {
				assert.Equal(t, gen+1, e.Generation(), "recycled id %d generation", e.ID())
			}
			rec, err := em.record(e)
			require.NoError(t, err)
			assert.Equal(t, Composition(0), rec.composition)
			live[e.ID()] = e

		case opRelease:
			if len(live) == 0 {
				continue
			}
			id := RandMapKey(prng, live)
			e := live[id]
			em.release(e)
			delete(live, id)
			generations[id] = e.Generation()

			_, err := em.record(e)
			require.ErrorIs(t, err, ErrInvalidEntity)
		}
	}

	assert.Equal(t, len(live), em.alive)
}
