package ecs

import (
	"fmt"
	"math"
	"strconv"

	"github.com/argus-labs/vertex/pkg/assert"
	"github.com/rotisserie/eris"
)

// EntityID is the recyclable integer identity of an entity. ID 0 is reserved for Null and is
// never issued.
type EntityID uint32

// MaxEntityID is the largest entity ID that can be issued.
const MaxEntityID EntityID = math.MaxUint32 - 1

// Entity is a lightweight handle to an entity: the ID in the low 32 bits and the generation of the
// ID's slot in the high 32 bits. Handles are plain values and can be copied freely; they do not own
// the entity. Destroying an entity bumps its slot generation, so handles taken before the destroy
// are rejected with ErrInvalidEntity even after the ID is recycled.
type Entity uint64

// Null is the null entity handle.
const Null Entity = 0

func newEntity(id EntityID, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(id))
}

// ID returns the entity's ID.
func (e Entity) ID() EntityID { return EntityID(uint32(e)) }

// Generation returns the generation of the entity's ID slot at the time the handle was issued.
func (e Entity) Generation() uint32 { return uint32(e >> 32) }

// IsNull reports whether e is the null handle.
func (e Entity) IsNull() bool { return e.ID() == 0 }

func (e Entity) String() string {
	return strconv.FormatUint(uint64(e.ID()), 10) + "v" + strconv.FormatUint(uint64(e.Generation()), 10)
}

// entityRecord is the identity state of one ID slot.
type entityRecord struct {
	alive       bool
	generation  uint32
	composition Composition
	name        string
}

// entityManager issues and recycles entity IDs and owns each entity's composition and name.
//
// The free list is a stack that always holds at least one element: the watermark, the lowest ID
// never issued. Popping the watermark pushes watermark+1, so recycled IDs are reused LIFO before
// fresh ones.
type entityManager struct {
	free    []EntityID     // Stack of reusable IDs, watermark at the bottom
	records []entityRecord // Indexed by ID, slot 0 unused
	alive   int            // Number of live entities
}

// newEntityManager creates an entity manager whose first issued ID is 1.
func newEntityManager() entityManager {
	const initialCapacity = 256
	return entityManager{
		free:    []EntityID{1},
		records: make([]entityRecord, 1, initialCapacity),
		alive:   0,
	}
}

// create issues an ID and initializes its record. A blank name defaults to "Entity <id>".
func (em *entityManager) create(name string) (Entity, error) {
	assert.That(len(em.free) > 0, "free stack must never be empty")

	last := len(em.free) - 1
	id := em.free[last]
	if id > MaxEntityID {
		return Null, eris.New("max number of entities exceeded")
	}
	em.free = em.free[:last]
	if len(em.free) == 0 {
		// The popped ID was the watermark.
		em.free = append(em.free, id+1)
	}

	if int(id) == len(em.records) {
		em.records = append(em.records, entityRecord{})
	}
	assert.That(int(id) < len(em.records), "watermark skipped ID %d", id)

	rec := &em.records[id]
	assert.That(!rec.alive, "issued live ID %d", id)
	if name == "" {
		name = fmt.Sprintf("Entity %d", id)
	}
	rec.alive = true
	rec.composition = 0
	rec.name = name
	em.alive++

	return newEntity(id, rec.generation), nil
}

// release erases the entity's record, invalidates outstanding handles, and makes the ID reusable.
// Expects the caller to have validated the handle.
func (em *entityManager) release(e Entity) {
	rec := &em.records[e.ID()]
	assert.That(rec.alive && rec.generation == e.Generation(), "released invalid entity %s", e)
	assert.That(rec.composition == 0, "released entity %s with components attached", e)

	rec.alive = false
	rec.generation++
	rec.composition = 0
	rec.name = ""
	em.alive--
	em.free = append(em.free, e.ID())
}

// record returns the live record of the handle or ErrInvalidEntity. The pointer is valid until the
// next create.
func (em *entityManager) record(e Entity) (*entityRecord, error) {
	id := e.ID()
	if id == 0 || int(id) >= len(em.records) {
		return nil, eris.Wrapf(ErrInvalidEntity, "entity %s was never issued", e)
	}
	rec := &em.records[id]
	if !rec.alive || rec.generation != e.Generation() {
		return nil, eris.Wrapf(ErrInvalidEntity, "entity %s has been destroyed", e)
	}
	return rec, nil
}

// handle returns the current handle of a live ID.
func (em *entityManager) handle(id EntityID) (Entity, error) {
	if id == 0 || int(id) >= len(em.records) || !em.records[id].alive {
		return Null, eris.Wrapf(ErrInvalidEntity, "entity id %d is not alive", id)
	}
	return newEntity(id, em.records[id].generation), nil
}
