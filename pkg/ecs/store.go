package ecs

import (
	"iter"
	"slices"

	"github.com/argus-labs/vertex/pkg/assert"
	"github.com/goccy/go-json"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// ComponentEvent is the payload of a store's add and remove events. Component points into the
// store and is only valid for the duration of the handler call.
type ComponentEvent[T Component] struct {
	Entity    Entity
	Component *T
}

// ComponentUpdate is the payload of a store's set events. Previous is the replaced value and
// Component points at the new one in the store.
type ComponentUpdate[T Component] struct {
	Entity    Entity
	Previous  T
	Component *T
}

// Store holds every component of type T in a dense slice, with a sparse entity ID -> row index.
// Removal swaps the last component into the freed row, so it is O(1) but does not preserve
// iteration order.
//
// Pointers returned by Add and Get stay valid until the next Add or Remove on this store.
// Event handlers run synchronously and may call back into any store, including this one. The one
// reentrant call that is rejected is mutating the entity whose removal is being dispatched.
type Store[T Component] struct {
	world      *World
	id         ComponentID
	name       string
	components []T           // Dense component data
	owners     []Entity      // owners[row] is the entity of components[row]
	rows       sparseSet     // Entity ID -> row
	membership bitmap.Bitmap // Set of entity IDs holding T, used by queries
	removing   []EntityID    // Entities whose remove event is being dispatched

	onAdd    Signal[ComponentEvent[T]]
	onRemove Signal[ComponentEvent[T]]
	onSet    Signal[ComponentUpdate[T]]
}

var _ ComponentStore = (*Store[Component])(nil)

// newStore creates an empty store for component T.
func newStore[T Component](w *World, id ComponentID, name string) *Store[T] {
	const initialCapacity = 16
	return &Store[T]{
		world:      w,
		id:         id,
		name:       name,
		components: make([]T, 0, initialCapacity),
		owners:     make([]Entity, 0, initialCapacity),
		rows:       newSparseSet(),
	}
}

// Name returns the component name.
func (s *Store[T]) Name() string { return s.name }

// Bit returns the component's bit in a Composition.
func (s *Store[T]) Bit() ComponentID { return s.id }

// Mask returns a Composition with only this component's bit set.
func (s *Store[T]) Mask() Composition { return Composition(0).With(s.id) }

// Len returns the number of stored components.
func (s *Store[T]) Len() int { return len(s.components) }

// OnAdd returns the signal emitted after a component is added.
func (s *Store[T]) OnAdd() *Signal[ComponentEvent[T]] { return &s.onAdd }

// OnRemove returns the signal emitted before a component is removed. Handlers still see the
// component in place.
func (s *Store[T]) OnRemove() *Signal[ComponentEvent[T]] { return &s.onRemove }

// OnSet returns the signal emitted after a component is overwritten with Set. Handlers may patch
// the new value, e.g. to keep state the caller could not have known about.
func (s *Store[T]) OnSet() *Signal[ComponentUpdate[T]] { return &s.onSet }

// Add attaches a component to the entity and emits the add event.
func (s *Store[T]) Add(e Entity, component T) (*T, error) {
	rec, err := s.world.entities.record(e)
	if err != nil {
		return nil, err
	}
	if s.world.isDestroying(e.ID()) {
		return nil, eris.Wrapf(ErrInvalidEntity, "entity %s is being destroyed", e)
	}
	if rec.composition.Has(s.id) {
		return nil, eris.Wrapf(ErrDuplicateComponent, "component %s on entity %s", s.name, e)
	}

	row := len(s.components)
	s.components = append(s.components, component)
	s.owners = append(s.owners, e)
	s.rows.set(e.ID(), row)
	s.membership.Set(uint32(e.ID()))
	rec.composition = rec.composition.With(s.id)
	assert.That(len(s.components) == len(s.owners) && s.rows.size() == len(s.owners),
		"components, owners and rows out of sync")

	s.onAdd.Emit(ComponentEvent[T]{Entity: e, Component: &s.components[row]})

	// Handlers may have reordered or removed the component.
	row, ok := s.rows.get(e.ID())
	if !ok {
		return nil, eris.Wrapf(ErrComponentNotFound, "component %s removed from entity %s by add handler", s.name, e)
	}
	return &s.components[row], nil
}

// Get returns a pointer to the entity's component.
func (s *Store[T]) Get(e Entity) (*T, error) {
	row, err := s.row(e)
	if err != nil {
		return nil, err
	}
	return &s.components[row], nil
}

// Set overwrites the entity's component in place and emits the set event.
func (s *Store[T]) Set(e Entity, component T) error {
	row, err := s.row(e)
	if err != nil {
		return err
	}
	previous := s.components[row]
	s.components[row] = component
	s.onSet.Emit(ComponentUpdate[T]{Entity: e, Previous: previous, Component: &s.components[row]})
	return nil
}

// Has reports whether the entity is alive and has this component.
func (s *Store[T]) Has(e Entity) bool {
	_, err := s.row(e)
	return err == nil
}

// Remove detaches the component from the entity. The remove event is emitted before the component
// is removed and the entity's composition bit is cleared.
func (s *Store[T]) Remove(e Entity) error {
	row, err := s.row(e)
	if err != nil {
		return err
	}
	if s.removalInProgress(e.ID()) {
		return eris.Wrapf(ErrReentrantMutation, "component %s on entity %s", s.name, e)
	}

	s.removing = append(s.removing, e.ID())
	s.onRemove.Emit(ComponentEvent[T]{Entity: e, Component: &s.components[row]})
	s.removing = s.removing[:len(s.removing)-1]

	// Handlers may have added or removed other entities' components, which moves rows.
	row, ok := s.rows.get(e.ID())
	assert.That(ok, "component %s of entity %s vanished during its removal", s.name, e)
	s.swapRemove(row)

	rec, err := s.world.entities.record(e)
	assert.That(err == nil, "entity %s destroyed during component removal", e)
	rec.composition = rec.composition.Without(s.id)
	return nil
}

// RemoveComponent implements Remover.
func (s *Store[T]) RemoveComponent(e Entity) error {
	return s.Remove(e)
}

// swapRemove removes a row by moving the last row into it.
func (s *Store[T]) swapRemove(row int) {
	lastIndex := len(s.components) - 1
	assert.That(row <= lastIndex, "tried to remove row %d of %d", row, len(s.components))

	removed := s.owners[row]
	moved := s.owners[lastIndex]

	s.components[row] = s.components[lastIndex]
	s.owners[row] = moved

	// Zero the vacated slot so the store doesn't retain references held by T.
	var zero T
	s.components[lastIndex] = zero
	s.components = s.components[:lastIndex]
	s.owners = s.owners[:lastIndex]

	ok := s.rows.remove(removed.ID())
	assert.That(ok, "entity %s isn't removed from sparse set", removed)
	s.membership.Remove(uint32(removed.ID()))

	// If the removed row was the last one, nothing was swapped.
	if row != lastIndex {
		s.rows.set(moved.ID(), row)
	}
}

// row resolves the entity's row, validating the handle.
func (s *Store[T]) row(e Entity) (int, error) {
	rec, err := s.world.entities.record(e)
	if err != nil {
		return 0, err
	}
	if !rec.composition.Has(s.id) {
		return 0, eris.Wrapf(ErrComponentNotFound, "component %s on entity %s", s.name, e)
	}
	row, ok := s.rows.get(e.ID())
	assert.That(ok, "composition bit %d set for %s but no row in store", s.id, e)
	return row, nil
}

// All yields every entity and its component in storage order. The order is not stable across
// removals. Adding or removing components of this store while iterating is not supported.
func (s *Store[T]) All() iter.Seq2[Entity, *T] {
	return func(yield func(Entity, *T) bool) {
		for row := range s.components {
			if !yield(s.owners[row], &s.components[row]) {
				return
			}
		}
	}
}

// Entities returns the entities holding this component, in storage order.
func (s *Store[T]) Entities() []Entity {
	return slices.Clone(s.owners)
}

// Encode returns the entity's component encoded as JSON.
func (s *Store[T]) Encode(e Entity) ([]byte, error) {
	component, err := s.Get(e)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(component)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to serialize component %s of entity %s", s.name, e)
	}
	return data, nil
}

// Decode deserializes a component and adds it to the entity.
func (s *Store[T]) Decode(e Entity, data []byte) (*T, error) {
	var component T
	if err := json.Unmarshal(data, &component); err != nil {
		return nil, eris.Wrapf(err, "failed to deserialize component %s", s.name)
	}
	return s.Add(e, component)
}

// DecodeInto implements ComponentStore.
func (s *Store[T]) DecodeInto(e Entity, data []byte) error {
	_, err := s.Decode(e, data)
	return err
}

func (s *Store[T]) members() *bitmap.Bitmap { return &s.membership }

func (s *Store[T]) removalInProgress(id EntityID) bool {
	return slices.Contains(s.removing, id)
}
