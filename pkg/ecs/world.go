package ecs

import (
	"iter"
	"reflect"
	"slices"

	"github.com/argus-labs/vertex/pkg/assert"
	"github.com/rotisserie/eris"
)

// World owns the entity identity registry and one store per registered component type. Worlds
// are independent of each other. A World is not safe for concurrent use; all access must happen on
// the goroutine that drives the simulation.
type World struct {
	entities   entityManager    // Issues IDs, owns compositions and names
	components componentManager // Registered component stores
	destroying []EntityID       // Entities whose Destroy is in progress

	onCreate  Signal[Entity]
	onDestroy Signal[Entity]
}

// NewWorld creates an empty World.
func NewWorld() *World {
	return &World{
		entities:   newEntityManager(),
		components: newComponentManager(),
	}
}

// OnCreate returns the signal emitted after an entity is created.
func (w *World) OnCreate() *Signal[Entity] { return &w.onCreate }

// OnDestroy returns the signal emitted when an entity is about to be destroyed, before any of its
// components are removed.
func (w *World) OnDestroy() *Signal[Entity] { return &w.onDestroy }

// Create creates an entity without any components. The optional name defaults to "Entity <id>".
func (w *World) Create(name ...string) (Entity, error) {
	var n string
	if len(name) > 0 {
		n = name[0]
	}
	e, err := w.entities.create(n)
	if err != nil {
		return Null, err
	}
	w.onCreate.Emit(e)
	return e, nil
}

// Destroy removes every component of the entity, in ascending component ID order, then releases
// its ID for reuse. Handles to the entity become invalid.
func (w *World) Destroy(e Entity) error {
	if _, err := w.entities.record(e); err != nil {
		return err
	}
	if w.isDestroying(e.ID()) || w.removalInProgress(e.ID()) {
		return eris.Wrapf(ErrReentrantMutation, "destroy of entity %s", e)
	}

	w.destroying = append(w.destroying, e.ID())
	defer func() {
		i := slices.Index(w.destroying, e.ID())
		w.destroying = slices.Delete(w.destroying, i, i+1)
	}()

	w.onDestroy.Emit(e)

	// Re-read the composition each round since remove handlers may remove other components of this
	// entity. Adds to it are rejected while it is being destroyed, so this terminates.
	for {
		rec, err := w.entities.record(e)
		assert.That(err == nil, "entity %s destroyed during teardown", e)
		if rec.composition == 0 {
			break
		}
		var bit ComponentID
		for b := range rec.composition.Bits() {
			bit = b
			break
		}
		if err := w.components.stores[bit].RemoveComponent(e); err != nil {
			return eris.Wrapf(err, "failed to remove component %s from entity %s",
				w.components.stores[bit].Name(), e)
		}
	}

	w.entities.release(e)
	return nil
}

// Alive reports whether the handle refers to a live entity.
func (w *World) Alive(e Entity) bool {
	_, err := w.entities.record(e)
	return err == nil
}

// Entity returns the current handle of a live entity ID. Handles are non-owning references, so
// re-wrapping an ID any number of times is safe.
func (w *World) Entity(id EntityID) (Entity, error) {
	return w.entities.handle(id)
}

// CompositionOf returns the entity's component bitmask.
func (w *World) CompositionOf(e Entity) (Composition, error) {
	rec, err := w.entities.record(e)
	if err != nil {
		return 0, err
	}
	return rec.composition, nil
}

// NameOf returns the entity's display name.
func (w *World) NameOf(e Entity) (string, error) {
	rec, err := w.entities.record(e)
	if err != nil {
		return "", err
	}
	return rec.name, nil
}

// SetName renames the entity. A blank name is rejected.
func (w *World) SetName(e Entity, name string) error {
	rec, err := w.entities.record(e)
	if err != nil {
		return err
	}
	if name == "" {
		return eris.New("entity name cannot be empty")
	}
	rec.name = name
	return nil
}

// Require returns ErrInvalidComposition unless the entity has every component in mask.
func (w *World) Require(e Entity, mask Composition) error {
	composition, err := w.CompositionOf(e)
	if err != nil {
		return err
	}
	if !composition.Contains(mask) {
		return eris.Wrapf(ErrInvalidComposition, "entity %s has %064b, requires %064b", e, composition, mask)
	}
	return nil
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return w.entities.alive
}

// Entities yields every live entity in ascending ID order.
func (w *World) Entities() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for id := 1; id < len(w.entities.records); id++ {
			rec := w.entities.records[id]
			if !rec.alive {
				continue
			}
			if !yield(newEntity(EntityID(id), rec.generation)) { //nolint:gosec // bounded by MaxEntityID
				return
			}
		}
	}
}

// Stores returns every registered store in component ID order.
func (w *World) Stores() []ComponentStore {
	return slices.Clone(w.components.stores)
}

// StoreByName returns the store registered under the component name.
func (w *World) StoreByName(name string) (ComponentStore, error) {
	return w.components.lookup(name)
}

// ComponentTypes returns a map of component names to their reflect.Type.
func (w *World) ComponentTypes() map[string]reflect.Type {
	types := make(map[string]reflect.Type, len(w.components.types))
	for name, typ := range w.components.types {
		types[name] = typ
	}
	return types
}

func (w *World) isDestroying(id EntityID) bool {
	return slices.Contains(w.destroying, id)
}

func (w *World) removalInProgress(id EntityID) bool {
	for _, store := range w.components.stores {
		if store.removalInProgress(id) {
			return true
		}
	}
	return false
}
