package ecs

import (
	"reflect"

	"github.com/argus-labs/vertex/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// Component is the interface that all components must implement.
// Components are pure data containers that can be attached to entities.
type Component interface { //nolint:iface // We may add more methods in the future.
	// Name returns a unique string identifier for the component type.
	// This should be consistent across program executions.
	Name() string
}

// Remover is the minimal capability World.Destroy needs from a store: removing one entity's
// component without knowing the component's type.
type Remover interface {
	RemoveComponent(e Entity) error
}

// ComponentStore is the type-erased view of a Store, used for bulk operations that span component
// types such as entity teardown and scene serialization.
type ComponentStore interface {
	Remover

	// Name returns the component name.
	Name() string
	// Bit returns the component's bit in a Composition.
	Bit() ComponentID
	// Len returns the number of stored components.
	Len() int
	// Has reports whether the entity has this component.
	Has(e Entity) bool
	// Encode returns the serialized bytes of the entity's component.
	Encode(e Entity) ([]byte, error)
	// DecodeInto deserializes data and adds it to the entity as this component.
	DecodeInto(e Entity, data []byte) error

	members() *bitmap.Bitmap
	removalInProgress(id EntityID) bool
}

// componentManager manages component type registration and lookup.
type componentManager struct {
	catalog map[string]ComponentID  // Component name -> component ID
	stores  []ComponentStore        // Component ID -> store
	types   map[string]reflect.Type // Component name -> Go type
}

// newComponentManager creates a new component manager.
func newComponentManager() componentManager {
	return componentManager{
		catalog: make(map[string]ComponentID),
		stores:  make([]ComponentStore, 0, MaxComponents),
		types:   make(map[string]reflect.Type),
	}
}

// lookup returns a component's store given its name.
func (cm *componentManager) lookup(name string) (ComponentStore, error) {
	id, exists := cm.catalog[name]
	if !exists {
		return nil, eris.Wrapf(ErrComponentNotRegistered, "component %s", name)
	}
	return cm.stores[id], nil
}

// Register registers component type T with the world and returns its store. Registering the same
// type again returns the existing store. Fails if the name is empty, already taken by a different
// Go type, or if MaxComponents types are already registered.
func Register[T Component](w *World) (*Store[T], error) {
	var zero T
	name := zero.Name()
	if name == "" {
		return nil, eris.New("component name cannot be empty")
	}

	cm := &w.components
	if id, exists := cm.catalog[name]; exists {
		store, ok := cm.stores[id].(*Store[T])
		if !ok {
			return nil, eris.Errorf("component name %s already registered for type %s", name, cm.types[name])
		}
		return store, nil
	}

	if len(cm.stores) >= MaxComponents {
		return nil, eris.Wrapf(ErrTooManyComponents, "registering %s", name)
	}

	id := ComponentID(len(cm.stores))
	store := newStore[T](w, id, name)
	cm.catalog[name] = id
	cm.stores = append(cm.stores, store)
	cm.types[name] = reflect.TypeFor[T]()
	assert.That(int(id)+1 == len(cm.stores), "component id doesn't match number of components")

	return store, nil
}

// StoreOf returns the store of a registered component type.
func StoreOf[T Component](w *World) (*Store[T], error) {
	var zero T
	store, err := w.components.lookup(zero.Name())
	if err != nil {
		return nil, err
	}
	typed, ok := store.(*Store[T])
	if !ok {
		return nil, eris.Errorf("component %s is registered for type %s", zero.Name(), w.components.types[zero.Name()])
	}
	return typed, nil
}

// Has reports whether the entity has component T. Returns false if T is not registered or the
// entity is not alive.
func Has[T Component](w *World, e Entity) bool {
	store, err := StoreOf[T](w)
	if err != nil {
		return false
	}
	return store.Has(e)
}
