package ecs

import "github.com/rotisserie/eris"

var (
	// ErrInvalidEntity is returned when an operation references an entity that was never issued or
	// has since been destroyed. Stale handles to a recycled ID also fail with this error.
	ErrInvalidEntity = eris.New("invalid entity")

	// ErrDuplicateComponent is returned when adding a component type the entity already has.
	ErrDuplicateComponent = eris.New("entity already has component")

	// ErrComponentNotFound is returned when getting or removing a component type the entity lacks.
	ErrComponentNotFound = eris.New("entity does not have component")

	// ErrInvalidComposition is returned when an entity does not satisfy the composition an
	// operation requires.
	ErrInvalidComposition = eris.New("entity does not satisfy required composition")

	// ErrComponentNotRegistered is returned when looking up a store for an unregistered type.
	ErrComponentNotRegistered = eris.New("component type is not registered")

	// ErrTooManyComponents is returned when registering more than MaxComponents types.
	ErrTooManyComponents = eris.New("max number of component types exceeded")

	// ErrReentrantMutation is returned when a remove handler tries to structurally mutate the
	// store for the entity whose removal is being dispatched.
	ErrReentrantMutation = eris.New("reentrant mutation of component during its removal")
)
