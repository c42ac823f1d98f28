package transform

import "github.com/rotisserie/eris"

var (
	// ErrHierarchyCycle is returned when a reparent would make an entity its own ancestor.
	ErrHierarchyCycle = eris.New("reparenting would create a cycle")

	// ErrNotChild is returned when removing a child from an entity that is not its parent.
	ErrNotChild = eris.New("entity is not a child of the given parent")
)
