package ecs

import (
	"iter"
	"math/bits"
)

// MaxComponents is the maximum number of component types a World can register. It matches the
// width of Composition.
const MaxComponents = 64

// ComponentID is the bit a component type occupies in a Composition. IDs are assigned in
// registration order starting at 0.
type ComponentID = uint8

// Composition is a fixed-width bitmask with one bit per registered component type. Bit b is set for
// an entity if and only if the store for component b holds a component for that entity.
type Composition uint64

// Has reports whether the bit for the given component is set.
func (c Composition) Has(id ComponentID) bool {
	return c&(1<<id) != 0
}

// Contains reports whether every bit of mask is also set in c.
func (c Composition) Contains(mask Composition) bool {
	return c&mask == mask
}

// Intersects reports whether c and mask share at least one bit.
func (c Composition) Intersects(mask Composition) bool {
	return c&mask != 0
}

// With returns a copy of c with the component bit set.
func (c Composition) With(id ComponentID) Composition {
	return c | 1<<id
}

// Without returns a copy of c with the component bit cleared.
func (c Composition) Without(id ComponentID) Composition {
	return c &^ (1 << id)
}

// Count returns the number of component types in the composition.
func (c Composition) Count() int {
	return bits.OnesCount64(uint64(c))
}

// Bits yields the set component IDs in ascending order.
func (c Composition) Bits() iter.Seq[ComponentID] {
	return func(yield func(ComponentID) bool) {
		for rest := uint64(c); rest != 0; rest &= rest - 1 {
			if !yield(ComponentID(bits.TrailingZeros64(rest))) {
				return
			}
		}
	}
}
