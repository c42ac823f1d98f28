package ecs

import (
	"iter"
	"math/bits"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// Mask returns the composition made of the given components' bits. Every component type must be
// registered.
func (w *World) Mask(components ...Component) (Composition, error) {
	var mask Composition
	for _, c := range components {
		store, err := w.components.lookup(c.Name())
		if err != nil {
			return 0, err
		}
		mask = mask.With(store.Bit())
	}
	return mask, nil
}

// Query yields the live entities whose composition contains every bit of with and none of the bits
// of without, in ascending ID order.
//
// Matches are computed up front by intersecting the membership bitmaps of the with components, so
// mutating stores while iterating is safe. Entities that stop matching before they are reached are
// skipped.
func (w *World) Query(with, without Composition) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		if with == 0 {
			for e := range w.Entities() {
				rec := w.entities.records[e.ID()]
				if !rec.composition.Intersects(without) && !yield(e) {
					return
				}
			}
			return
		}

		matches, ok := w.intersect(with)
		if !ok {
			return
		}

		for word, block := range matches {
			for ; block != 0; block &= block - 1 {
				id := EntityID(word<<6 + bits.TrailingZeros64(block)) //nolint:gosec // bitmap holds uint32 IDs
				rec := w.entities.records[id]
				if !rec.alive || !rec.composition.Contains(with) || rec.composition.Intersects(without) {
					continue
				}
				if !yield(newEntity(id, rec.generation)) {
					return
				}
			}
		}
	}
}

// Count returns the number of entities Query would yield.
func (w *World) Count(with, without Composition) int {
	if without == 0 && with != 0 {
		matches, ok := w.intersect(with)
		if !ok {
			return 0
		}
		return matches.Count()
	}
	n := 0
	for range w.Query(with, without) {
		n++
	}
	return n
}

// intersect ANDs the membership bitmaps of every component in mask. Returns false if the mask
// references an unregistered component.
func (w *World) intersect(mask Composition) (bitmap.Bitmap, bool) {
	var result bitmap.Bitmap
	first := true
	for bit := range mask.Bits() {
		if int(bit) >= len(w.components.stores) {
			return nil, false
		}
		members := w.components.stores[bit].members()
		if first {
			result = members.Clone(nil)
			first = false
			continue
		}
		result.And(*members)
	}
	return result, true
}

// Each calls fn for every entity that has component T, in storage order, and stops at the first
// error.
func Each[T Component](w *World, fn func(Entity, *T) error) error {
	store, err := StoreOf[T](w)
	if err != nil {
		return err
	}
	for e, c := range store.All() {
		if err := fn(e, c); err != nil {
			return eris.Wrapf(err, "failed on entity %s", e)
		}
	}
	return nil
}
