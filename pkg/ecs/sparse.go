package ecs

import (
	"math"

	"github.com/argus-labs/vertex/pkg/assert"
)

const (
	sparsePageBits = 8
	sparsePageSize = 1 << sparsePageBits
	sparsePageMask = sparsePageSize - 1
)

// sparsePage holds the rows of sparsePageSize consecutive entity IDs. Entries are stored as row+1
// so the zero value marks an absent ID and a fresh page needs no initialization.
type sparsePage [sparsePageSize]uint32

// sparseSet maps entity IDs to dense row indices. IDs are split into a page number and a slot, and
// pages are allocated on first use, so a store that only holds high IDs does not pay for the low
// ones. Pages are never freed; IDs are recycled, so emptied pages are refilled.
type sparseSet struct {
	pages []*sparsePage
	count int // Number of IDs present
}

func newSparseSet() sparseSet {
	return sparseSet{pages: make([]*sparsePage, 0, 1)}
}

func sparseLocate(key EntityID) (page, slot int) {
	return int(key >> sparsePageBits), int(key & sparsePageMask)
}

// get returns the row for an ID and whether it exists.
func (s *sparseSet) get(key EntityID) (int, bool) {
	page, slot := sparseLocate(key)
	if page >= len(s.pages) || s.pages[page] == nil {
		return 0, false
	}
	entry := s.pages[page][slot]
	if entry == 0 {
		return 0, false
	}
	return int(entry - 1), true
}

// set stores the row for an ID, allocating its page if needed.
func (s *sparseSet) set(key EntityID, row int) {
	assert.That(row >= 0 && uint64(row) < math.MaxUint32, "row %d out of range", row)

	page, slot := sparseLocate(key)
	if page >= len(s.pages) {
		s.pages = append(s.pages, make([]*sparsePage, page+1-len(s.pages))...)
	}
	if s.pages[page] == nil {
		s.pages[page] = new(sparsePage)
	}
	if s.pages[page][slot] == 0 {
		s.count++
	}
	s.pages[page][slot] = uint32(row) + 1
}

// remove clears an ID. Returns true if the ID existed.
func (s *sparseSet) remove(key EntityID) bool {
	page, slot := sparseLocate(key)
	if page >= len(s.pages) || s.pages[page] == nil || s.pages[page][slot] == 0 {
		return false
	}
	s.pages[page][slot] = 0
	s.count--
	return true
}

// size returns the number of IDs present.
func (s *sparseSet) size() int { return s.count }
