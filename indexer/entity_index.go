package indexer

import (
	"github.com/RoaringBitmap/roaring"
)

// EntityIndex tracks, per component index, the set of entity indices that
// currently hold a value for it.
type EntityIndex struct {
	byComponent map[uint32]*roaring.Bitmap
}

func NewEntityIndex() *EntityIndex {
	return &EntityIndex{byComponent: make(map[uint32]*roaring.Bitmap)}
}

func (x *EntityIndex) Add(component, entity uint32) {
	bm, ok := x.byComponent[component]
	if !ok {
		bm = roaring.New()
		x.byComponent[component] = bm
	}
	bm.Add(entity)
}

func (x *EntityIndex) Remove(component, entity uint32) {
	bm, ok := x.byComponent[component]
	if !ok {
		return
	}
	bm.Remove(entity)
	if bm.IsEmpty() {
		delete(x.byComponent, component)
	}
}

func (x *EntityIndex) Contains(component, entity uint32) bool {
	bm, ok := x.byComponent[component]
	return ok && bm.Contains(entity)
}

// Entities returns the entity indices holding component, in ascending order.
func (x *EntityIndex) Entities(component uint32) []uint32 {
	bm, ok := x.byComponent[component]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// Count returns how many entities hold component.
func (x *EntityIndex) Count(component uint32) uint64 {
	bm, ok := x.byComponent[component]
	if !ok {
		return 0
	}
	return bm.GetCardinality()
}

// Reset drops every tracked pair.
func (x *EntityIndex) Reset() {
	x.byComponent = make(map[uint32]*roaring.Bitmap)
}
