package cache

import (
	"fmt"
	"slices"

	"github.com/INLOpen/worldsync/indexer"
)

// ImageValue is one stored pair in an Image.
type ImageValue[V any] struct {
	Component uint32
	Entity    uint32
	Value     V
}

// Image is the full persisted form of a StateCache.
type Image[V any] struct {
	Components []string
	Entities   []string
	Values     []ImageValue[V]
	Watermark  uint64
	Remote     RemoteState
}

// Image copies the cache into its persisted form. Values are ordered by key.
func (c *StateCache[V]) Image() Image[V] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	img := Image[V]{
		Components: c.components.Values(),
		Entities:   c.entities.Values(),
		Values:     make([]ImageValue[V], 0, len(c.values)),
		Watermark:  c.watermark,
		Remote: RemoteState{
			Block:      c.remote.Block,
			Nonce:      c.remote.Nonce,
			Components: slices.Clone(c.remote.Components),
			Entities:   slices.Clone(c.remote.Entities),
		},
	}
	for k, v := range c.values {
		img.Values = append(img.Values, ImageValue[V]{Component: k.Component(), Entity: k.Entity(), Value: v})
	}
	slices.SortFunc(img.Values, func(a, b ImageValue[V]) int {
		ka, kb := MakeKey(a.Component, a.Entity), MakeKey(b.Component, b.Entity)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
	return img
}

// FromImage rebuilds a cache, including its interning lookups.
func FromImage[V any](img Image[V]) (*StateCache[V], error) {
	comps, err := indexer.RestoreInternedTable(img.Components)
	if err != nil {
		return nil, fmt.Errorf("restore component table: %w", err)
	}
	ents, err := indexer.RestoreInternedTable(img.Entities)
	if err != nil {
		return nil, fmt.Errorf("restore entity table: %w", err)
	}

	c := New[V]()
	c.components = comps
	c.entities = ents
	c.watermark = img.Watermark
	c.lastBlock = img.Watermark

	for _, idx := range img.Remote.Components {
		if int(idx) >= comps.Len() {
			return nil, fmt.Errorf("remote component translation %d out of range", idx)
		}
	}
	for _, idx := range img.Remote.Entities {
		if int(idx) >= ents.Len() {
			return nil, fmt.Errorf("remote entity translation %d out of range", idx)
		}
	}
	c.remote = RemoteState{
		Block:      img.Remote.Block,
		Nonce:      img.Remote.Nonce,
		Components: slices.Clone(img.Remote.Components),
		Entities:   slices.Clone(img.Remote.Entities),
	}

	for _, iv := range img.Values {
		if int(iv.Component) >= comps.Len() || int(iv.Entity) >= ents.Len() {
			return nil, fmt.Errorf("stored value (%d,%d) references unknown table entry", iv.Component, iv.Entity)
		}
		c.setLocked(MakeKey(iv.Component, iv.Entity), iv.Value, true)
	}
	return c, nil
}
