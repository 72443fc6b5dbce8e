package cache

import (
	"expvar"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/indexer"
)

// Key packs a (component index, entity index) pair.
type Key uint64

func MakeKey(component, entity uint32) Key {
	return Key(uint64(component)<<32 | uint64(entity))
}

func (k Key) Component() uint32 { return uint32(k >> 32) }
func (k Key) Entity() uint32    { return uint32(k) }

// RemoteState records how far the cache has been reconciled against the
// remote snapshot service. Components and Entities translate remote table
// indices to local ones; their lengths are the last merged remote indices.
type RemoteState struct {
	Block      uint64
	Nonce      string
	Components []uint32
	Entities   []uint32
}

// StateCache is the local mirror of the world: the latest value of every
// (component, entity) pair plus the block up to which it is complete.
type StateCache[V any] struct {
	mu sync.RWMutex

	components *indexer.InternedTable
	entities   *indexer.InternedTable
	values     map[Key]V
	index      *indexer.EntityIndex

	// watermark never decreases. It moves to block-1 whenever an event for
	// a new block is applied, since a block's events arrive contiguously.
	watermark uint64
	lastBlock uint64

	remote RemoteState

	// Metrics
	applied *expvar.Int
}

// New creates an empty cache.
func New[V any]() *StateCache[V] {
	return &StateCache[V]{
		components: indexer.NewInternedTable(),
		entities:   indexer.NewInternedTable(),
		values:     make(map[Key]V),
		index:      indexer.NewEntityIndex(),
	}
}

// SetMetrics attaches a counter incremented for every applied event.
func (c *StateCache[V]) SetMetrics(applied *expvar.Int) {
	c.mu.Lock()
	c.applied = applied
	c.mu.Unlock()
}

// Apply interns the event's identifiers, sets or deletes the pair, and
// advances the watermark when the event starts a new block.
func (c *StateCache[V]) Apply(ev core.UpdateEvent[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(ev)
}

// ApplyAll applies events in slice order. Last write wins per pair, so the
// order must be the causal one: by block, then by position in the block.
func (c *StateCache[V]) ApplyAll(events []core.UpdateEvent[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		c.applyLocked(ev)
	}
}

func (c *StateCache[V]) applyLocked(ev core.UpdateEvent[V]) {
	comp := c.components.Intern(ev.Component)
	ent := c.entities.Intern(ev.Entity)
	c.setLocked(MakeKey(comp, ent), ev.Value, ev.Present)

	if ev.BlockNumber != c.lastBlock {
		if ev.BlockNumber > 0 && ev.BlockNumber-1 > c.watermark {
			c.watermark = ev.BlockNumber - 1
		}
		c.lastBlock = ev.BlockNumber
	}
	if c.applied != nil {
		c.applied.Add(1)
	}
}

func (c *StateCache[V]) setLocked(k Key, v V, present bool) {
	if present {
		c.values[k] = v
		c.index.Add(k.Component(), k.Entity())
		return
	}
	delete(c.values, k)
	c.index.Remove(k.Component(), k.Entity())
}

// Get returns the value of a pair.
func (c *StateCache[V]) Get(component, entity string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero V
	ci, ok := c.components.Lookup(component)
	if !ok {
		return zero, false
	}
	ei, ok := c.entities.Lookup(entity)
	if !ok {
		return zero, false
	}
	v, ok := c.values[MakeKey(ci, ei)]
	return v, ok
}

// EntitiesWith lists the entities that currently hold a value for component.
func (c *StateCache[V]) EntitiesWith(component string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ci, ok := c.components.Lookup(component)
	if !ok {
		return nil
	}
	ids := c.index.Entities(ci)
	out := make([]string, 0, len(ids))
	for _, ei := range ids {
		if s, ok := c.entities.Value(ei); ok {
			out = append(out, s)
		}
	}
	return out
}

// Entries yields one event per stored pair, stamped with the current
// watermark, in key order. Each call starts a fresh pass.
func (c *StateCache[V]) Entries() iter.Seq[core.UpdateEvent[V]] {
	return func(yield func(core.UpdateEvent[V]) bool) {
		c.mu.RLock()
		keys := make([]Key, 0, len(c.values))
		for k := range c.values {
			keys = append(keys, k)
		}
		c.mu.RUnlock()
		slices.Sort(keys)

		for _, k := range keys {
			c.mu.RLock()
			v, ok := c.values[k]
			comp, _ := c.components.Value(k.Component())
			ent, _ := c.entities.Value(k.Entity())
			block := c.watermark
			c.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(core.Set(comp, ent, v, block)) {
				return
			}
		}
	}
}

// Len returns the number of stored pairs.
func (c *StateCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

func (c *StateCache[V]) Watermark() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watermark
}

// AdvanceWatermark raises the watermark to block. Lower values are ignored.
func (c *StateCache[V]) AdvanceWatermark(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block > c.watermark {
		c.watermark = block
	}
	if block > c.lastBlock {
		c.lastBlock = block
	}
}

// Report summarizes the cache for diagnostics.
type Report struct {
	Components       int    `json:"components"`
	Entities         int    `json:"entities"`
	Values           int    `json:"values"`
	Watermark        uint64 `json:"watermark"`
	RemoteBlock      uint64 `json:"remoteBlock"`
	RemoteComponents int    `json:"remoteComponents"`
	RemoteEntities   int    `json:"remoteEntities"`
	RemoteNonce      string `json:"remoteNonce"`
}

func (r Report) String() string {
	return fmt.Sprintf("components=%d entities=%d values=%d watermark=%d remote_block=%d remote_components=%d remote_entities=%d nonce=%q",
		r.Components, r.Entities, r.Values, r.Watermark, r.RemoteBlock, r.RemoteComponents, r.RemoteEntities, r.RemoteNonce)
}

func (c *StateCache[V]) Report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Report{
		Components:       c.components.Len(),
		Entities:         c.entities.Len(),
		Values:           len(c.values),
		Watermark:        c.watermark,
		RemoteBlock:      c.remote.Block,
		RemoteComponents: len(c.remote.Components),
		RemoteEntities:   len(c.remote.Entities),
		RemoteNonce:      c.remote.Nonce,
	}
}
