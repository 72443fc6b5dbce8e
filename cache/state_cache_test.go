package cache

import (
	"expvar"
	"fmt"
	"math/rand"
	"testing"

	"github.com/INLOpen/worldsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[V any](c *StateCache[V]) map[string]V {
	out := make(map[string]V)
	for ev := range c.Entries() {
		out[ev.Component+"/"+ev.Entity] = ev.Value
	}
	return out
}

func TestStateCache_ApplyAndGet(t *testing.T) {
	c := New[int]()
	c.Apply(core.Set("Health", "0x01", 10, 5))

	v, ok := c.Get("Health", "0x01")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	_, ok = c.Get("Health", "0x02")
	assert.False(t, ok)
	_, ok = c.Get("Unknown", "0x01")
	assert.False(t, ok)
}

func TestStateCache_LastWriteWins(t *testing.T) {
	c := New[string]()
	c.Apply(core.Set("Name", "e", "A", 5))
	c.Apply(core.Set("Name", "e", "B", 6))

	v, ok := c.Get("Name", "e")
	require.True(t, ok)
	assert.Equal(t, "B", v)
	assert.Equal(t, 1, c.Len())
}

func TestStateCache_Tombstone(t *testing.T) {
	c := New[int]()
	c.Apply(core.Set("Health", "e1", 1, 1))
	c.Apply(core.Set("Health", "e2", 2, 1))
	c.Apply(core.Removed[int]("Health", "e1", 2))

	_, ok := c.Get("Health", "e1")
	assert.False(t, ok)
	for ev := range c.Entries() {
		assert.NotEqual(t, "e1", ev.Entity, "removed pair must not be replayed")
	}
	assert.Equal(t, []string{"e2"}, c.EntitiesWith("Health"))

	// removing an absent pair still interns its identifiers
	c.Apply(core.Removed[int]("Armor", "e9", 2))
	r := c.Report()
	assert.Equal(t, 2, r.Components)
	assert.Equal(t, 3, r.Entities)
	assert.Equal(t, 1, r.Values)
}

func TestStateCache_WatermarkFollowsNewBlocks(t *testing.T) {
	c := New[int]()
	assert.Equal(t, uint64(0), c.Watermark())

	c.Apply(core.Set("A", "e", 1, 10))
	assert.Equal(t, uint64(9), c.Watermark(), "first event of block 10 proves block 9 complete")

	c.Apply(core.Set("B", "e", 1, 10))
	assert.Equal(t, uint64(9), c.Watermark())

	c.Apply(core.Set("A", "e", 2, 12))
	assert.Equal(t, uint64(11), c.Watermark())

	c.Apply(core.Set("A", "e", 3, 4))
	assert.Equal(t, uint64(11), c.Watermark(), "watermark never decreases")

	c.AdvanceWatermark(7)
	assert.Equal(t, uint64(11), c.Watermark())
	c.AdvanceWatermark(20)
	assert.Equal(t, uint64(20), c.Watermark())
}

func TestStateCache_BlockZeroDoesNotUnderflow(t *testing.T) {
	c := New[int]()
	c.Apply(core.Set("A", "e", 1, 0))
	assert.Equal(t, uint64(0), c.Watermark())
}

func TestStateCache_EntriesStampedWithWatermark(t *testing.T) {
	c := New[int]()
	c.Apply(core.Set("A", "e1", 1, 3))
	c.Apply(core.Set("A", "e2", 2, 8))

	count := 0
	for ev := range c.Entries() {
		count++
		assert.Equal(t, uint64(7), ev.BlockNumber)
		assert.True(t, ev.Present)
	}
	assert.Equal(t, 2, count)

	// restartable
	assert.Len(t, collect(c), 2)
	assert.Len(t, collect(c), 2)
}

func TestStateCache_EntriesEarlyStop(t *testing.T) {
	c := New[int]()
	for i := 0; i < 10; i++ {
		c.Apply(core.Set("A", fmt.Sprint(i), i, 1))
	}
	n := 0
	for range c.Entries() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestStateCache_RoundTripThroughEntries(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	src := New[int]()
	block := uint64(1)
	for i := 0; i < 2000; i++ {
		if rng.Intn(10) == 0 {
			block++
		}
		comp := fmt.Sprintf("C%d", rng.Intn(8))
		ent := fmt.Sprintf("0x%02x", rng.Intn(64))
		if rng.Intn(4) == 0 {
			src.Apply(core.Removed[int](comp, ent, block))
		} else {
			src.Apply(core.Set(comp, ent, rng.Int(), block))
		}
	}

	dst := New[int]()
	for ev := range src.Entries() {
		dst.Apply(ev)
	}
	assert.Equal(t, collect(src), collect(dst))
	assert.Equal(t, src.Len(), dst.Len())
}

func TestStateCache_Metrics(t *testing.T) {
	c := New[int]()
	applied := new(expvar.Int)
	c.SetMetrics(applied)
	c.ApplyAll([]core.UpdateEvent[int]{
		core.Set("A", "e", 1, 1),
		core.Set("A", "e", 2, 2),
	})
	assert.Equal(t, int64(2), applied.Value())
}
