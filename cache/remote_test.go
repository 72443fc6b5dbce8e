package cache

import (
	"testing"

	"github.com/INLOpen/worldsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCache_RemoteMergeRequiresNextIndex(t *testing.T) {
	c := New[string]()
	c.Apply(core.Set("Local", "0xaa", "x", 1))

	require.True(t, c.MergeRemoteComponent(0, "Position"))
	assert.False(t, c.MergeRemoteComponent(2, "Skipped"), "gap in remote index must be rejected")
	require.True(t, c.MergeRemoteComponent(1, "Local"))
	assert.Equal(t, uint32(2), c.RemoteComponentIndex())

	require.True(t, c.MergeRemoteEntity(0, "0xbb"))
	require.True(t, c.MergeRemoteEntity(1, "0xaa"))
	assert.False(t, c.MergeRemoteEntity(1, "0xcc"))

	require.True(t, c.SetRemote(0, 0, "p"))
	require.True(t, c.SetRemote(1, 1, "y"))
	assert.False(t, c.SetRemote(5, 0, "z"))

	v, ok := c.Get("Position", "0xbb")
	require.True(t, ok)
	assert.Equal(t, "p", v)
	v, ok = c.Get("Local", "0xaa")
	require.True(t, ok)
	assert.Equal(t, "y", v, "remote index translates onto the existing local index")

	require.True(t, c.RemoveRemote(0, 0))
	_, ok = c.Get("Position", "0xbb")
	assert.False(t, ok)

	c.SetRemoteEpoch(77, "nonce-1")
	assert.Equal(t, uint64(77), c.RemoteBlock())
	assert.Equal(t, "nonce-1", c.RemoteNonce())
}

func TestStateCache_ImageRoundTrip(t *testing.T) {
	c := New[string]()
	c.Apply(core.Set("A", "e1", "one", 3))
	c.Apply(core.Set("B", "e2", "two", 9))
	require.True(t, c.MergeRemoteComponent(0, "B"))
	require.True(t, c.MergeRemoteEntity(0, "e2"))
	c.SetRemoteEpoch(9, "n")

	img := c.Image()
	restored, err := FromImage(img)
	require.NoError(t, err)

	assert.Equal(t, c.Report(), restored.Report())
	assert.Equal(t, collect(c), collect(restored))
	assert.Equal(t, img, restored.Image())

	// translation survives the round trip
	require.True(t, restored.SetRemote(0, 0, "three"))
	v, _ := restored.Get("B", "e2")
	assert.Equal(t, "three", v)
}

func TestFromImage_RejectsDanglingReferences(t *testing.T) {
	_, err := FromImage(Image[int]{
		Components: []string{"A"},
		Entities:   []string{"e"},
		Values:     []ImageValue[int]{{Component: 1, Entity: 0, Value: 1}},
	})
	require.Error(t, err)

	_, err = FromImage(Image[int]{
		Components: []string{"A"},
		Remote:     RemoteState{Components: []uint32{3}},
	})
	require.Error(t, err)
}
