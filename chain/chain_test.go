package chain_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/worldsync/chain"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/internal/testutil"
	"github.com/INLOpen/worldsync/snapshot"
)

func TestTopics(t *testing.T) {
	// keccak256("Transfer(address,address,uint256)")
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		chain.Topic("Transfer(address,address,uint256)"))
	assert.NotEqual(t, chain.ValueSetTopic, chain.ValueRemovedTopic)
}

func TestFormatID(t *testing.T) {
	w := make([]byte, 32)
	assert.Equal(t, "0x00", chain.FormatID(w))
	w[30], w[31] = 0x06, 0x0d
	assert.Equal(t, "0x060d", chain.FormatID(w))
	assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000ab", chain.Word("0xab"))
}

func TestDecodeLog(t *testing.T) {
	set := chain.Log{
		Topics:      []string{chain.ValueSetTopic, chain.Word("0x2a"), chain.Word("0x01"), chain.Word("0x060d")},
		Data:        chain.EncodeValueSetData([]byte("hello world, this is longer than thirty-two bytes")),
		BlockNumber: "0x10",
		LogIndex:    "0x3",
	}
	ev, ok, err := chain.DecodeLog(set)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.RawEvent{
		Component:   "0x2a",
		Entity:      "0x060d",
		Data:        []byte("hello world, this is longer than thirty-two bytes"),
		BlockNumber: 16,
		LogIndex:    3,
	}, ev)

	removed := set
	removed.Topics = append([]string{chain.ValueRemovedTopic}, set.Topics[1:]...)
	removed.Data = "0x"
	ev, ok, err = chain.DecodeLog(removed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ev.Removed)
	assert.Nil(t, ev.Data)

	other := set
	other.Topics = append([]string{chain.Topic("Other()")}, set.Topics[1:]...)
	_, ok, err = chain.DecodeLog(other)
	require.NoError(t, err)
	assert.False(t, ok)

	bad := set
	bad.Data = "0x1234"
	_, _, err = chain.DecodeLog(bad)
	assert.Error(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestConnect(t *testing.T) {
	node := testutil.NewFakeNode(t, 31337)
	ctx := context.Background()

	var requests atomic.Int32
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})}
	c := chain.NewClient(node.URL(), httpClient, nil)
	require.NoError(t, c.Connect(ctx, 31337, 2))
	assert.Equal(t, int32(1), requests.Load(), "connect goes through the client's transport")

	err := c.Connect(ctx, 1, 3)
	require.Error(t, err)
	assert.Equal(t, int32(2), requests.Load(), "a chain id mismatch is not retried")
	assert.ErrorIs(t, err, core.ErrChainIDMismatch)
}

func TestConnect_ExhaustsRetries(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	node.SetStatus(http.StatusServiceUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := chain.NewClient(node.URL(), nil, nil).Connect(ctx, 1, 2)
	require.Error(t, err)
	var httpErr *chain.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestRateLimitedReply(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	node.SetStatus(http.StatusTooManyRequests)
	c := chain.NewClient(node.URL(), nil, nil)
	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.True(t, snapshot.IsRateLimited(err))
}

func TestRangeFetcher(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	node.SetValue(5, "0x01", "0xaa", []byte("a5"))
	node.SetValue(12, "0x01", "0xaa", []byte("a12"))
	node.RemoveValue(12, "0x02", "0xbb")
	node.SetValue(25, "0x01", "0xcc", []byte("c25"))
	node.SetValue(40, "0x01", "0xdd", []byte("out of range"))

	f := chain.NewRangeFetcher(chain.NewClient(node.URL(), nil, nil), chain.FetcherOptions{ChunkBlocks: 10})
	var progress []float64
	events, err := f.FetchRange(context.Background(), 0, 29, func(p float64) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, [][2]uint64{{0, 9}, {10, 19}, {20, 29}}, node.GetLogsCalls())
	require.Len(t, progress, 3)
	assert.InDelta(t, 1.0, progress[2], 1e-9)

	require.Len(t, events, 4)
	assert.Equal(t, uint64(5), events[0].BlockNumber)
	assert.Equal(t, []byte("a12"), events[1].Data)
	assert.True(t, events[2].Removed)
	assert.Equal(t, uint32(1), events[2].LogIndex)
	assert.Equal(t, "0xcc", events[3].Entity)
}

func TestRangeFetcher_EmptyAndFailingRanges(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	f := chain.NewRangeFetcher(chain.NewClient(node.URL(), nil, nil), chain.FetcherOptions{ChunkBlocks: 10})

	events, err := f.FetchRange(context.Background(), 10, 9, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, node.GetLogsCalls())

	node.FailGetLogs(1)
	_, err = f.FetchRange(context.Background(), 0, 30, nil)
	var rpcErr *chain.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

func TestFetchBlocksIncludesEmptyBlocks(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	node.SetValue(3, "0x01", "0xaa", []byte("x"))
	f := chain.NewRangeFetcher(chain.NewClient(node.URL(), nil, nil), chain.FetcherOptions{})

	blocks, err := f.FetchBlocks(context.Background(), 2, 4)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Empty(t, blocks[0].Events)
	assert.Len(t, blocks[1].Events, 1)
	assert.Equal(t, uint64(4), blocks[2].Number)
}

func TestPollHeads(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	node.Mine(7)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads, _, err := chain.NewPollHeads(chain.NewClient(node.URL(), nil, nil), 10*time.Millisecond).SubscribeHeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), <-heads)
	node.Mine(9)
	select {
	case h := <-heads:
		assert.Equal(t, uint64(9), h)
	case <-time.After(2 * time.Second):
		t.Fatal("no head after mining")
	}
}

func TestWSHeads(t *testing.T) {
	node := testutil.NewFakeNode(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads, errc, err := chain.NewWSHeads(node.WSURL(), nil, nil).SubscribeHeads(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		node.Mine(node.Head() + 1)
		select {
		case h := <-heads:
			return h > 0
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	for range heads {
	}
	assert.NoError(t, <-errc)
}
