package live

import (
	"context"
	"fmt"

	"github.com/INLOpen/worldsync/chain"
	"github.com/INLOpen/worldsync/core"
)

// BlockFetcher returns one BlockUpdate per block of [from, to].
type BlockFetcher interface {
	FetchBlocks(ctx context.Context, from, to uint64) ([]core.BlockUpdate, error)
}

// PollSubscriber builds block updates by fetching the logs of each new
// head. When heads skip, the skipped blocks are fetched too, so every block
// is emitted, including blocks without events.
type PollSubscriber struct {
	heads   chain.HeadSource
	fetcher BlockFetcher
}

func NewPollSubscriber(heads chain.HeadSource, fetcher BlockFetcher) *PollSubscriber {
	return &PollSubscriber{heads: heads, fetcher: fetcher}
}

// DialPoll returns a DialFunc that reuses one PollSubscriber; a fresh head
// subscription is opened on every Subscribe anyway.
func DialPoll(p *PollSubscriber) DialFunc {
	return func(context.Context) (Subscriber, error) { return p, nil }
}

func (p *PollSubscriber) Subscribe(ctx context.Context, fromBlock uint64) (<-chan core.BlockUpdate, <-chan error, error) {
	heads, headErr, err := p.heads.SubscribeHeads(ctx)
	if err != nil {
		return nil, nil, err
	}
	updates := make(chan core.BlockUpdate, 100)
	errc := make(chan error, 1)
	go func() {
		defer close(updates)
		defer close(errc)
		next := fromBlock
		for {
			var head uint64
			var ok bool
			select {
			case <-ctx.Done():
				return
			case head, ok = <-heads:
			}
			if !ok {
				if err := <-headErr; err != nil {
					errc <- err
				}
				return
			}
			if next == 0 {
				next = head
			}
			if head < next {
				continue
			}
			blocks, err := p.fetcher.FetchBlocks(ctx, next, head)
			if err != nil {
				if ctx.Err() == nil {
					errc <- fmt.Errorf("fetch blocks [%d, %d]: %w", next, head, err)
				}
				return
			}
			for _, b := range blocks {
				select {
				case updates <- b:
				case <-ctx.Done():
					return
				}
			}
			next = head + 1
		}
	}()
	return updates, errc, nil
}

func (p *PollSubscriber) Close() error { return nil }
