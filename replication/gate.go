package replication

import (
	"context"
	"sync"

	"github.com/INLOpen/worldsync/core"
)

// Gate sits between the live source and the rest of the session. Until
// StartForwarding is called it only buffers; afterwards it hands every block
// straight to the forward function. The first block it ever sees marks the
// stream start.
type Gate struct {
	mu         sync.Mutex
	backlog    []core.BlockUpdate
	forwarding bool
	forward    func(core.BlockUpdate)

	started    bool
	startBlock uint64
	startCh    chan struct{}
}

func NewGate() *Gate {
	return &Gate{startCh: make(chan struct{})}
}

// Offer accepts the next live block.
func (g *Gate) Offer(u core.BlockUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		g.started = true
		g.startBlock = u.Number
		close(g.startCh)
	}
	if g.forwarding {
		g.forward(u)
		return
	}
	g.backlog = append(g.backlog, u)
}

// StreamStart waits for the first live block and returns its number.
func (g *Gate) StreamStart(ctx context.Context) (uint64, error) {
	select {
	case <-g.startCh:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startBlock, nil
}

// TakeBacklog removes and returns the blocks buffered so far, in arrival order.
func (g *Gate) TakeBacklog() []core.BlockUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.backlog
	g.backlog = nil
	return b
}

// StartForwarding flushes whatever is still buffered through forward and
// switches to direct forwarding. Only the first call has an effect.
func (g *Gate) StartForwarding(forward func(core.BlockUpdate)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.forwarding {
		return
	}
	for _, u := range g.backlog {
		forward(u)
	}
	g.backlog = nil
	g.forward = forward
	g.forwarding = true
}

// Forwarding reports whether the gate has switched modes.
func (g *Gate) Forwarding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forwarding
}
