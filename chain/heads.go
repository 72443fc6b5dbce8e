package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
)

// HeadSource announces new chain heads. The head channel closes when the
// subscription ends; the error channel then carries the cause, if any.
type HeadSource interface {
	SubscribeHeads(ctx context.Context) (<-chan uint64, <-chan error, error)
}

// BlockNumberer is the part of Client PollHeads needs.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// PollHeads polls eth_blockNumber and reports every increase.
type PollHeads struct {
	client   BlockNumberer
	interval time.Duration
}

func NewPollHeads(client BlockNumberer, interval time.Duration) *PollHeads {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollHeads{client: client, interval: interval}
}

func (p *PollHeads) SubscribeHeads(ctx context.Context) (<-chan uint64, <-chan error, error) {
	first, err := p.client.BlockNumber(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("poll head: %w", err)
	}
	heads := make(chan uint64, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(heads)
		defer close(errc)
		last := first
		select {
		case heads <- first:
		case <-ctx.Done():
			return
		}
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			n, err := p.client.BlockNumber(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errc <- fmt.Errorf("poll head: %w", err)
				}
				return
			}
			if n <= last {
				continue
			}
			last = n
			select {
			case heads <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return heads, errc, nil
}

// WSHeads subscribes to newHeads over a websocket endpoint.
type WSHeads struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewWSHeads(url string, dialer *websocket.Dialer, logger *slog.Logger) *WSHeads {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WSHeads{url: url, dialer: dialer, logger: logger.With("component", "WSHeads")}
}

type wsMessage struct {
	ID     uint64    `json:"id,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
	Method string    `json:"method,omitempty"`
	Params struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

type wsReply struct {
	ID     uint64    `json:"id"`
	Result string    `json:"result"`
	Error  *RPCError `json:"error"`
}

func (w *WSHeads) SubscribeHeads(ctx context.Context) (<-chan uint64, <-chan error, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	sub := request{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	payload, err := sonnet.Marshal(sub)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe reply: %w", err)
	}
	var reply wsReply
	if err := sonnet.Unmarshal(data, &reply); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe reply: %w", err)
	}
	if reply.Error != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: %w", reply.Error)
	}
	w.logger.Debug("Subscribed to new heads", "subscription", reply.Result)

	heads := make(chan uint64, 16)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()
	go func() {
		defer close(heads)
		defer close(errc)
		defer close(stop)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errc <- fmt.Errorf("read heads: %w", err)
				}
				return
			}
			var msg wsMessage
			if err := sonnet.Unmarshal(data, &msg); err != nil {
				w.logger.Warn("Ignoring malformed head notification", "error", err)
				continue
			}
			if msg.Method != "eth_subscription" || msg.Params.Subscription != reply.Result {
				continue
			}
			n, err := ParseQuantity(msg.Params.Result.Number)
			if err != nil {
				w.logger.Warn("Ignoring head without number", "error", err)
				continue
			}
			select {
			case heads <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return heads, errc, nil
}
