package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/replication"
)

// Message types exchanged over the bridge.
const (
	MessageConfig   = "config"
	MessageAck      = "ack"
	MessageBatch    = "batch"
	MessageLargeGap = "large_gap"
	MessageFailed   = "failed"
)

const writeWait = 10 * time.Second

type inbound struct {
	Type string `json:"type"`
	replication.ConfigMessage
}

// Outbound is a message sent to the consumer.
type Outbound struct {
	Type   string                    `json:"type"`
	Events []core.UpdateEvent[Value] `json:"events,omitempty"`
	From   uint64                    `json:"from,omitempty"`
	To     uint64                    `json:"to,omitempty"`
	Reason string                    `json:"reason,omitempty"`
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Session  SessionOptions
	Worker   replication.WorkerOptions
	Upgrader websocket.Upgrader
	Logger   *slog.Logger
}

// Bridge serves one sync session per websocket connection. The consumer
// sends a config message and then acks; the bridge sends batches,
// large-gap restart requests and, on a terminal failure, a failed message.
type Bridge struct {
	opts   BridgeOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]struct{}
}

func NewBridge(opts BridgeOptions) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger
	}
	if opts.Worker.Logger == nil {
		opts.Worker.Logger = logger
	}
	if opts.Worker.Hooks == nil {
		opts.Worker.Hooks = opts.Session.Hooks
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		opts:     opts,
		logger:   logger.With("component", "Bridge"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]struct{}),
	}
}

// Sessions returns the number of connected consumers.
func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close ends every session and waits for them to finish.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.opts.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	id := uuid.NewString()
	b.mu.Lock()
	b.sessions[id] = struct{}{}
	b.mu.Unlock()
	b.wg.Add(1)
	defer func() {
		b.mu.Lock()
		delete(b.sessions, id)
		b.mu.Unlock()
		b.wg.Done()
	}()

	logger := b.logger.With("session_id", id, "remote", r.RemoteAddr)
	logger.Info("Consumer connected")
	b.serve(conn, logger)
	logger.Info("Consumer disconnected")
}

func (b *Bridge) serve(conn *websocket.Conn, logger *slog.Logger) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(b.ctx)
	defer cancel()

	control := make(chan replication.ControlMessage, 16)
	out := make(chan []core.UpdateEvent[Value])
	gaps := make(chan replication.LargeGap, 4)

	sessOpts := b.opts.Session
	sessOpts.Logger = logger
	sessOpts.LargeGaps = gaps
	failures := make(chan *replication.FailedError, 1)
	workerOpts := b.opts.Worker
	workerOpts.Logger = logger
	workerOpts.OnFailure = func(f *replication.FailedError) {
		select {
		case failures <- f:
		default:
		}
	}
	worker := replication.NewWorker(NewSessionFactory(sessOpts), workerOpts)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx, control, out) }()
	go b.readLoop(ctx, conn, control, logger)

	reported := false
	for {
		select {
		case batch := <-out:
			if err := writeMessage(conn, Outbound{Type: MessageBatch, Events: batch}); err != nil {
				logger.Warn("Write to consumer failed", "error", err)
				cancel()
				<-done
				return
			}
		case gap := <-gaps:
			if err := writeMessage(conn, Outbound{Type: MessageLargeGap, From: gap.From, To: gap.To}); err != nil {
				logger.Warn("Write to consumer failed", "error", err)
				cancel()
				<-done
				return
			}
		case f := <-failures:
			reported = true
			if err := writeMessage(conn, Outbound{Type: MessageFailed, Reason: f.Reason}); err != nil {
				logger.Warn("Write to consumer failed", "error", err)
				cancel()
				<-done
				return
			}
		case err := <-done:
			var failed *replication.FailedError
			if errors.As(err, &failed) {
				if !reported {
					writeMessage(conn, Outbound{Type: MessageFailed, Reason: failed.Reason})
				}
			} else if err != nil {
				logger.Error("Session ended with error", "error", err)
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop turns consumer messages into control messages. It closes
// control when the connection ends, which tears the session down.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, control chan<- replication.ControlMessage, logger *slog.Logger) {
	defer close(control)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				logger.Debug("Consumer read ended", "error", err)
			}
			return
		}
		msg, err := parseInbound(data)
		if err != nil {
			logger.Warn("Ignoring malformed consumer message", "error", err)
			continue
		}
		select {
		case control <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func parseInbound(data []byte) (replication.ControlMessage, error) {
	var in inbound
	if err := sonnet.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	switch in.Type {
	case MessageConfig:
		return in.ConfigMessage, nil
	case MessageAck:
		return replication.AckMessage{}, nil
	}
	return nil, fmt.Errorf("unknown message type %q", in.Type)
}

func writeMessage(conn *websocket.Conn, msg Outbound) error {
	data, err := sonnet.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
