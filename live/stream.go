package live

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apiv1 "github.com/INLOpen/worldsync/api/v1"
	"github.com/INLOpen/worldsync/core"
)

// StreamSubscriber reads per-block batches from a StreamService.
type StreamSubscriber struct {
	api   apiv1.StreamServiceClient
	world string
	conn  *grpc.ClientConn
}

// NewStreamSubscriber uses an existing client; Close does not close its connection.
func NewStreamSubscriber(api apiv1.StreamServiceClient, world string) *StreamSubscriber {
	return &StreamSubscriber{api: api, world: world}
}

// DialStream returns a DialFunc creating a new connection to target for
// every fresh subscriber.
func DialStream(target, world string, opts ...grpc.DialOption) DialFunc {
	return func(ctx context.Context) (Subscriber, error) {
		dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, apiv1.DialOptions()...)
		dialOpts = append(dialOpts, opts...)
		conn, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to stream service at %s: %w", target, err)
		}
		return &StreamSubscriber{api: apiv1.NewStreamServiceClient(conn), world: world, conn: conn}, nil
	}
}

func (s *StreamSubscriber) Subscribe(ctx context.Context, fromBlock uint64) (<-chan core.BlockUpdate, <-chan error, error) {
	stream, err := s.api.SubscribeUpdates(ctx, &apiv1.SubscribeRequest{World: s.world, FromBlock: fromBlock})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initiate update stream: %w", err)
	}

	updates := make(chan core.BlockUpdate, 100)
	errc := make(chan error, 1)
	go func() {
		defer close(updates)
		defer close(errc)
		for {
			batch, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					errc <- fmt.Errorf("receive update batch: %w", err)
				}
				return
			}
			select {
			case updates <- BatchToBlock(batch):
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, errc, nil
}

func (s *StreamSubscriber) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// BatchToBlock converts a wire batch to a block update.
func BatchToBlock(b *apiv1.UpdateBatch) core.BlockUpdate {
	u := core.BlockUpdate{Number: b.Block, Events: make([]core.RawEvent, 0, len(b.Events))}
	for _, e := range b.Events {
		u.Events = append(u.Events, core.RawEvent{
			Component:   e.Component,
			Entity:      e.Entity,
			Data:        e.Data,
			Removed:     e.Removed,
			BlockNumber: b.Block,
			LogIndex:    e.LogIndex,
		})
	}
	return u
}

// BlockToBatch is the inverse of BatchToBlock.
func BlockToBatch(u core.BlockUpdate) *apiv1.UpdateBatch {
	b := &apiv1.UpdateBatch{Block: u.Number}
	for _, e := range u.Events {
		b.Events = append(b.Events, apiv1.Event{
			Component: e.Component,
			Entity:    e.Entity,
			Data:      e.Data,
			Removed:   e.Removed,
			LogIndex:  e.LogIndex,
		})
	}
	return b
}
