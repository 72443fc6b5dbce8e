package testutil

import (
	"sync"

	apiv1 "github.com/INLOpen/worldsync/api/v1"
)

type feedItem struct {
	batch apiv1.UpdateBatch
	end   bool
	err   error
}

// FakeStreamServer hands pushed batches to whichever subscription is
// currently open. End finishes that subscription with an optional error.
type FakeStreamServer struct {
	apiv1.UnimplementedStreamServiceServer

	feed chan feedItem

	mu       sync.Mutex
	requests []apiv1.SubscribeRequest
	opened   chan struct{}
}

func NewFakeStreamServer() *FakeStreamServer {
	return &FakeStreamServer{
		feed:   make(chan feedItem, 64),
		opened: make(chan struct{}, 16),
	}
}

// Opened receives one value per accepted subscription.
func (s *FakeStreamServer) Opened() <-chan struct{} { return s.opened }

// Requests lists every subscription request received.
func (s *FakeStreamServer) Requests() []apiv1.SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]apiv1.SubscribeRequest(nil), s.requests...)
}

func (s *FakeStreamServer) Push(batch apiv1.UpdateBatch) { s.feed <- feedItem{batch: batch} }

func (s *FakeStreamServer) End(err error) { s.feed <- feedItem{end: true, err: err} }

func (s *FakeStreamServer) SubscribeUpdates(req *apiv1.SubscribeRequest, stream apiv1.StreamService_SubscribeUpdatesServer) error {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()
	select {
	case s.opened <- struct{}{}:
	default:
	}

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case it := <-s.feed:
			if it.end {
				return it.err
			}
			b := it.batch
			if err := stream.Send(&b); err != nil {
				return err
			}
		}
	}
}
