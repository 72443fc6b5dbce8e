package testutil

import (
	"context"
	"sort"
	"sync"

	apiv1 "github.com/INLOpen/worldsync/api/v1"
)

type fakeValue struct {
	data  []byte
	block uint64
}

// FakeSnapshotServer is an in-memory snapshot indexer. Values and removals
// are recorded with the block they happened at so delta requests can be
// answered the way a real indexer would.
type FakeSnapshotServer struct {
	apiv1.UnimplementedSnapshotServiceServer

	mu         sync.Mutex
	block      uint64
	nonce      string
	components []string
	compIdx    map[string]uint32
	entities   []string
	entIdx     map[string]uint32
	values     map[apiv1.StateKey]fakeValue
	removed    map[apiv1.StateKey]uint64

	// Err, when set, is returned by every call.
	Err error
	// ComponentSkew shifts the index of every reported component entry.
	ComponentSkew uint32

	calls []string
}

func NewFakeSnapshotServer(nonce string) *FakeSnapshotServer {
	s := &FakeSnapshotServer{}
	s.Rotate(nonce)
	return s
}

// Rotate drops the whole dataset and starts a new epoch.
func (s *FakeSnapshotServer) Rotate(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = nonce
	s.components = nil
	s.entities = nil
	s.compIdx = make(map[string]uint32)
	s.entIdx = make(map[string]uint32)
	s.values = make(map[apiv1.StateKey]fakeValue)
	s.removed = make(map[apiv1.StateKey]uint64)
}

func (s *FakeSnapshotServer) keyLocked(component, entity string) apiv1.StateKey {
	ci, ok := s.compIdx[component]
	if !ok {
		ci = uint32(len(s.components))
		s.components = append(s.components, component)
		s.compIdx[component] = ci
	}
	ei, ok := s.entIdx[entity]
	if !ok {
		ei = uint32(len(s.entities))
		s.entities = append(s.entities, entity)
		s.entIdx[entity] = ei
	}
	return apiv1.StateKey{Component: ci, Entity: ei}
}

// Set records a value at block and moves the indexed head forward.
func (s *FakeSnapshotServer) Set(component, entity string, data []byte, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keyLocked(component, entity)
	s.values[k] = fakeValue{data: data, block: block}
	delete(s.removed, k)
	s.block = max(s.block, block)
}

// Remove records a removal at block.
func (s *FakeSnapshotServer) Remove(component, entity string, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keyLocked(component, entity)
	delete(s.values, k)
	s.removed[k] = block
	s.block = max(s.block, block)
}

// Calls lists the RPC method names served so far.
func (s *FakeSnapshotServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *FakeSnapshotServer) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.Err
}

func (s *FakeSnapshotServer) GetStateInfo(_ context.Context, _ *apiv1.StateInfoRequest) (*apiv1.StateInfo, error) {
	if err := s.record("GetStateInfo"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &apiv1.StateInfo{Block: s.block, Nonce: s.nonce}, nil
}

func tableFrom(ids []string, from, skew uint32) *apiv1.TableResponse {
	resp := &apiv1.TableResponse{}
	for i := from; int(i) < len(ids); i++ {
		resp.Entries = append(resp.Entries, apiv1.TableEntry{Index: i + skew, ID: ids[i]})
	}
	return resp
}

func (s *FakeSnapshotServer) GetComponents(_ context.Context, req *apiv1.TableRequest) (*apiv1.TableResponse, error) {
	if err := s.record("GetComponents"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tableFrom(s.components, req.FromIndex, s.ComponentSkew), nil
}

func (s *FakeSnapshotServer) GetEntities(_ context.Context, req *apiv1.TableRequest) (*apiv1.TableResponse, error) {
	if err := s.record("GetEntities"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tableFrom(s.entities, req.FromIndex, 0), nil
}

func sortKeys(keys []apiv1.StateKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Component != keys[j].Component {
			return keys[i].Component < keys[j].Component
		}
		return keys[i].Entity < keys[j].Entity
	})
}

func (s *FakeSnapshotServer) StreamRemovals(req *apiv1.RemovalsRequest, stream apiv1.SnapshotService_StreamRemovalsServer) error {
	if err := s.record("StreamRemovals"); err != nil {
		return err
	}
	s.mu.Lock()
	var keys []apiv1.StateKey
	for k, b := range s.removed {
		if b > req.FromBlock {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sortKeys(keys)
	return stream.Send(&apiv1.RemovalChunk{Keys: keys})
}

func (s *FakeSnapshotServer) StreamValues(req *apiv1.ValuesRequest, stream apiv1.SnapshotService_StreamValuesServer) error {
	if err := s.record("StreamValues"); err != nil {
		return err
	}
	s.mu.Lock()
	var keys []apiv1.StateKey
	for k, v := range s.values {
		if v.block > req.FromBlock {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	vals := make([]apiv1.StateValue, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, apiv1.StateValue{Component: k.Component, Entity: k.Entity, Data: s.values[k].data})
	}
	s.mu.Unlock()

	total := max(req.ChunkCount, 1)
	size := (len(vals) + int(total) - 1) / int(total)
	for i := uint32(0); i < total; i++ {
		lo := min(int(i)*size, len(vals))
		hi := min(lo+size, len(vals))
		if err := stream.Send(&apiv1.ValueChunk{Chunk: i, TotalChunks: total, Values: vals[lo:hi]}); err != nil {
			return err
		}
	}
	return nil
}
