// Package apiv1 holds the wire messages and gRPC service definitions spoken
// between worldsync clients and the snapshot and stream services.
package apiv1

// StateInfoRequest asks for the snapshot service's current position.
type StateInfoRequest struct {
	World string `json:"world"`
}

// StateInfo is the snapshot service's latest indexed block and dataset epoch.
type StateInfo struct {
	Block uint64 `json:"block"`
	Nonce string `json:"nonce"`
}

// TableRequest asks for interned table entries from FromIndex onward.
type TableRequest struct {
	World     string `json:"world"`
	FromIndex uint32 `json:"fromIndex"`
}

// TableEntry is one interned identifier at its remote index.
type TableEntry struct {
	Index uint32 `json:"index"`
	ID    string `json:"id"`
}

type TableResponse struct {
	Entries []TableEntry `json:"entries"`
}

// RemovalsRequest asks for pairs removed after FromBlock.
type RemovalsRequest struct {
	World     string `json:"world"`
	FromBlock uint64 `json:"fromBlock"`
}

// StateKey addresses a pair by remote table indices.
type StateKey struct {
	Component uint32 `json:"component"`
	Entity    uint32 `json:"entity"`
}

type RemovalChunk struct {
	Keys []StateKey `json:"keys"`
}

// ValuesRequest asks for values set after FromBlock, split into at most ChunkCount chunks.
type ValuesRequest struct {
	World         string `json:"world"`
	FromBlock     uint64 `json:"fromBlock"`
	ChunkCount    uint32 `json:"chunkCount"`
	IncludeExtras bool   `json:"includeExtras"`
}

type StateValue struct {
	Component uint32 `json:"component"`
	Entity    uint32 `json:"entity"`
	Data      []byte `json:"data"`
}

// ValueChunk is chunk Chunk (zero-based) of TotalChunks.
type ValueChunk struct {
	Chunk       uint32       `json:"chunk"`
	TotalChunks uint32       `json:"totalChunks"`
	Values      []StateValue `json:"values"`
}

// SubscribeRequest opens the live update stream. FromBlock zero means "from
// the current head"; otherwise the server replays from FromBlock when it can.
type SubscribeRequest struct {
	World     string `json:"world"`
	FromBlock uint64 `json:"fromBlock"`
}

type Event struct {
	Component string `json:"component"`
	Entity    string `json:"entity"`
	Data      []byte `json:"data,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
	LogIndex  uint32 `json:"logIndex"`
}

// UpdateBatch carries every event of one block, possibly none.
type UpdateBatch struct {
	Block  uint64  `json:"block"`
	Events []Event `json:"events,omitempty"`
}
