package core

// UpdateEvent is one change to the mirrored world: the value of a component
// kind on an entity as of a block. When Present is false the pair has no
// value and applying the event removes it.
type UpdateEvent[V any] struct {
	Component   string `json:"component"`
	Entity      string `json:"entity"`
	Value       V      `json:"value,omitempty"`
	Present     bool   `json:"present"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Set builds an event carrying a value.
func Set[V any](component, entity string, value V, block uint64) UpdateEvent[V] {
	return UpdateEvent[V]{Component: component, Entity: entity, Value: value, Present: true, BlockNumber: block}
}

// Removed builds an event that clears the (component, entity) pair.
func Removed[V any](component, entity string, block uint64) UpdateEvent[V] {
	return UpdateEvent[V]{Component: component, Entity: entity, BlockNumber: block}
}

// RawEvent is an update as it arrives from a transport, before the value
// bytes have been decoded.
type RawEvent struct {
	Component   string
	Entity      string
	Data        []byte
	Removed     bool
	BlockNumber uint64
	LogIndex    uint32
}

// BlockUpdate groups the events of one block. Blocks with no events are
// still delivered so consumers can observe chain progress.
type BlockUpdate struct {
	Number uint64
	Events []RawEvent
}

// Decoder turns the raw value bytes of a component into the caller's value type.
type Decoder[V any] func(component string, data []byte) (V, error)

// Decode converts a raw event into an UpdateEvent using dec.
func Decode[V any](dec Decoder[V], ev RawEvent) (UpdateEvent[V], error) {
	if ev.Removed {
		return Removed[V](ev.Component, ev.Entity, ev.BlockNumber), nil
	}
	v, err := dec(ev.Component, ev.Data)
	if err != nil {
		return UpdateEvent[V]{}, err
	}
	return Set(ev.Component, ev.Entity, v, ev.BlockNumber), nil
}
