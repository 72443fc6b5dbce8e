package localstore

import (
	"github.com/sugawarayuuta/sonnet"
)

// ValueCodec serializes cached values for persistence.
type ValueCodec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONCodec persists values as JSON.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Marshal(v V) ([]byte, error) { return sonnet.Marshal(v) }

func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := sonnet.Unmarshal(data, &v)
	return v, err
}

// BytesCodec persists []byte values verbatim.
type BytesCodec struct{}

func (BytesCodec) Marshal(v []byte) ([]byte, error) { return v, nil }

func (BytesCodec) Unmarshal(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
