package server

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/INLOpen/worldsync/core"
)

// HexBytes is a byte slice that encodes as 0x-prefixed hex text.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	out := make([]byte, 2+hex.EncodedLen(len(b)))
	copy(out, "0x")
	hex.Encode(out[2:], b)
	return out, nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex bytes: %w", err)
	}
	*b = raw
	return nil
}

// Value is what consumers receive for a mirrored component: the raw value
// bytes of a chain component, or the session status for the SyncProgress
// singleton.
type Value struct {
	Raw    HexBytes         `json:"raw,omitempty"`
	Status *core.SyncStatus `json:"status,omitempty"`
}

// DecodeValue keeps the component bytes as they are.
func DecodeValue(_ string, data []byte) (Value, error) {
	return Value{Raw: bytes.Clone(data)}, nil
}

// StatusValue wraps a status for emission as a mirrored value.
func StatusValue(st core.SyncStatus) Value {
	return Value{Status: &st}
}
