package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/INLOpen/worldsync/core"
)

const (
	ValueSetSignature     = "ComponentValueSet(uint256,address,uint256,bytes)"
	ValueRemovedSignature = "ComponentValueRemoved(uint256,address,uint256)"
)

var (
	ValueSetTopic     = Topic(ValueSetSignature)
	ValueRemovedTopic = Topic(ValueRemovedSignature)
)

// Topic is the 0x-prefixed keccak256 hash of an event signature.
func Topic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// FormatID renders a 32-byte word as the shortest even-length hex string,
// which is how component and entity ids are keyed (e.g. "0x060d").
func FormatID(word []byte) string {
	i := 0
	for i < len(word)-1 && word[i] == 0 {
		i++
	}
	return "0x" + hex.EncodeToString(word[i:])
}

// decodeBytes unpacks an ABI-encoded dynamic `bytes` argument that is the
// only non-indexed parameter.
func decodeBytes(data []byte) ([]byte, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("abi bytes: short payload (%d bytes)", len(data))
	}
	off := data[:32]
	for _, b := range off[:24] {
		if b != 0 {
			return nil, fmt.Errorf("abi bytes: offset overflow")
		}
	}
	o := binary.BigEndian.Uint64(off[24:])
	if o+32 > uint64(len(data)) {
		return nil, fmt.Errorf("abi bytes: offset %d out of range", o)
	}
	lenWord := data[o : o+32]
	for _, b := range lenWord[:24] {
		if b != 0 {
			return nil, fmt.Errorf("abi bytes: length overflow")
		}
	}
	n := binary.BigEndian.Uint64(lenWord[24:])
	start := o + 32
	if start+n > uint64(len(data)) {
		return nil, fmt.Errorf("abi bytes: length %d out of range", n)
	}
	return data[start : start+n], nil
}

// DecodeLog turns a component log into a raw update event. ok is false for
// logs that are not component events.
func DecodeLog(l Log) (ev core.RawEvent, ok bool, err error) {
	if len(l.Topics) < 4 {
		return ev, false, nil
	}
	topic0 := strings.ToLower(l.Topics[0])
	if topic0 != ValueSetTopic && topic0 != ValueRemovedTopic {
		return ev, false, nil
	}
	comp, err := decodeHex(l.Topics[1])
	if err != nil {
		return ev, false, fmt.Errorf("component topic: %w", err)
	}
	ent, err := decodeHex(l.Topics[3])
	if err != nil {
		return ev, false, fmt.Errorf("entity topic: %w", err)
	}
	block, err := ParseQuantity(l.BlockNumber)
	if err != nil {
		return ev, false, fmt.Errorf("block number: %w", err)
	}
	idx, err := ParseQuantity(l.LogIndex)
	if err != nil {
		return ev, false, fmt.Errorf("log index: %w", err)
	}

	ev = core.RawEvent{
		Component:   FormatID(comp),
		Entity:      FormatID(ent),
		BlockNumber: block,
		LogIndex:    uint32(idx),
	}
	if topic0 == ValueRemovedTopic {
		ev.Removed = true
		return ev, true, nil
	}
	raw, err := decodeHex(l.Data)
	if err != nil {
		return ev, false, fmt.Errorf("data: %w", err)
	}
	ev.Data, err = decodeBytes(raw)
	if err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

// EncodeValueSetData ABI-encodes value as the data of a ComponentValueSet log.
func EncodeValueSetData(value []byte) string {
	padded := (len(value) + 31) / 32 * 32
	buf := make([]byte, 64+padded)
	buf[31] = 32
	binary.BigEndian.PutUint64(buf[56:64], uint64(len(value)))
	copy(buf[64:], value)
	return "0x" + hex.EncodeToString(buf)
}

// Word left-pads a hex id to a 32-byte topic.
func Word(id string) string {
	b, err := decodeHex(id)
	if err != nil || len(b) > 32 {
		return id
	}
	w := make([]byte, 32)
	copy(w[32-len(b):], b)
	return "0x" + hex.EncodeToString(w)
}
