package localstore

import (
	"fmt"

	"github.com/INLOpen/worldsync/cache"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the persisted record. They are part of the on-disk
// format; never renumber.
const (
	fieldKey              protowire.Number = 1
	fieldComponents       protowire.Number = 2
	fieldEntities         protowire.Number = 3
	fieldWatermark        protowire.Number = 4
	fieldRemoteBlock      protowire.Number = 5
	fieldRemoteNonce      protowire.Number = 6
	fieldRemoteComponents protowire.Number = 7
	fieldRemoteEntities   protowire.Number = 8
	fieldValue            protowire.Number = 9
	fieldChainID          protowire.Number = 10
	fieldWorld            protowire.Number = 11
	fieldSchemaVersion    protowire.Number = 12

	fieldValueComponent protowire.Number = 1
	fieldValueEntity    protowire.Number = 2
	fieldValueData      protowire.Number = 3
)

// record is a cache image whose values are already serialized.
type record struct {
	identity Identity
	key      string
	image    cache.Image[[]byte]
}

func appendPacked(b []byte, num protowire.Number, vals []uint32) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func (r *record) marshal(b []byte) []byte {
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, r.key)
	b = protowire.AppendTag(b, fieldChainID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.identity.ChainID)
	b = protowire.AppendTag(b, fieldWorld, protowire.BytesType)
	b = protowire.AppendString(b, r.identity.World)
	b = protowire.AppendTag(b, fieldSchemaVersion, protowire.BytesType)
	b = protowire.AppendString(b, r.identity.SchemaVersion)

	for _, s := range r.image.Components {
		b = protowire.AppendTag(b, fieldComponents, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	for _, s := range r.image.Entities {
		b = protowire.AppendTag(b, fieldEntities, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	b = protowire.AppendTag(b, fieldWatermark, protowire.VarintType)
	b = protowire.AppendVarint(b, r.image.Watermark)
	b = protowire.AppendTag(b, fieldRemoteBlock, protowire.VarintType)
	b = protowire.AppendVarint(b, r.image.Remote.Block)
	if r.image.Remote.Nonce != "" {
		b = protowire.AppendTag(b, fieldRemoteNonce, protowire.BytesType)
		b = protowire.AppendString(b, r.image.Remote.Nonce)
	}
	b = appendPacked(b, fieldRemoteComponents, r.image.Remote.Components)
	b = appendPacked(b, fieldRemoteEntities, r.image.Remote.Entities)

	var v []byte
	for _, iv := range r.image.Values {
		v = v[:0]
		v = protowire.AppendTag(v, fieldValueComponent, protowire.VarintType)
		v = protowire.AppendVarint(v, uint64(iv.Component))
		v = protowire.AppendTag(v, fieldValueEntity, protowire.VarintType)
		v = protowire.AppendVarint(v, uint64(iv.Entity))
		v = protowire.AppendTag(v, fieldValueData, protowire.BytesType)
		v = protowire.AppendBytes(v, iv.Value)
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b
}

func consumePacked(b []byte) ([]uint32, error) {
	var out []uint32
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, uint32(v))
		b = b[n:]
	}
	return out, nil
}

func unmarshalValue(b []byte) (cache.ImageValue[[]byte], error) {
	var iv cache.ImageValue[[]byte]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return iv, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldValueComponent && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return iv, protowire.ParseError(m)
			}
			iv.Component, n = uint32(v), m
		case num == fieldValueEntity && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return iv, protowire.ParseError(m)
			}
			iv.Entity, n = uint32(v), m
		case num == fieldValueData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return iv, protowire.ParseError(m)
			}
			iv.Value, n = append([]byte(nil), v...), m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return iv, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return iv, nil
}

func (r *record) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
			}
			switch num {
			case fieldWatermark:
				r.image.Watermark = v
			case fieldRemoteBlock:
				r.image.Remote.Block = v
			case fieldChainID:
				r.identity.ChainID = v
			}
			b = b[m:]
			continue
		}
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}

		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
		switch num {
		case fieldKey:
			r.key = string(v)
		case fieldWorld:
			r.identity.World = string(v)
		case fieldSchemaVersion:
			r.identity.SchemaVersion = string(v)
		case fieldComponents:
			r.image.Components = append(r.image.Components, string(v))
		case fieldEntities:
			r.image.Entities = append(r.image.Entities, string(v))
		case fieldRemoteNonce:
			r.image.Remote.Nonce = string(v)
		case fieldRemoteComponents:
			vals, err := consumePacked(v)
			if err != nil {
				return fmt.Errorf("remote components: %w", err)
			}
			r.image.Remote.Components = append(r.image.Remote.Components, vals...)
		case fieldRemoteEntities:
			vals, err := consumePacked(v)
			if err != nil {
				return fmt.Errorf("remote entities: %w", err)
			}
			r.image.Remote.Entities = append(r.image.Remote.Entities, vals...)
		case fieldValue:
			iv, err := unmarshalValue(v)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			r.image.Values = append(r.image.Values, iv)
		}
	}
	return nil
}
