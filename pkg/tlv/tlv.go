// Package tlv implements the type-length-value framing used by the pairing
// protocol: repeated (type:u8, length:u8, value:length bytes) records, with
// values longer than 255 bytes split across adjacent same-type records.
package tlv

import (
	"errors"
)

// Type identifies a TLV field. Only the values the pairing engine actually
// emits or consumes are named; unrecognized types round-trip through
// Items untouched.
type Type uint8

// well-known pairing TLV types.
const (
	TypeMethod        Type = 0
	TypeIdentifier    Type = 1
	TypeSalt          Type = 2
	TypePublicKey     Type = 3
	TypeProof         Type = 4
	TypeEncryptedData Type = 5
	TypeState         Type = 6
	TypeError         Type = 7
	TypeSignature     Type = 10
	TypeFlags         Type = 19
)

// ErrMalformed is returned when a TLV record is truncated.
var ErrMalformed = errors.New("tlv: malformed record")

const maxChunk = 255

// Items is an ordered multi-map of TLV type to reassembled value, preserving
// the order in which types were first seen.
type Items struct {
	order  []Type
	values map[Type][]byte
}

// NewItems returns an empty Items set.
func NewItems() *Items {
	return &Items{values: make(map[Type][]byte)}
}

// Set stores v for t, overwriting any previous value for the same type.
func (it *Items) Set(t Type, v []byte) {
	if _, ok := it.values[t]; !ok {
		it.order = append(it.order, t)
	}
	it.values[t] = v
}

// Get returns the reassembled value for t, and whether it was present.
func (it *Items) Get(t Type) ([]byte, bool) {
	v, ok := it.values[t]
	return v, ok
}

// GetByte returns the first byte of t's value, for single-byte fields like
// State and Error.
func (it *Items) GetByte(t Type) (byte, bool) {
	v, ok := it.values[t]
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// Decode parses a complete TLV byte stream into Items. Runs of adjacent
// records sharing a type are concatenated, which is how values longer than
// 255 bytes are represented on the wire.
func Decode(data []byte) (*Items, error) {
	it := NewItems()

	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return nil, ErrMalformed
		}
		t := Type(data[i])
		length := int(data[i+1])
		i += 2

		if i+length > len(data) {
			return nil, ErrMalformed
		}
		chunk := data[i : i+length]
		i += length

		if existing, ok := it.values[t]; ok {
			it.values[t] = append(existing, chunk...)
		} else {
			it.Set(t, append([]byte(nil), chunk...))
		}
	}

	return it, nil
}

// Encode serializes it in insertion order, splitting any value longer than
// 255 bytes into consecutive same-type records.
func Encode(it *Items) []byte {
	out := make([]byte, 0, 64)
	for _, t := range it.order {
		out = appendField(out, t, it.values[t])
	}
	return out
}

func appendField(out []byte, t Type, v []byte) []byte {
	if len(v) == 0 {
		return append(out, byte(t), 0)
	}
	for off := 0; off < len(v); off += maxChunk {
		end := off + maxChunk
		if end > len(v) {
			end = len(v)
		}
		out = append(out, byte(t), byte(end-off))
		out = append(out, v[off:end]...)
	}
	return out
}

// EncodeFields is a convenience constructor+encoder for the common case of
// a flat, pre-ordered list of fields with no repeated types.
func EncodeFields(fields ...Field) []byte {
	it := NewItems()
	for _, f := range fields {
		it.Set(f.Type, f.Value)
	}
	return Encode(it)
}

// Field is one (type, value) pair, used with EncodeFields.
type Field struct {
	Type  Type
	Value []byte
}
