// Package plist implements the subset of Apple's binary property list
// format used by AirPlay 2 control bodies: dictionaries with string keys,
// arrays, signed integers, booleans, UTF-8 strings, byte blobs and reals.
//
// The encoder does not attempt Apple's object-uniquing behavior; it is
// deterministic in its own right, which is the property the control plane
// actually needs (stable encoding so the same logical body always produces
// the same bytes, e.g. for request signing).
package plist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf16"
)

// ErrMalformed is returned for any structurally invalid binary plist.
var ErrMalformed = errors.New("plist: malformed document")

const magic = "bplist00"

// Dict is an ordered-on-encode map with string keys. Keys are sorted before
// encoding so the same logical dictionary always encodes identically
// regardless of how it was built.
type Dict map[string]interface{}

// Array is a plist array.
type Array []interface{}

// Data is an opaque byte blob.
type Data []byte

// -------------------------------------------------------------------
// encoding
// -------------------------------------------------------------------

type node struct {
	kind     byte // 'n','b','i','r','s','d','a' ('z'=data)
	ival     int64
	rval     float64
	bval     bool
	sval     string
	dval     []byte
	children []int // array: elements; dict: keys then values
}

// Marshal encodes v (expected to be a Dict, Array, or scalar) into a binary
// plist document.
func Marshal(v interface{}) ([]byte, error) {
	var nodes []node
	if err := flatten(v, &nodes); err != nil {
		return nil, err
	}

	refSize := sizeForCount(len(nodes))

	offsets := make([]int, len(nodes))
	buf := make([]byte, 0, len(nodes)*8+32)
	buf = append(buf, magic...)

	for i, n := range nodes {
		offsets[i] = len(buf)
		var err error
		buf, err = renderNode(buf, n, refSize)
		if err != nil {
			return nil, err
		}
	}

	offsetTableStart := len(buf)
	offSize := sizeForValue(uint64(len(buf)))
	for _, off := range offsets {
		buf = appendUint(buf, uint64(off), offSize)
	}

	var trailer [32]byte
	trailer[6] = byte(offSize)
	trailer[7] = byte(refSize)
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(nodes)))
	binary.BigEndian.PutUint64(trailer[16:24], 0) // top object is always index 0
	binary.BigEndian.PutUint64(trailer[24:32], uint64(offsetTableStart))
	buf = append(buf, trailer[:]...)

	return buf, nil
}

func flatten(v interface{}, nodes *[]node) error {
	idx := len(*nodes)
	*nodes = append(*nodes, node{})

	switch t := v.(type) {
	case nil:
		(*nodes)[idx] = node{kind: 'n'}

	case bool:
		(*nodes)[idx] = node{kind: 'b', bval: t}

	case int:
		(*nodes)[idx] = node{kind: 'i', ival: int64(t)}
	case int64:
		(*nodes)[idx] = node{kind: 'i', ival: t}
	case uint64:
		(*nodes)[idx] = node{kind: 'i', ival: int64(t)}

	case float64:
		(*nodes)[idx] = node{kind: 'r', rval: t}
	case float32:
		(*nodes)[idx] = node{kind: 'r', rval: float64(t)}

	case string:
		(*nodes)[idx] = node{kind: 's', sval: t}

	case Data:
		(*nodes)[idx] = node{kind: 'z', dval: []byte(t)}
	case []byte:
		(*nodes)[idx] = node{kind: 'z', dval: t}

	case Array:
		children := make([]int, len(t))
		for i, e := range t {
			c, err := flattenChild(e, nodes)
			if err != nil {
				return err
			}
			children[i] = c
		}
		(*nodes)[idx] = node{kind: 'a', children: children}

	case Dict:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		children := make([]int, 0, len(keys)*2)
		keyIdx := make([]int, len(keys))
		for i, k := range keys {
			ki, err := flattenChild(k, nodes)
			if err != nil {
				return err
			}
			keyIdx[i] = ki
		}
		for _, k := range keys {
			vi, err := flattenChild(t[k], nodes)
			if err != nil {
				return err
			}
			children = append(children, vi)
		}
		children = append(keyIdx, children...)
		(*nodes)[idx] = node{kind: 'd', children: children}

	default:
		return fmt.Errorf("plist: unsupported type %T", v)
	}

	return nil
}

func flattenChild(v interface{}, nodes *[]node) (int, error) {
	idx := len(*nodes)
	if err := flatten(v, nodes); err != nil {
		return 0, err
	}
	return idx, nil
}

func renderNode(buf []byte, n node, refSize int) ([]byte, error) {
	switch n.kind {
	case 'n':
		return append(buf, 0x00), nil
	case 'b':
		if n.bval {
			return append(buf, 0x09), nil
		}
		return append(buf, 0x08), nil
	case 'i':
		width, nbytes := intWidth(n.ival)
		buf = append(buf, 0x10|width)
		return appendIntBE(buf, n.ival, nbytes), nil
	case 'r':
		buf = append(buf, 0x23) // real, 8 bytes (width nibble 3 -> 2^3=8)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(n.rval))
		return append(buf, b[:]...), nil
	case 's':
		return renderString(buf, n.sval), nil
	case 'z':
		buf = appendCountMarker(buf, 0x40, len(n.dval))
		return append(buf, n.dval...), nil
	case 'a':
		buf = appendCountMarker(buf, 0xA0, len(n.children))
		for _, c := range n.children {
			buf = appendUint(buf, uint64(c), refSize)
		}
		return buf, nil
	case 'd':
		half := len(n.children) / 2
		buf = appendCountMarker(buf, 0xD0, half)
		for _, c := range n.children {
			buf = appendUint(buf, uint64(c), refSize)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("plist: internal: unknown node kind %q", n.kind)
	}
}

func renderString(buf []byte, s string) []byte {
	if isASCII(s) {
		buf = appendCountMarker(buf, 0x50, len(s))
		return append(buf, s...)
	}
	units := utf16.Encode([]rune(s))
	buf = appendCountMarker(buf, 0x60, len(units))
	for _, u := range units {
		buf = append(buf, byte(u>>8), byte(u))
	}
	return buf
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// appendCountMarker writes the marker byte for kind|count, inlining count
// in the low nibble when it fits in 0..14, else writing 0xF followed by an
// integer object encoding the count.
func appendCountMarker(buf []byte, kind byte, count int) []byte {
	if count < 15 {
		return append(buf, kind|byte(count))
	}
	buf = append(buf, kind|0x0F)
	width, nbytes := intWidth(int64(count))
	buf = append(buf, 0x10|width)
	return appendIntBE(buf, int64(count), nbytes)
}

// intWidth returns the marker nibble (log2 of byte width) and byte width
// needed to represent v, using the smallest of 1/2/4/8 bytes. Negative
// values always take the full 8 bytes, matching Apple's encoder.
func intWidth(v int64) (nibble byte, nbytes int) {
	if v < 0 {
		return 3, 8
	}
	switch {
	case v <= 0xFF:
		return 0, 1
	case v <= 0xFFFF:
		return 1, 2
	case v <= 0xFFFFFFFF:
		return 2, 4
	default:
		return 3, 8
	}
}

func appendIntBE(buf []byte, v int64, nbytes int) []byte {
	switch nbytes {
	case 1:
		return append(buf, byte(v))
	case 2:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		return append(buf, b[:]...)
	case 4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return append(buf, b[:]...)
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		return append(buf, b[:]...)
	}
}

func appendUint(buf []byte, v uint64, nbytes int) []byte {
	switch nbytes {
	case 1:
		return append(buf, byte(v))
	case 2:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		return append(buf, b[:]...)
	case 4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return append(buf, b[:]...)
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		return append(buf, b[:]...)
	}
}

func sizeForCount(n int) int {
	return sizeForValue(uint64(n))
}

func sizeForValue(v uint64) int {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}
