package plist

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// Unmarshal decodes a binary plist document into a Go value: Dict, Array,
// string, int64, float64, bool, Data, or nil.
func Unmarshal(data []byte) (interface{}, error) {
	if len(data) < 8+32 || string(data[:8]) != magic {
		return nil, ErrMalformed
	}

	trailer := data[len(data)-32:]
	offSize := int(trailer[6])
	refSize := int(trailer[7])
	numObjects := int(binary.BigEndian.Uint64(trailer[8:16]))
	topObject := int(binary.BigEndian.Uint64(trailer[16:24]))
	offsetTableOffset := int(binary.BigEndian.Uint64(trailer[24:32]))

	if offSize == 0 || refSize == 0 {
		return nil, ErrMalformed
	}

	offsets := make([]int, numObjects)
	for i := 0; i < numObjects; i++ {
		pos := offsetTableOffset + i*offSize
		if pos+offSize > len(data) {
			return nil, ErrMalformed
		}
		offsets[i] = int(readUint(data[pos : pos+offSize]))
	}

	d := &decoder{data: data, offsets: offsets, refSize: refSize}
	return d.object(topObject)
}

type decoder struct {
	data    []byte
	offsets []int
	refSize int
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func (d *decoder) object(idx int) (interface{}, error) {
	if idx < 0 || idx >= len(d.offsets) {
		return nil, ErrMalformed
	}
	pos := d.offsets[idx]
	if pos >= len(d.data) {
		return nil, ErrMalformed
	}
	marker := d.data[pos]
	kind := marker & 0xF0
	low := marker & 0x0F

	switch kind {
	case 0x00:
		switch marker {
		case 0x00:
			return nil, nil
		case 0x08:
			return false, nil
		case 0x09:
			return true, nil
		}
		return nil, ErrMalformed

	case 0x10: // int
		nbytes := 1 << low
		if pos+1+nbytes > len(d.data) {
			return nil, ErrMalformed
		}
		raw := d.data[pos+1 : pos+1+nbytes]
		if nbytes >= 8 {
			return int64(readUint(raw)), nil
		}
		return int64(readUint(raw)), nil

	case 0x20: // real
		nbytes := 1 << low
		if pos+1+nbytes > len(d.data) {
			return nil, ErrMalformed
		}
		raw := readUint(d.data[pos+1 : pos+1+nbytes])
		if nbytes == 4 {
			return float64(math.Float32frombits(uint32(raw))), nil
		}
		return math.Float64frombits(raw), nil

	case 0x40: // data
		count, headerLen, err := d.count(pos, low)
		if err != nil {
			return nil, err
		}
		start := pos + headerLen
		if start+count > len(d.data) {
			return nil, ErrMalformed
		}
		return Data(append([]byte(nil), d.data[start:start+count]...)), nil

	case 0x50: // ASCII string
		count, headerLen, err := d.count(pos, low)
		if err != nil {
			return nil, err
		}
		start := pos + headerLen
		if start+count > len(d.data) {
			return nil, ErrMalformed
		}
		return string(d.data[start : start+count]), nil

	case 0x60: // UTF-16BE string
		count, headerLen, err := d.count(pos, low)
		if err != nil {
			return nil, err
		}
		start := pos + headerLen
		if start+count*2 > len(d.data) {
			return nil, ErrMalformed
		}
		units := make([]uint16, count)
		for i := 0; i < count; i++ {
			units[i] = binary.BigEndian.Uint16(d.data[start+i*2 : start+i*2+2])
		}
		return string(utf16.Decode(units)), nil

	case 0xA0: // array
		count, headerLen, err := d.count(pos, low)
		if err != nil {
			return nil, err
		}
		start := pos + headerLen
		out := make(Array, count)
		for i := 0; i < count; i++ {
			refPos := start + i*d.refSize
			if refPos+d.refSize > len(d.data) {
				return nil, ErrMalformed
			}
			ref := int(readUint(d.data[refPos : refPos+d.refSize]))
			v, err := d.object(ref)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case 0xD0: // dict
		count, headerLen, err := d.count(pos, low)
		if err != nil {
			return nil, err
		}
		start := pos + headerLen
		out := make(Dict, count)
		for i := 0; i < count; i++ {
			keyRefPos := start + i*d.refSize
			valRefPos := start + (count+i)*d.refSize
			if valRefPos+d.refSize > len(d.data) {
				return nil, ErrMalformed
			}
			keyRef := int(readUint(d.data[keyRefPos : keyRefPos+d.refSize]))
			valRef := int(readUint(d.data[valRefPos : valRefPos+d.refSize]))

			keyVal, err := d.object(keyRef)
			if err != nil {
				return nil, err
			}
			key, ok := keyVal.(string)
			if !ok {
				return nil, ErrMalformed
			}
			val, err := d.object(valRef)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil

	default:
		return nil, ErrMalformed
	}
}

// count reads the inline-or-extended count for a sized object starting at
// pos, returning the count and the number of header bytes it occupied
// (marker byte plus any extended int object).
func (d *decoder) count(pos int, low byte) (count int, headerLen int, err error) {
	if low != 0x0F {
		return int(low), 1, nil
	}
	if pos+1 >= len(d.data) {
		return 0, 0, ErrMalformed
	}
	intMarker := d.data[pos+1]
	if intMarker&0xF0 != 0x10 {
		return 0, 0, ErrMalformed
	}
	nbytes := 1 << (intMarker & 0x0F)
	if pos+2+nbytes > len(d.data) {
		return 0, 0, ErrMalformed
	}
	v := readUint(d.data[pos+2 : pos+2+nbytes])
	return int(v), 2 + nbytes, nil
}
