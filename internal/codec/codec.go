// Package codec implements the compact binary serialization exposed to
// scripts. Values are encoded untagged; a type descriptor supplies the shape
// on decode. Integers are little-endian, collection lengths use a compact
// prefix, options use a one-byte presence marker.
package codec

import (
	"encoding/binary"
	"math"
)

// Error is returned for malformed descriptors, truncated buffers, or value
// shapes that do not match the requested descriptor.
type Error struct {
	Op  string // "parse", "encode", "decode"
	Msg string
}

func (e *Error) Error() string {
	return "codec: " + e.Op + ": " + e.Msg
}

// Encode serializes v according to d. If d is nil the descriptor is inferred
// from the value's shape. The input is never partially consumed: on error the
// returned bytes are nil.
func Encode(v interface{}, d *Descriptor) ([]byte, error) {
	if d == nil {
		inferred, err := Infer(v)
		if err != nil {
			return nil, err
		}
		d = inferred
	}
	buf, err := encodeValue(nil, v, d)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode deserializes data according to d. Trailing bytes are an error.
func Decode(d *Descriptor, data []byte) (interface{}, error) {
	v, rest, err := decodeValue(data, d)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errf("decode", "%d trailing bytes after value", len(rest))
	}
	return v, nil
}

func encodeValue(buf []byte, v interface{}, d *Descriptor) ([]byte, error) {
	switch d.Kind {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, errf("encode", "expected bool, got %T", v)
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case U8, U16, U32, U64:
		n, err := asUint(v, d)
		if err != nil {
			return nil, err
		}
		return appendUint(buf, n, intWidth(d.Kind)), nil

	case I8, I16, I32, I64:
		n, err := asInt(v, d)
		if err != nil {
			return nil, err
		}
		return appendUint(buf, uint64(n), intWidth(d.Kind)), nil

	case F64:
		f, ok := asFloat(v)
		if !ok {
			return nil, errf("encode", "expected number, got %T", v)
		}
		return appendUint(buf, math.Float64bits(f), 8), nil

	case Compact:
		n, err := asUint(v, d)
		if err != nil {
			return nil, err
		}
		return appendCompact(buf, n), nil

	case Str:
		s, ok := v.(string)
		if !ok {
			return nil, errf("encode", "expected string, got %T", v)
		}
		buf = appendCompact(buf, uint64(len(s)))
		return append(buf, s...), nil

	case Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, errf("encode", "expected bytes, got %T", v)
		}
		buf = appendCompact(buf, uint64(len(b)))
		return append(buf, b...), nil

	case Option:
		if v == nil {
			return append(buf, 0), nil
		}
		buf = append(buf, 1)
		return encodeValue(buf, v, d.Elem)

	case Vec:
		items, ok := v.([]interface{})
		if !ok {
			return nil, errf("encode", "expected array, got %T", v)
		}
		buf = appendCompact(buf, uint64(len(items)))
		var err error
		for i, item := range items {
			if buf, err = encodeValue(buf, item, d.Elem); err != nil {
				return nil, errf("encode", "element %d: %v", i, err)
			}
		}
		return buf, nil

	case Tuple:
		items, ok := v.([]interface{})
		if !ok {
			return nil, errf("encode", "expected array for tuple, got %T", v)
		}
		if len(items) != len(d.Elems) {
			return nil, errf("encode", "tuple arity mismatch: have %d, want %d", len(items), len(d.Elems))
		}
		var err error
		for i, item := range items {
			if buf, err = encodeValue(buf, item, d.Elems[i]); err != nil {
				return nil, errf("encode", "tuple element %d: %v", i, err)
			}
		}
		return buf, nil

	case Struct:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, errf("encode", "expected object, got %T", v)
		}
		var err error
		for _, f := range d.Fields {
			fv, present := obj[f.Name]
			if !present && f.Type.Kind != Option {
				return nil, errf("encode", "missing field %q", f.Name)
			}
			if buf, err = encodeValue(buf, fv, f.Type); err != nil {
				return nil, errf("encode", "field %q: %v", f.Name, err)
			}
		}
		return buf, nil
	}
	return nil, errf("encode", "invalid descriptor kind %d", d.Kind)
}

func decodeValue(data []byte, d *Descriptor) (interface{}, []byte, error) {
	switch d.Kind {
	case Bool:
		if len(data) < 1 {
			return nil, nil, errTruncated()
		}
		switch data[0] {
		case 0:
			return false, data[1:], nil
		case 1:
			return true, data[1:], nil
		}
		return nil, nil, errf("decode", "invalid bool byte 0x%02x", data[0])

	case U8, U16, U32, U64:
		n, rest, err := readUint(data, intWidth(d.Kind))
		if err != nil {
			return nil, nil, err
		}
		return n, rest, nil

	case I8, I16, I32, I64:
		w := intWidth(d.Kind)
		n, rest, err := readUint(data, w)
		if err != nil {
			return nil, nil, err
		}
		return signExtend(n, w), rest, nil

	case F64:
		n, rest, err := readUint(data, 8)
		if err != nil {
			return nil, nil, err
		}
		return math.Float64frombits(n), rest, nil

	case Compact:
		n, rest, err := readCompact(data)
		if err != nil {
			return nil, nil, err
		}
		return n, rest, nil

	case Str:
		b, rest, err := readBlob(data)
		if err != nil {
			return nil, nil, err
		}
		return string(b), rest, nil

	case Bytes:
		b, rest, err := readBlob(data)
		if err != nil {
			return nil, nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, rest, nil

	case Option:
		if len(data) < 1 {
			return nil, nil, errTruncated()
		}
		switch data[0] {
		case 0:
			return nil, data[1:], nil
		case 1:
			return decodeValue(data[1:], d.Elem)
		}
		return nil, nil, errf("decode", "invalid option marker 0x%02x", data[0])

	case Vec:
		n, rest, err := readCompact(data)
		if err != nil {
			return nil, nil, err
		}
		if n > uint64(len(rest)) {
			// Cheap upper bound: every element takes at least one byte
			// unless the element type is zero-width, which ours never are.
			return nil, nil, errf("decode", "length prefix %d exceeds remaining %d bytes", n, len(rest))
		}
		items := make([]interface{}, 0, n)
		for i := uint64(0); i < n; i++ {
			var item interface{}
			item, rest, err = decodeValue(rest, d.Elem)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
		}
		return items, rest, nil

	case Tuple:
		items := make([]interface{}, 0, len(d.Elems))
		rest := data
		for _, elem := range d.Elems {
			var item interface{}
			var err error
			item, rest, err = decodeValue(rest, elem)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
		}
		return items, rest, nil

	case Struct:
		obj := make(map[string]interface{}, len(d.Fields))
		rest := data
		for _, f := range d.Fields {
			var fv interface{}
			var err error
			fv, rest, err = decodeValue(rest, f.Type)
			if err != nil {
				return nil, nil, errf("decode", "field %q: %v", f.Name, err)
			}
			obj[f.Name] = fv
		}
		return obj, rest, nil
	}
	return nil, nil, errf("decode", "invalid descriptor kind %d", d.Kind)
}

func intWidth(k Kind) int {
	switch k {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32:
		return 4
	default:
		return 8
	}
}

func asUint(v interface{}, d *Descriptor) (uint64, error) {
	var n uint64
	switch val := v.(type) {
	case uint64:
		n = val
	case int:
		if val < 0 {
			return 0, errf("encode", "negative value %d for %s", val, d)
		}
		n = uint64(val)
	case int64:
		if val < 0 {
			return 0, errf("encode", "negative value %d for %s", val, d)
		}
		n = uint64(val)
	case float64:
		if val < 0 || val != math.Trunc(val) || val > math.MaxUint64 {
			return 0, errf("encode", "value %v not representable as %s", val, d)
		}
		n = uint64(val)
	default:
		return 0, errf("encode", "expected unsigned integer, got %T", v)
	}
	if w := intWidth(d.Kind); w < 8 && n >= 1<<(8*w) {
		return 0, errf("encode", "value %d overflows %s", n, d)
	}
	return n, nil
}

func asInt(v interface{}, d *Descriptor) (int64, error) {
	var n int64
	switch val := v.(type) {
	case int:
		n = int64(val)
	case int64:
		n = val
	case uint64:
		if val > math.MaxInt64 {
			return 0, errf("encode", "value %d overflows %s", val, d)
		}
		n = int64(val)
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return 0, errf("encode", "value %v not representable as %s", val, d)
		}
		n = int64(val)
	default:
		return 0, errf("encode", "expected integer, got %T", v)
	}
	if w := intWidth(d.Kind); w < 8 {
		limit := int64(1) << (8*w - 1)
		if n >= limit || n < -limit {
			return 0, errf("encode", "value %d overflows %s", n, d)
		}
	}
	return n, nil
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

func signExtend(n uint64, width int) int64 {
	shift := uint(64 - 8*width)
	return int64(n<<shift) >> shift
}

func appendUint(buf []byte, n uint64, width int) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], n)
	return append(buf, tmp[:width]...)
}

func readUint(data []byte, width int) (uint64, []byte, error) {
	if len(data) < width {
		return 0, nil, errTruncated()
	}
	var tmp [8]byte
	copy(tmp[:], data[:width])
	return binary.LittleEndian.Uint64(tmp[:]), data[width:], nil
}

// appendCompact writes n in the compact integer format: two low mode bits
// select 1/2/4-byte fast paths or a length-prefixed big form.
func appendCompact(buf []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(buf, byte(n<<2))
	case n < 1<<14:
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(n<<2|1))
		return append(buf, tmp[:]...)
	case n < 1<<30:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(n<<2|2))
		return append(buf, tmp[:]...)
	default:
		width := 4
		for n >= 1<<(8*width) && width < 8 {
			width++
		}
		buf = append(buf, byte((width-4)<<2|3))
		return appendUint(buf, n, width)
	}
}

func readCompact(data []byte) (uint64, []byte, error) {
	if len(data) < 1 {
		return 0, nil, errTruncated()
	}
	switch data[0] & 0x03 {
	case 0:
		return uint64(data[0] >> 2), data[1:], nil
	case 1:
		n, rest, err := readUint(data, 2)
		if err != nil {
			return 0, nil, err
		}
		return n >> 2, rest, nil
	case 2:
		n, rest, err := readUint(data, 4)
		if err != nil {
			return 0, nil, err
		}
		return n >> 2, rest, nil
	default:
		width := int(data[0]>>2) + 4
		if width > 8 {
			return 0, nil, errf("decode", "invalid compact prefix 0x%02x", data[0])
		}
		return readUint(data[1:], width)
	}
}

func readBlob(data []byte) ([]byte, []byte, error) {
	n, rest, err := readCompact(data)
	if err != nil {
		return nil, nil, err
	}
	if n > uint64(len(rest)) {
		return nil, nil, errTruncated()
	}
	return rest[:n], rest[n:], nil
}

func errTruncated() *Error {
	return &Error{Op: "decode", Msg: "unexpected end of input"}
}
