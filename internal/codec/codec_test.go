package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, descriptor string, value interface{}) interface{} {
	t.Helper()

	d, err := Parse(descriptor)
	require.NoError(t, err, "parse %q", descriptor)

	encoded, err := Encode(value, d)
	require.NoError(t, err, "encode %v as %q", value, descriptor)

	decoded, err := Decode(d, encoded)
	require.NoError(t, err, "decode %q", descriptor)
	return decoded
}

func TestRoundTripScalars(t *testing.T) {
	tests := []struct {
		descriptor string
		value      interface{}
		want       interface{}
	}{
		{"bool", true, true},
		{"bool", false, false},
		{"u8", int64(255), uint64(255)},
		{"u16", int64(65535), uint64(65535)},
		{"u32", int64(1 << 30), uint64(1 << 30)},
		{"u64", uint64(1) << 62, uint64(1) << 62},
		{"i8", int64(-128), int64(-128)},
		{"i16", int64(-30000), int64(-30000)},
		{"i32", int64(-2000000000), int64(-2000000000)},
		{"i64", int64(-1), int64(-1)},
		{"f64", 3.14159, 3.14159},
		{"f64", int64(2), float64(2)},
		{"compact", int64(0), uint64(0)},
		{"compact", int64(63), uint64(63)},
		{"compact", int64(16383), uint64(16383)},
		{"compact", int64(1 << 29), uint64(1 << 29)},
		{"compact", uint64(1) << 40, uint64(1) << 40},
		{"str", "hello", "hello"},
		{"str", "", ""},
		{"bytes", []byte{1, 2, 3}, []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			got := roundTrip(t, tt.descriptor, tt.value)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTripComposites(t *testing.T) {
	t.Run("option none", func(t *testing.T) {
		got := roundTrip(t, "option<str>", nil)
		assert.Nil(t, got)
	})

	t.Run("option some", func(t *testing.T) {
		got := roundTrip(t, "option<str>", "present")
		assert.Equal(t, "present", got)
	})

	t.Run("vec", func(t *testing.T) {
		got := roundTrip(t, "vec<i64>", []interface{}{int64(1), int64(-2), int64(3)})
		assert.Equal(t, []interface{}{int64(1), int64(-2), int64(3)}, got)
	})

	t.Run("empty vec", func(t *testing.T) {
		got := roundTrip(t, "vec<str>", []interface{}{})
		assert.Empty(t, got)
	})

	t.Run("nested vec", func(t *testing.T) {
		got := roundTrip(t, "vec<vec<u8>>", []interface{}{
			[]interface{}{int64(1)},
			[]interface{}{int64(2), int64(3)},
		})
		assert.Equal(t, []interface{}{
			[]interface{}{uint64(1)},
			[]interface{}{uint64(2), uint64(3)},
		}, got)
	})

	t.Run("tuple", func(t *testing.T) {
		got := roundTrip(t, "(str,u32,bool)", []interface{}{"id", int64(7), true})
		assert.Equal(t, []interface{}{"id", uint64(7), true}, got)
	})

	t.Run("struct", func(t *testing.T) {
		got := roundTrip(t, "{name:str,age:u8,tags:vec<str>}", map[string]interface{}{
			"name": "alice",
			"age":  int64(30),
			"tags": []interface{}{"a", "b"},
		})
		assert.Equal(t, map[string]interface{}{
			"name": "alice",
			"age":  uint64(30),
			"tags": []interface{}{"a", "b"},
		}, got)
	})

	t.Run("struct with optional field", func(t *testing.T) {
		got := roundTrip(t, "{id:u32,note:option<str>}", map[string]interface{}{
			"id": int64(1),
		})
		assert.Equal(t, map[string]interface{}{
			"id":   uint64(1),
			"note": nil,
		}, got)
	})
}

func TestEncodeInference(t *testing.T) {
	tests := []struct {
		name       string
		value      interface{}
		descriptor string
	}{
		{"bool", true, "bool"},
		{"integer", int64(42), "i64"},
		{"float", 1.5, "f64"},
		{"string", "x", "str"},
		{"bytes", []byte{9}, "bytes"},
		{"array", []interface{}{int64(1), int64(2)}, "vec<i64>"},
		{"object", map[string]interface{}{"b": "x", "a": int64(1)}, "{a:i64,b:str}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inferred, err := Infer(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.descriptor, inferred.String())

			// encode without a descriptor must agree with the inferred one
			auto, err := Encode(tt.value, nil)
			require.NoError(t, err)
			explicit, err := Encode(tt.value, inferred)
			require.NoError(t, err)
			assert.Equal(t, explicit, auto)
		})
	}
}

func TestCompactBoundaries(t *testing.T) {
	for _, n := range []uint64{0, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 40, 1<<64 - 1} {
		buf := appendCompact(nil, n)
		got, rest, err := readCompact(buf)
		require.NoError(t, err, "n=%d", n)
		assert.Empty(t, rest)
		assert.Equal(t, n, got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		data       []byte
	}{
		{"truncated u32", "u32", []byte{1, 2}},
		{"truncated string", "str", []byte{8, 'h', 'i'}},
		{"bad bool", "bool", []byte{2}},
		{"bad option marker", "option<u8>", []byte{7}},
		{"trailing bytes", "u8", []byte{1, 2}},
		{"vec length exceeds input", "vec<u8>", []byte{0xfd, 0xff, 0xff, 0xff}},
		{"empty input", "i64", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.descriptor)
			require.NoError(t, err)

			_, err = Decode(d, tt.data)
			require.Error(t, err)
			var codecErr *Error
			assert.ErrorAs(t, err, &codecErr)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		value      interface{}
	}{
		{"u8 overflow", "u8", int64(256)},
		{"negative unsigned", "u32", int64(-1)},
		{"i8 overflow", "i8", int64(128)},
		{"fractional integer", "i32", 1.5},
		{"wrong shape", "str", int64(1)},
		{"tuple arity", "(u8,u8)", []interface{}{int64(1)}},
		{"missing struct field", "{a:u8}", map[string]interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.descriptor)
			require.NoError(t, err)

			_, err = Encode(tt.value, d)
			require.Error(t, err)
			var codecErr *Error
			assert.ErrorAs(t, err, &codecErr)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{
		"", "u128", "vec<", "vec<u8", "option<>", "(u8,", "{a:u8",
		"{a:u8,a:u8}", "u8 extra", "vec u8",
	} {
		t.Run(bad, func(t *testing.T) {
			_, err := Parse(bad)
			assert.Error(t, err)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"bool", "u64", "option<vec<u8>>", "(str,u32,bool)",
		"{name:str,age:u8}", "vec<{id:u32,data:bytes}>",
	} {
		d, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, d.String())
	}
}
