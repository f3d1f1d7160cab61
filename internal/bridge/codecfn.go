package bridge

import (
	"github.com/dop251/goja"

	"github.com/Phala-Network/sidevm-quickjs/internal/codec"
	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// installCodec exposes the binary codec as a synchronous namespace:
//
//	Sidevm.codec.encode(value[, descriptor]) -> ArrayBuffer
//	Sidevm.codec.decode(descriptor, bytes)   -> value
//
// Failures throw a CodecError; no script-visible state is touched first.
func (b *Bridge) installCodec(s *sandbox.Sandbox, ns *goja.Object) error {
	vm := s.VM()
	codecNS := vm.NewObject()

	if err := codecNS.Set("encode", func(call goja.FunctionCall) goja.Value {
		var descriptor *codec.Descriptor
		if d := call.Argument(1); !goja.IsUndefined(d) && !goja.IsNull(d) {
			parsed, err := codec.Parse(d.String())
			if err != nil {
				panic(scriptError(vm, CodeCodec, "%s", err.Error()))
			}
			descriptor = parsed
		}

		value := normalizeForCodec(call.Argument(0).Export())
		encoded, err := codec.Encode(value, descriptor)
		if err != nil {
			panic(scriptError(vm, CodeCodec, "%s", err.Error()))
		}
		return vm.ToValue(vm.NewArrayBuffer(encoded))
	}); err != nil {
		return err
	}

	if err := codecNS.Set("decode", func(call goja.FunctionCall) goja.Value {
		descriptor, err := codec.Parse(call.Argument(0).String())
		if err != nil {
			panic(scriptError(vm, CodeCodec, "%s", err.Error()))
		}
		data, err := toBytes(call.Argument(1))
		if err != nil {
			panic(scriptError(vm, CodeCodec, "%s", err.Error()))
		}
		decoded, err := codec.Decode(descriptor, data)
		if err != nil {
			panic(scriptError(vm, CodeCodec, "%s", err.Error()))
		}
		return codecValueToJS(vm, decoded)
	}); err != nil {
		return err
	}

	return ns.Set("codec", codecNS)
}

// normalizeForCodec maps engine exports into the codec's value model:
// ArrayBuffers become byte slices, containers are normalized recursively.
func normalizeForCodec(v interface{}) interface{} {
	switch val := v.(type) {
	case goja.ArrayBuffer:
		buf := val.Bytes()
		out := make([]byte, len(buf))
		copy(out, buf)
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeForCodec(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for name, item := range val {
			out[name] = normalizeForCodec(item)
		}
		return out
	default:
		return v
	}
}

// codecValueToJS converts a decoded value into engine values, mapping byte
// slices to ArrayBuffers.
func codecValueToJS(vm *goja.Runtime, v interface{}) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case []byte:
		return vm.ToValue(vm.NewArrayBuffer(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = codecValueToJS(vm, item)
		}
		return vm.ToValue(out)
	case map[string]interface{}:
		obj := vm.NewObject()
		for name, item := range val {
			obj.Set(name, codecValueToJS(vm, item))
		}
		return obj
	default:
		return vm.ToValue(v)
	}
}
