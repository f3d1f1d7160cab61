package bridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// toBytes extracts byte input from a script value: strings, ArrayBuffers and
// typed arrays are accepted, everything else is a validation error.
func toBytes(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch exported := v.Export().(type) {
	case string:
		return []byte(exported), nil
	case []byte:
		// Typed arrays export as a view over the underlying buffer; copy
		// so host-owned buffers cannot be mutated by the script afterwards.
		out := make([]byte, len(exported))
		copy(out, exported)
		return out, nil
	case goja.ArrayBuffer:
		buf := exported.Bytes()
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	default:
		return nil, fmt.Errorf("expected string, ArrayBuffer or typed array, got %T", exported)
	}
}

// parseHeaders accepts either an object of name to value or an array of
// [name, value] pairs, mirroring the request surface of the host API.
func parseHeaders(v goja.Value) ([][2]string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch exported := v.Export().(type) {
	case map[string]interface{}:
		names := make([]string, 0, len(exported))
		for name := range exported {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([][2]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, [2]string{name, fmt.Sprint(exported[name])})
		}
		return pairs, nil
	case []interface{}:
		pairs := make([][2]string, 0, len(exported))
		for _, item := range exported {
			pair, ok := item.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("header entries must be [name, value] pairs")
			}
			pairs = append(pairs, [2]string{fmt.Sprint(pair[0]), fmt.Sprint(pair[1])})
		}
		return pairs, nil
	default:
		return nil, fmt.Errorf("headers must be an object or an array of pairs, got %T", exported)
	}
}

// headersToJS builds the script-visible headers object: lowercased names
// plus a case-insensitive get method.
func headersToJS(vm *goja.Runtime, headers [][2]string) (*goja.Object, error) {
	byName := make(map[string]string, len(headers))
	obj := vm.NewObject()
	for _, h := range headers {
		name := strings.ToLower(h[0])
		byName[name] = h[1]
		if err := obj.Set(name, h[1]); err != nil {
			return nil, err
		}
	}
	err := obj.Set("get", func(call goja.FunctionCall) goja.Value {
		value, ok := byName[strings.ToLower(call.Argument(0).String())]
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(value)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
