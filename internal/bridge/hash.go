package bridge

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/dop251/goja"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// digest computes a one-shot hash of data.
func digest(algorithm string, data []byte) ([]byte, error) {
	var h hash.Hash
	switch algorithm {
	case "sha256":
		h = sha256.New()
	case "keccak256":
		h = sha3.NewLegacyKeccak256()
	case "blake2b128":
		var err error
		if h, err = blake2b.New(16, nil); err != nil {
			return nil, err
		}
	case "blake2b256":
		var err error
		if h, err = blake2b.New256(nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// installHash exposes one-shot digests two ways: Sidevm.hash(algo, data)
// returns the digest synchronously, Sidevm.hashAsync(algo, data) returns a
// promise that settles on a later tick like every other bridged capability.
func (b *Bridge) installHash(s *sandbox.Sandbox, ns *goja.Object) error {
	vm := s.VM()

	hashArgs := func(call goja.FunctionCall) (string, []byte, error) {
		algorithm := call.Argument(0).String()
		data, err := toBytes(call.Argument(1))
		if err != nil {
			return "", nil, err
		}
		return algorithm, data, nil
	}

	if err := ns.Set("hash", func(call goja.FunctionCall) goja.Value {
		algorithm, data, err := hashArgs(call)
		if err != nil {
			panic(scriptError(vm, CodeValidation, "%s", err.Error()))
		}
		sum, err := digest(algorithm, data)
		if err != nil {
			panic(scriptError(vm, CodeValidation, "%s", err.Error()))
		}
		return vm.ToValue(vm.NewArrayBuffer(sum))
	}); err != nil {
		return err
	}

	return ns.Set("hashAsync", func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		algorithm, data, err := hashArgs(call)
		if err == nil {
			var sum []byte
			sum, err = digest(algorithm, data)
			if err == nil {
				settleLater(s, func(vm *goja.Runtime) {
					resolve(vm.ToValue(vm.NewArrayBuffer(sum)))
				})
				return vm.ToValue(promise)
			}
		}

		msg := err.Error()
		settleLater(s, func(vm *goja.Runtime) {
			reject(scriptError(vm, CodeValidation, "%s", msg))
		})
		return vm.ToValue(promise)
	})
}
