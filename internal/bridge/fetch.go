package bridge

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// installFetch exposes the promise-based fetch(url, options) global.
// Validation failures and backpressure reject the promise without ever
// reaching the I/O substrate; the rejection is still delivered through the
// job queue so the promise never settles in the turn that created it.
func (b *Bridge) installFetch(s *sandbox.Sandbox, limiter *rate.Limiter) error {
	vm := s.VM()

	return vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		result := vm.ToValue(promise)

		rejectLater := func(code, msg string) {
			settleLater(s, func(vm *goja.Runtime) {
				reject(scriptError(vm, code, "%s", msg))
			})
		}

		req, err := b.parseFetchArgs(vm, call)
		if err != nil {
			rejectLater(CodeValidation, err.Error())
			return result
		}
		if err := b.validate(req, s.Config().AllowedOrigins); err != nil {
			rejectLater(CodeValidation, err.Error())
			return result
		}

		_, err = b.dispatch(s, limiter, req, func(vm *goja.Runtime, resp *response, reqErr error) error {
			if reqErr != nil {
				reject(scriptError(vm, CodeNetwork, "fetch %s: %v", req.URL, reqErr))
				return nil
			}
			obj, convErr := makeResponseObject(vm, s, req.URL, resp)
			if convErr != nil {
				reject(scriptError(vm, CodeNetwork, "fetch %s: %v", req.URL, convErr))
				return nil
			}
			resolve(obj)
			return nil
		})
		if err != nil {
			if errors.Is(err, sandbox.ErrResourceExhausted) {
				rejectLater(CodeResourceExhausted, err.Error())
			} else {
				rejectLater(CodeNetwork, err.Error())
			}
		}
		return result
	})
}

// parseFetchArgs reads fetch's (url, options) surface: {method, headers,
// body, timeoutMs}.
func (b *Bridge) parseFetchArgs(vm *goja.Runtime, call goja.FunctionCall) (*request, error) {
	urlArg := call.Argument(0)
	if goja.IsUndefined(urlArg) {
		return nil, errors.New("fetch requires a url")
	}

	req := &request{
		URL:     urlArg.String(),
		Method:  http.MethodGet,
		Timeout: b.cfg.DefaultTimeout,
	}

	optsArg := call.Argument(1)
	if goja.IsUndefined(optsArg) || goja.IsNull(optsArg) {
		return req, nil
	}
	opts := optsArg.ToObject(vm)
	if opts == nil {
		return nil, errors.New("fetch options must be an object")
	}

	if v := opts.Get("method"); v != nil && !goja.IsUndefined(v) {
		req.Method = strings.ToUpper(v.String())
	}
	if v := opts.Get("headers"); v != nil {
		headers, err := parseHeaders(v)
		if err != nil {
			return nil, err
		}
		req.Headers = headers
	}
	if v := opts.Get("body"); v != nil {
		body, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	if v := opts.Get("timeoutMs"); v != nil && !goja.IsUndefined(v) {
		req.Timeout = time.Duration(v.ToInteger()) * time.Millisecond
	}
	return req, nil
}

// makeResponseObject builds the script-visible Response. The body stays
// host-side; text/json/arrayBuffer hand it to the engine through jobs so
// the body promises observe the always-asynchronous rule too.
func makeResponseObject(vm *goja.Runtime, s *sandbox.Sandbox, url string, resp *response) (*goja.Object, error) {
	obj := vm.NewObject()
	body := resp.Body

	fields := map[string]interface{}{
		"status":     resp.Status,
		"statusText": resp.StatusText,
		"ok":         resp.Status >= 200 && resp.Status < 300,
		"url":        url,
	}
	for name, value := range fields {
		if err := obj.Set(name, value); err != nil {
			return nil, err
		}
	}

	headers, err := headersToJS(vm, resp.Headers)
	if err != nil {
		return nil, err
	}
	if err := obj.Set("headers", headers); err != nil {
		return nil, err
	}

	bodyPromise := func(convert func(vm *goja.Runtime) (goja.Value, error)) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			promise, resolve, reject := vm.NewPromise()
			settleLater(s, func(vm *goja.Runtime) {
				value, err := convert(vm)
				if err != nil {
					reject(scriptError(vm, CodeNetwork, "reading body: %v", err))
					return
				}
				resolve(value)
			})
			return vm.ToValue(promise)
		}
	}

	if err := obj.Set("text", bodyPromise(func(vm *goja.Runtime) (goja.Value, error) {
		return vm.ToValue(string(body)), nil
	})); err != nil {
		return nil, err
	}
	if err := obj.Set("json", bodyPromise(func(vm *goja.Runtime) (goja.Value, error) {
		var parsed interface{}
		if err := sonic.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		return vm.ToValue(parsed), nil
	})); err != nil {
		return nil, err
	}
	if err := obj.Set("arrayBuffer", bodyPromise(func(vm *goja.Runtime) (goja.Value, error) {
		buf := make([]byte, len(body))
		copy(buf, body)
		return vm.ToValue(vm.NewArrayBuffer(buf)), nil
	})); err != nil {
		return nil, err
	}
	return obj, nil
}
