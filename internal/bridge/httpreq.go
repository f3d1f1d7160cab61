package bridge

import (
	"time"

	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// installHTTPRequest exposes the low-level event-callback request API:
//
//	Sidevm.httpRequest({url, method, headers, body, textBody, timeoutMs}, cb)
//
// cb is invoked as cb(eventName, data) with "head", then "data", then "end",
// or "error". fetch and XMLHttpRequest are layered over the same internals.
func (b *Bridge) installHTTPRequest(s *sandbox.Sandbox, ns *goja.Object, limiter *rate.Limiter) error {
	vm := s.VM()

	return ns.Set("httpRequest", func(call goja.FunctionCall) goja.Value {
		req, err := b.parseRequestObject(vm, call.Argument(0))
		if err != nil {
			panic(scriptError(vm, CodeValidation, "%s", err.Error()))
		}
		callback, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("httpRequest requires a callback function"))
		}
		if err := b.validate(req, s.Config().AllowedOrigins); err != nil {
			panic(scriptError(vm, CodeValidation, "%s", err.Error()))
		}

		emit := func(vm *goja.Runtime, name string, data goja.Value) error {
			_, callErr := callback(goja.Undefined(), vm.ToValue(name), data)
			return s.CallbackError("httpRequest", callErr)
		}

		id, dispatchErr := b.dispatch(s, limiter, req, func(vm *goja.Runtime, resp *response, reqErr error) error {
			if reqErr != nil {
				return emit(vm, "error", vm.ToValue(reqErr.Error()))
			}
			head := vm.NewObject()
			head.Set("status", resp.Status)
			head.Set("statusText", resp.StatusText)
			head.Set("version", "HTTP/1.1")
			if headers, err := headersToJS(vm, resp.Headers); err == nil {
				head.Set("headers", headers)
			}
			if err := emit(vm, "head", head); err != nil {
				return err
			}
			if err := emit(vm, "data", vm.ToValue(vm.NewArrayBuffer(resp.Body))); err != nil {
				return err
			}
			return emit(vm, "end", goja.Undefined())
		})
		if dispatchErr != nil {
			panic(scriptError(vm, CodeResourceExhausted, "%s", dispatchErr.Error()))
		}
		return vm.ToValue(id)
	})
}

// parseRequestObject reads the httpRequest surface, applying the original
// defaults: GET, 30s timeout, textBody taking precedence over body.
func (b *Bridge) parseRequestObject(vm *goja.Runtime, v goja.Value) (*request, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errNoRequest
	}
	obj := v.ToObject(vm)

	req := &request{
		Method:  "GET",
		Timeout: b.cfg.DefaultTimeout,
	}

	if u := obj.Get("url"); u != nil && !goja.IsUndefined(u) {
		req.URL = u.String()
	} else {
		return nil, errNoRequest
	}
	if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) {
		req.Method = m.String()
	}
	if h := obj.Get("headers"); h != nil {
		headers, err := parseHeaders(h)
		if err != nil {
			return nil, err
		}
		req.Headers = headers
	}
	if tb := obj.Get("textBody"); tb != nil && !goja.IsUndefined(tb) && !goja.IsNull(tb) {
		req.Body = []byte(tb.String())
	} else if body := obj.Get("body"); body != nil {
		data, err := toBytes(body)
		if err != nil {
			return nil, err
		}
		req.Body = data
	}
	if t := obj.Get("timeoutMs"); t != nil && !goja.IsUndefined(t) {
		req.Timeout = time.Duration(t.ToInteger()) * time.Millisecond
	}
	return req, nil
}

var errNoRequest = errString("httpRequest requires a request object with a url")

type errString string

func (e errString) Error() string { return string(e) }
