package bridge

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// XHR ready states.
const (
	xhrUnsent          = 0
	xhrOpened          = 1
	xhrHeadersReceived = 2
	xhrLoading         = 3
	xhrDone            = 4
)

// xhrState is the per-instance host-side state behind an XMLHttpRequest
// object. Only the loop goroutine touches it.
type xhrState struct {
	method  string
	url     string
	headers [][2]string
	timeout time.Duration
	sent    bool
	aborted bool
}

// installXHR exposes an XMLHttpRequest-shaped constructor over the same
// request internals as fetch. The event-callback surface (onload, onerror,
// onabort, onreadystatechange) fires from completion jobs on the loop.
func (b *Bridge) installXHR(s *sandbox.Sandbox, limiter *rate.Limiter) error {
	vm := s.VM()

	ctor := func(call goja.ConstructorCall) *goja.Object {
		this := call.This
		state := &xhrState{timeout: b.cfg.DefaultTimeout}

		this.Set("readyState", xhrUnsent)
		this.Set("status", 0)
		this.Set("statusText", "")
		this.Set("responseText", "")
		this.Set("response", goja.Null())

		setReadyState := func(rs int) error {
			this.Set("readyState", rs)
			if handler, ok := goja.AssertFunction(this.Get("onreadystatechange")); ok {
				_, err := handler(this)
				return s.CallbackError("xhr", err)
			}
			return nil
		}

		fire := func(name string) error {
			if handler, ok := goja.AssertFunction(this.Get(name)); ok {
				event := vm.NewObject()
				event.Set("type", strings.TrimPrefix(name, "on"))
				event.Set("target", this)
				_, err := handler(this, event)
				return s.CallbackError("xhr", err)
			}
			return nil
		}

		this.Set("open", func(call goja.FunctionCall) goja.Value {
			state.method = strings.ToUpper(call.Argument(0).String())
			state.url = call.Argument(1).String()
			state.headers = nil
			state.sent = false
			state.aborted = false
			this.Set("status", 0)
			this.Set("statusText", "")
			this.Set("responseText", "")
			this.Set("response", goja.Null())
			// An interrupt raised inside the handler re-fires on the
			// next engine tick, so the error needs no re-raise here.
			_ = setReadyState(xhrOpened)
			return goja.Undefined()
		})

		this.Set("setRequestHeader", func(call goja.FunctionCall) goja.Value {
			if state.sent {
				panic(vm.NewTypeError("setRequestHeader after send"))
			}
			state.headers = append(state.headers, [2]string{
				call.Argument(0).String(),
				call.Argument(1).String(),
			})
			return goja.Undefined()
		})

		this.Set("abort", func(call goja.FunctionCall) goja.Value {
			if state.sent && !state.aborted {
				state.aborted = true
				this.Set("readyState", xhrDone)
				_ = fire("onabort")
			}
			return goja.Undefined()
		})

		this.Set("send", func(call goja.FunctionCall) goja.Value {
			if state.sent {
				panic(vm.NewTypeError("send already called"))
			}
			if this.Get("readyState").ToInteger() != xhrOpened {
				panic(vm.NewTypeError("send before open"))
			}
			if t := this.Get("timeout"); t != nil && !goja.IsUndefined(t) && t.ToInteger() > 0 {
				state.timeout = time.Duration(t.ToInteger()) * time.Millisecond
			}

			body, err := toBytes(call.Argument(0))
			if err != nil {
				panic(scriptError(vm, CodeValidation, "%s", err.Error()))
			}
			req := &request{
				URL:     state.url,
				Method:  state.method,
				Headers: state.headers,
				Body:    body,
				Timeout: state.timeout,
			}
			if err := b.validate(req, s.Config().AllowedOrigins); err != nil {
				panic(scriptError(vm, CodeValidation, "%s", err.Error()))
			}
			state.sent = true

			_, dispatchErr := b.dispatch(s, limiter, req, func(vm *goja.Runtime, resp *response, reqErr error) error {
				// Abort races completion: the abort that was observed
				// first wins and the late result is dropped.
				if state.aborted {
					return nil
				}
				if reqErr != nil {
					this.Set("readyState", xhrDone)
					if err := fire("onerror"); err != nil {
						return err
					}
					return nil
				}

				this.Set("status", resp.Status)
				this.Set("statusText", resp.StatusText)
				if headers, err := headersToJS(vm, resp.Headers); err == nil {
					this.Set("responseHeaders", headers)
				}
				if err := setReadyState(xhrHeadersReceived); err != nil {
					return err
				}
				if state.aborted {
					return nil
				}
				if err := setReadyState(xhrLoading); err != nil {
					return err
				}
				if state.aborted {
					return nil
				}

				text := string(resp.Body)
				this.Set("responseText", text)
				this.Set("response", text)
				if err := setReadyState(xhrDone); err != nil {
					return err
				}
				if state.aborted {
					return nil
				}
				return fire("onload")
			})
			if dispatchErr != nil {
				panic(scriptError(vm, CodeResourceExhausted, "%s", dispatchErr.Error()))
			}
			return goja.Undefined()
		})

		this.Set("getAllResponseHeaders", func(call goja.FunctionCall) goja.Value {
			headers := this.Get("responseHeaders")
			if headers == nil || goja.IsUndefined(headers) {
				return vm.ToValue("")
			}
			obj := headers.ToObject(vm)
			var sb strings.Builder
			for _, key := range obj.Keys() {
				if key == "get" {
					continue
				}
				sb.WriteString(key)
				sb.WriteString(": ")
				sb.WriteString(obj.Get(key).String())
				sb.WriteString("\r\n")
			}
			return vm.ToValue(sb.String())
		})

		this.Set("getResponseHeader", func(call goja.FunctionCall) goja.Value {
			headers := this.Get("responseHeaders")
			if headers == nil || goja.IsUndefined(headers) {
				return goja.Null()
			}
			name := strings.ToLower(call.Argument(0).String())
			value := headers.ToObject(vm).Get(name)
			if value == nil || goja.IsUndefined(value) {
				return goja.Null()
			}
			return value
		})

		return nil // keep call.This as the instance
	}

	return vm.Set("XMLHttpRequest", ctor)
}
