package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// request is a validated outbound HTTP request owned by the bridge.
type request struct {
	URL     string
	Method  string
	Headers [][2]string // ordered pairs, original casing
	Body    []byte
	Timeout time.Duration
}

// response holds a fully read response; the buffer is tracked against the
// sandbox until it has been converted into engine values.
type response struct {
	Status     int
	StatusText string
	Headers    [][2]string
	Body       []byte
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// validate checks the request eagerly so bad input never reaches the I/O
// substrate. Failures are ValidationErrors.
func (b *Bridge) validate(req *request, origins []string) error {
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", req.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", req.URL)
	}
	if !originAllowed(u.Host, origins) {
		return fmt.Errorf("origin %q not allowed", u.Host)
	}
	if !allowedMethods[req.Method] {
		return fmt.Errorf("unsupported method %q", req.Method)
	}
	for _, h := range req.Headers {
		if !validHeaderName(h[0]) {
			return fmt.Errorf("invalid header name %q", h[0])
		}
	}
	if b.cfg.MaxBodyBytes > 0 && int64(len(req.Body)) > b.cfg.MaxBodyBytes {
		return fmt.Errorf("request body of %d bytes exceeds ceiling of %d", len(req.Body), b.cfg.MaxBodyBytes)
	}
	return nil
}

// originAllowed matches host (with optional port) against the allow-list.
// Patterns: "*" (any), exact "host" or "host:port", and "*.domain" suffix
// wildcards.
func originAllowed(host string, origins []string) bool {
	bare := host
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		bare = host[:i]
	}
	for _, pattern := range origins {
		switch {
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "*."):
			suffix := pattern[1:] // ".domain"
			if strings.HasSuffix(bare, suffix) || bare == pattern[2:] {
				return true
			}
		case pattern == host || pattern == bare:
			return true
		}
	}
	return false
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// dispatch registers a pending call and hands the request to the I/O
// substrate. deliver runs on the loop goroutine with either a response or an
// error; it never runs after sandbox teardown.
func (b *Bridge) dispatch(s *sandbox.Sandbox, limiter *rate.Limiter, req *request, deliver func(vm *goja.Runtime, resp *response, err error) error) (uint64, error) {
	pc, err := s.NewPendingCall()
	if err != nil {
		return 0, err
	}

	reqBytes := int64(len(req.Body))
	s.TrackHostBytes(reqBytes)

	go func() {
		resp, reqErr := b.roundTrip(s.Context(), limiter, req)
		var respBytes int64
		if resp != nil {
			respBytes = int64(len(resp.Body))
			s.TrackHostBytes(respBytes)
		}
		owned := reqBytes + respBytes

		pc.Deliver(sandbox.Job{
			Run: func(vm *goja.Runtime) error {
				defer s.ReleaseHostBytes(owned)
				return deliver(vm, resp, reqErr)
			},
			Discard: func() {
				s.ReleaseHostBytes(owned)
			},
		})
	}()
	return pc.ID(), nil
}

// roundTrip performs the blocking HTTP exchange on the I/O substrate.
func (b *Bridge) roundTrip(ctx context.Context, limiter *rate.Limiter, req *request) (*response, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := b.client.R().SetContext(ctx)
	for _, h := range req.Headers {
		r.SetHeader(h[0], h[1])
	}
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, err
	}

	body := resp.Body()
	if b.cfg.MaxResponseBytes > 0 && int64(len(body)) > b.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("response body of %d bytes exceeds ceiling of %d", len(body), b.cfg.MaxResponseBytes)
	}

	headers := make([][2]string, 0, len(resp.Header()))
	for name, values := range resp.Header() {
		headers = append(headers, [2]string{name, strings.Join(values, ", ")})
	}

	return &response{
		Status:     resp.StatusCode(),
		StatusText: http.StatusText(resp.StatusCode()),
		Headers:    headers,
		Body:       body,
	}, nil
}
