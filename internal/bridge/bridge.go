package bridge

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/Phala-Network/sidevm-quickjs/internal/logging"
	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// Script-visible error codes. These rejections are recoverable by script
// error handling, unlike governor violations which never reach the script.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNetwork           = "NETWORK_ERROR"
	CodeCodec             = "CODEC_ERROR"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
)

// Config defines outbound request behavior for the host function bridge.
type Config struct {
	DefaultTimeout    time.Duration // per-request timeout when the script gives none
	MaxBodyBytes      int64         // request body ceiling
	MaxResponseBytes  int64         // response body ceiling
	RequestsPerSecond float64       // per-sandbox outbound rate, 0 = unlimited
	Retries           int
	UserAgent         string
}

// DefaultConfig returns production-ready bridge configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:   30 * time.Second,
		MaxBodyBytes:     4 << 20,
		MaxResponseBytes: 16 << 20,
		UserAgent:        "SidevmJS/0.1.0",
	}
}

// Bridge exposes native capabilities (HTTP, hashing, the binary codec) as
// script-callable functions. One Bridge serves many sandboxes; the HTTP
// client and its connection pool are shared.
type Bridge struct {
	cfg    Config
	log    *logging.Logger
	client *resty.Client
}

// New creates a bridge with a production-ready HTTP client.
func New(cfg Config, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	// Transport tuning comes from retryablehttp's client; retry policy is
	// resty's so per-request contexts are respected.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	client := resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetRetryCount(cfg.Retries).
		SetHeader("User-Agent", cfg.UserAgent).
		SetDoNotParseResponse(false)

	return &Bridge{
		cfg:    cfg,
		log:    log.Named("bridge"),
		client: client,
	}
}

// Install implements sandbox.Installer: it wires the Sidevm namespace, the
// fetch global, and the XMLHttpRequest constructor into the sandbox.
func (b *Bridge) Install(s *sandbox.Sandbox) error {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if b.cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.cfg.RequestsPerSecond), 1)
	}

	vm := s.VM()
	ns := vm.NewObject()

	if err := b.installHTTPRequest(s, ns, limiter); err != nil {
		return fmt.Errorf("httpRequest: %w", err)
	}
	if err := b.installHash(s, ns); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	if err := b.installCodec(s, ns); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	if err := vm.Set("Sidevm", ns); err != nil {
		return err
	}

	if err := b.installFetch(s, limiter); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := b.installXHR(s, limiter); err != nil {
		return fmt.Errorf("XMLHttpRequest: %w", err)
	}
	return nil
}

// scriptError builds a script-visible Error carrying a machine-readable
// code property.
func scriptError(vm *goja.Runtime, code, format string, args ...interface{}) goja.Value {
	obj := vm.NewGoError(fmt.Errorf(format, args...))
	_ = obj.Set("code", code)
	return obj
}

// settleLater enqueues a settlement job so a promise created in the current
// script turn never resolves within that same turn, even for fast paths.
func settleLater(s *sandbox.Sandbox, settle func(vm *goja.Runtime)) {
	s.EnqueueJob(sandbox.Job{Run: func(vm *goja.Runtime) error {
		settle(vm)
		return nil
	}})
}
