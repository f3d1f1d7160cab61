package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Phala-Network/sidevm-quickjs/internal/logging"
	"github.com/Phala-Network/sidevm-quickjs/internal/monitoring"
)

// Sandbox is an isolated, time- and memory-bounded execution context for one
// evaluation. All engine values live and die with it; teardown releases every
// outstanding native resource even if I/O is still in flight.
type Sandbox struct {
	id      string
	vm      *goja.Runtime
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	// Loop-goroutine state
	jobs      jobQueue
	timers    *timerQueue
	unhandled map[*goja.Promise]struct{}

	// Shared with the I/O substrate
	handoff    chan Job
	pending    atomic.Int64
	nextCallID atomic.Uint64
	hostBytes  atomic.Int64
	done       chan struct{}

	gov      *governor
	ioCtx    context.Context
	ioCancel context.CancelFunc

	started   atomic.Bool
	closeOnce sync.Once
}

// New creates a sandbox and installs the host surface. The sandbox performs
// exactly one evaluation; create a new one per script.
func New(cfg Config, installers ...Installer) (*Sandbox, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.MinTimerDelay <= 0 {
		cfg.MinTimerDelay = time.Millisecond
	}

	vm := goja.New()
	if cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}

	s := &Sandbox{
		id:        uuid.NewString(),
		vm:        vm,
		cfg:       cfg,
		metrics:   cfg.Metrics,
		timers:    newTimerQueue(cfg.MinTimerDelay, cfg.Metrics),
		unhandled: make(map[*goja.Promise]struct{}),
		handoff:   make(chan Job, maxInt(1, cfg.MaxConcurrentAsyncCalls)),
		done:      make(chan struct{}),
	}
	s.log = cfg.Logger.Named("sandbox").With(zap.String("id", s.id))

	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			s.unhandled[p] = struct{}{}
		case goja.PromiseRejectionHandle:
			delete(s.unhandled, p)
		}
	})

	if err := s.setupGlobals(); err != nil {
		return nil, fmt.Errorf("failed to set up globals: %w", err)
	}
	for _, inst := range installers {
		if err := inst.Install(s); err != nil {
			return nil, fmt.Errorf("failed to install host functions: %w", err)
		}
	}
	return s, nil
}

// Evaluate runs the script and drives the event loop to quiescence, the
// deadline, or a fatal error. It may be called once per sandbox.
func (s *Sandbox) Evaluate(ctx context.Context, source string) *EvaluationResult {
	start := time.Now()
	res := s.evaluate(ctx, source)
	res.Duration = time.Since(start)

	s.metrics.ObserveEvaluation(res.Outcome.String(), res.Duration)
	s.log.Info("evaluation finished",
		zap.String("outcome", res.Outcome.String()),
		zap.Duration("duration", res.Duration),
		zap.Error(res.Err),
	)
	return res
}

func (s *Sandbox) evaluate(ctx context.Context, source string) *EvaluationResult {
	if !s.started.CompareAndSwap(false, true) {
		return &EvaluationResult{Outcome: OutcomeFatal, Err: ErrClosed}
	}

	prog, err := goja.Compile("script.js", source, false)
	if err != nil {
		return &EvaluationResult{Outcome: OutcomeRejected, Err: err}
	}

	s.ioCtx, s.ioCancel = context.WithCancel(ctx)
	defer s.Close()

	s.gov = newGovernor(time.Now().Add(s.cfg.Deadline), s.cfg.MemoryCeiling, &s.hostBytes)
	stopWatchdog := s.gov.watch(ctx, s.vm)
	defer stopWatchdog()

	value, err := s.vm.RunProgram(prog)
	if err != nil {
		return s.terminal(err)
	}
	if err := s.runLoop(); err != nil {
		return s.terminal(err)
	}

	s.reportUnhandledRejections()

	// A script-set scriptOutput global overrides the last expression value.
	if out := s.vm.GlobalObject().Get("scriptOutput"); out != nil && !goja.IsUndefined(out) {
		value = out
	}
	return &EvaluationResult{Outcome: OutcomeCompleted, Value: exportValue(value)}
}

// terminal classifies a loop or engine error into the host-facing outcome.
func (s *Sandbox) terminal(err error) *EvaluationResult {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			err = cause
		}
	}

	switch {
	case errors.Is(err, ErrDeadlineExceeded):
		return &EvaluationResult{Outcome: OutcomeDeadlineExceeded, Err: ErrDeadlineExceeded}
	case errors.Is(err, ErrMemoryExceeded):
		return &EvaluationResult{Outcome: OutcomeMemoryExceeded, Err: ErrMemoryExceeded}
	}

	var stackOverflow *goja.StackOverflowError
	if errors.As(err, &stackOverflow) {
		return &EvaluationResult{Outcome: OutcomeFatal, Err: err}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &EvaluationResult{Outcome: OutcomeRejected, Err: err}
	}
	return &EvaluationResult{Outcome: OutcomeFatal, Err: err}
}

// Close tears the sandbox down: cancels timers, detaches pending async
// calls, discards undelivered completions, and releases their buffers.
// Idempotent; safe after Evaluate returns.
func (s *Sandbox) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ioCancel != nil {
			s.ioCancel()
		}
		s.timers.clear()
		s.jobs.clear()
		s.reapPending()
		s.vm.ClearInterrupt()
	})
}

// reapPending waits briefly for detached I/O goroutines to hand over or drop
// their results so that their buffers are accounted as released. Stragglers
// beyond the grace period only delay gauge cleanup, never correctness.
func (s *Sandbox) reapPending() {
	grace := time.Now().Add(2 * time.Second)
	for s.pending.Load() > 0 && time.Now().Before(grace) {
		select {
		case job := <-s.handoff:
			if job.Discard != nil {
				job.Discard()
			}
		case <-time.After(5 * time.Millisecond):
		}
	}
	for {
		select {
		case job := <-s.handoff:
			if job.Discard != nil {
				job.Discard()
			}
		default:
			if n := s.pending.Load(); n > 0 {
				s.log.Warn("pending async calls left behind at teardown", zap.Int64("count", n))
			}
			return
		}
	}
}

// EnqueueJob appends a job to the queue. Loop goroutine only; the I/O
// substrate must go through PendingCall.Deliver instead.
func (s *Sandbox) EnqueueJob(job Job) {
	s.jobs.push(job)
}

// ID returns the sandbox's identity used in logs and metrics.
func (s *Sandbox) ID() string { return s.id }

// VM exposes the underlying engine. Loop goroutine only.
func (s *Sandbox) VM() *goja.Runtime { return s.vm }

// Config returns the sandbox's budgets.
func (s *Sandbox) Config() Config { return s.cfg }

// Logger returns the sandbox's logger.
func (s *Sandbox) Logger() *logging.Logger { return s.log }

// Done is closed at teardown. The I/O substrate uses it to detach.
func (s *Sandbox) Done() <-chan struct{} { return s.done }

// Context is cancelled at teardown; in-flight I/O should run under it. Valid
// once Evaluate has started.
func (s *Sandbox) Context() context.Context {
	if s.ioCtx == nil {
		return context.Background()
	}
	return s.ioCtx
}

// CallbackError mirrors the loop's policy for errors escaping script
// callbacks invoked by host components: exceptions are reported, interrupts
// unwind. Exported for the bridge.
func (s *Sandbox) CallbackError(kind string, err error) error {
	return s.classifyCallbackError(kind, err)
}

// setupGlobals strips module-system globals and installs the timer surface
// and console.
func (s *Sandbox) setupGlobals() error {
	// Remove anything that smells like a module system
	s.vm.Set("require", goja.Undefined())
	s.vm.Set("process", goja.Undefined())
	s.vm.Set("module", goja.Undefined())
	s.vm.Set("exports", goja.Undefined())

	if s.cfg.EnableConsole {
		if err := s.installConsole(); err != nil {
			return err
		}
	}
	return s.installTimerGlobals()
}

// installConsole routes console output to the sandbox's structured logger.
func (s *Sandbox) installConsole() error {
	console := s.vm.NewObject()
	levels := map[string]func(string, ...zap.Field){
		"log":   s.log.Info,
		"info":  s.log.Info,
		"warn":  s.log.Warn,
		"error": s.log.Error,
		"debug": s.log.Debug,
	}
	for name, sink := range levels {
		sink := sink
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			var msg string
			for i, arg := range call.Arguments {
				if i > 0 {
					msg += " "
				}
				msg += arg.String()
			}
			sink(msg, zap.String("source", "console"))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return s.vm.Set("console", console)
}

func (s *Sandbox) reportUnhandledRejections() {
	for p := range s.unhandled {
		s.log.Warn("unhandled promise rejection",
			zap.String("reason", p.Result().String()),
		)
	}
}

func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	exported := val.Export()
	if buf, ok := exported.(goja.ArrayBuffer); ok {
		out := make([]byte, len(buf.Bytes()))
		copy(out, buf.Bytes())
		return out
	}
	return exported
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
