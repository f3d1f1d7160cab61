package sandbox

import (
	"errors"
	"time"

	"github.com/Phala-Network/sidevm-quickjs/internal/logging"
	"github.com/Phala-Network/sidevm-quickjs/internal/monitoring"
)

// Sandbox-fatal errors. These terminate the evaluation and are surfaced to
// the host caller, never to script code.
var (
	ErrDeadlineExceeded = errors.New("sandbox: deadline exceeded")
	ErrMemoryExceeded   = errors.New("sandbox: memory ceiling exceeded")
	ErrClosed           = errors.New("sandbox: closed")
)

// ErrResourceExhausted is returned when the concurrent host-call ceiling is
// reached. It is script-recoverable: the bridge turns it into a promise
// rejection.
var ErrResourceExhausted = errors.New("sandbox: too many concurrent host calls")

// Config defines per-evaluation resource budgets and engine settings.
type Config struct {
	Deadline                time.Duration // wall-clock budget for the whole evaluation
	MemoryCeiling           int64         // bytes, advisory (sampled)
	MaxConcurrentAsyncCalls int           // backpressure ceiling for pending host calls
	AllowedOrigins          []string      // host[:port] patterns the fetch bridge accepts, "*" for any
	MinTimerDelay           time.Duration // zero/negative timer delays clamp to this
	MaxCallStackSize        int
	EnableConsole           bool

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// DefaultConfig returns a configuration suitable for one bounded evaluation.
func DefaultConfig() Config {
	return Config{
		Deadline:                10 * time.Second,
		MemoryCeiling:           64 << 20,
		MaxConcurrentAsyncCalls: 16,
		AllowedOrigins:          []string{"*"},
		MinTimerDelay:           time.Millisecond,
		MaxCallStackSize:        1024,
		EnableConsole:           true,
	}
}

// Outcome classifies how an evaluation terminated.
type Outcome int

const (
	// OutcomeCompleted means the script and all derived work finished.
	OutcomeCompleted Outcome = iota
	// OutcomeRejected means the script threw an unhandled top-level error.
	OutcomeRejected
	// OutcomeDeadlineExceeded means the wall-clock budget fired.
	OutcomeDeadlineExceeded
	// OutcomeMemoryExceeded means the memory ceiling was breached.
	OutcomeMemoryExceeded
	// OutcomeFatal means an unrecoverable engine or host fault.
	OutcomeFatal
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDeadlineExceeded:
		return "deadline_exceeded"
	case OutcomeMemoryExceeded:
		return "memory_exceeded"
	default:
		return "fatal"
	}
}

// EvaluationResult is the host-facing result of one evaluation.
type EvaluationResult struct {
	Outcome  Outcome
	Value    interface{} // exported completion value, only for OutcomeCompleted
	Err      error       // terminal error, nil only for OutcomeCompleted
	Duration time.Duration
}

// Installer wires host capabilities into a freshly created sandbox. The
// bridge package implements this to install its script-visible globals.
type Installer interface {
	Install(s *Sandbox) error
}

// InstallerFunc adapts a function to the Installer interface.
type InstallerFunc func(s *Sandbox) error

// Install implements Installer.
func (f InstallerFunc) Install(s *Sandbox) error { return f(s) }
