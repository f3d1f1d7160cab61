package sandbox

import (
	"sync/atomic"
)

// PendingCall represents one in-flight asynchronous host operation. Its
// completion side runs on the I/O substrate; Deliver is the only crossing
// point back into the loop, and it fires at most once.
type PendingCall struct {
	id      uint64
	sb      *Sandbox
	settled atomic.Bool
}

// NewPendingCall registers an in-flight host operation, enforcing the
// backpressure ceiling. A call that would exceed the ceiling fails
// immediately with ErrResourceExhausted rather than queueing.
func (s *Sandbox) NewPendingCall() (*PendingCall, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	ceiling := int64(s.cfg.MaxConcurrentAsyncCalls)
	if n := s.pending.Add(1); ceiling > 0 && n > ceiling {
		s.pending.Add(-1)
		return nil, ErrResourceExhausted
	}
	s.metrics.AsyncStarted()
	return &PendingCall{id: s.nextCallID.Add(1), sb: s}, nil
}

// ID returns the call's correlation id.
func (p *PendingCall) ID() uint64 { return p.id }

// Deliver hands the completion job to the event loop. It returns false if
// the call already completed or the sandbox has been torn down; in that case
// the job's resources are discarded and nothing script-visible happens.
// Safe to call from any goroutine.
func (p *PendingCall) Deliver(job Job) bool {
	if !p.settled.CompareAndSwap(false, true) {
		if job.Discard != nil {
			job.Discard()
		}
		return false
	}
	defer p.sb.pending.Add(-1)

	// A dead sandbox never receives results.
	select {
	case <-p.sb.done:
		if job.Discard != nil {
			job.Discard()
		}
		p.sb.metrics.AsyncFinished("detached")
		return false
	default:
	}

	// The handoff buffer holds one slot per admitted call, so this send
	// cannot block while the loop is alive.
	select {
	case p.sb.handoff <- job:
		p.sb.metrics.AsyncFinished("delivered")
		return true
	case <-p.sb.done:
		if job.Discard != nil {
			job.Discard()
		}
		p.sb.metrics.AsyncFinished("detached")
		return false
	}
}

// TrackHostBytes attributes host-side buffer bytes (request and response
// bodies) to this sandbox for memory accounting.
func (s *Sandbox) TrackHostBytes(n int64) {
	s.hostBytes.Add(n)
	s.metrics.AddHostBytes(n)
}

// ReleaseHostBytes releases previously tracked bytes.
func (s *Sandbox) ReleaseHostBytes(n int64) {
	s.hostBytes.Add(-n)
	s.metrics.AddHostBytes(-n)
}

// HostBytes reports the bytes currently attributed to the sandbox.
func (s *Sandbox) HostBytes() int64 {
	return s.hostBytes.Load()
}

// PendingCalls reports outstanding asynchronous host operations.
func (s *Sandbox) PendingCalls() int64 {
	return s.pending.Load()
}
