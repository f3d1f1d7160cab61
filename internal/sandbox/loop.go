package sandbox

import (
	"time"
)

// runLoop drives the sandbox to quiescence: no queued jobs, no live timers,
// no pending async calls. Each iteration drains the job queue completely
// before any timer or freshly delivered async result is considered, which is
// what gives scripts the microtasks-before-macrotasks ordering they expect.
func (s *Sandbox) runLoop() error {
	for {
		s.pollHandoff()
		for {
			job, ok := s.jobs.pop()
			if !ok {
				break
			}
			if err := job.Run(s.vm); err != nil {
				return err
			}
			if err := s.gov.check(time.Now()); err != nil {
				return err
			}
			// Completions that arrived while the job ran join this
			// drain; timers still wait for the queue to empty.
			s.pollHandoff()
		}

		if err := s.gov.check(time.Now()); err != nil {
			return err
		}

		now := time.Now()
		if fired := s.fireDueTimers(now); fired > 0 {
			continue
		}

		if s.idle() {
			return nil
		}

		if err := s.waitForWork(now); err != nil {
			return err
		}
	}
}

// idle reports quiescence.
func (s *Sandbox) idle() bool {
	return s.jobs.empty() &&
		s.timers.active() == 0 &&
		s.pending.Load() == 0 &&
		len(s.handoff) == 0
}

// pollHandoff moves async completions into the job queue without blocking.
func (s *Sandbox) pollHandoff() {
	for {
		select {
		case job := <-s.handoff:
			s.jobs.push(job)
		default:
			return
		}
	}
}

// waitForWork blocks until the nearest timer fires, an async call completes,
// or the deadline expires, whichever is sooner. This is the only place the
// execution thread blocks.
func (s *Sandbox) waitForWork(now time.Time) error {
	var timerCh <-chan time.Time
	if next, ok := s.timers.nextFire(); ok {
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timerCh = t.C
	}

	deadlineTimer := time.NewTimer(time.Until(s.gov.deadline))
	defer deadlineTimer.Stop()

	select {
	case job := <-s.handoff:
		s.jobs.push(job)
		return nil
	case <-timerCh:
		return nil
	case <-deadlineTimer.C:
		return ErrDeadlineExceeded
	case <-s.ioCtx.Done():
		return s.ioCtx.Err()
	}
}
