package sandbox

import (
	"container/heap"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/Phala-Network/sidevm-quickjs/internal/monitoring"
)

// timer is a scheduled callback on the sandbox's clock. One-shot timers are
// destroyed after firing; repeating timers are reinserted at
// fireAt + interval so the schedule does not drift with loop overhead.
type timer struct {
	id       int64
	fireAt   time.Time
	interval time.Duration // 0 for one-shot
	seq      uint64        // insertion order, tie-break for equal fire times
	callback goja.Callable
	args     []goja.Value
}

// timerQueue orders timers by (fire time, insertion order). Owned by the
// loop goroutine.
type timerQueue struct {
	heap     timerHeap
	byID     map[int64]*timer
	nextID   int64
	nextSeq  uint64
	minDelay time.Duration
	metrics  *monitoring.Metrics
}

func newTimerQueue(minDelay time.Duration, metrics *monitoring.Metrics) *timerQueue {
	if minDelay <= 0 {
		minDelay = time.Millisecond
	}
	return &timerQueue{
		byID:     make(map[int64]*timer),
		minDelay: minDelay,
		metrics:  metrics,
	}
}

// schedule inserts a timer and returns its id. Delays below the minimum tick
// are clamped so zero-delay timers cannot busy-loop the scheduler.
func (tq *timerQueue) schedule(cb goja.Callable, delay, interval time.Duration, args []goja.Value, now time.Time) int64 {
	if delay < tq.minDelay {
		delay = tq.minDelay
	}
	if interval != 0 && interval < tq.minDelay {
		interval = tq.minDelay
	}
	tq.nextID++
	tq.nextSeq++
	t := &timer{
		id:       tq.nextID,
		fireAt:   now.Add(delay),
		interval: interval,
		seq:      tq.nextSeq,
		callback: cb,
		args:     args,
	}
	tq.byID[t.id] = t
	heap.Push(&tq.heap, t)
	tq.metrics.TimerScheduled()
	return t.id
}

// cancel marks the timer dead. A firing whose callback job is already
// enqueued is unaffected: the fire-and-cancel race resolves in favor of the
// fire that already happened.
func (tq *timerQueue) cancel(id int64) bool {
	if _, ok := tq.byID[id]; !ok {
		return false
	}
	delete(tq.byID, id)
	tq.metrics.TimerDone()
	return true
}

// active reports how many live timers keep the loop from quiescence.
func (tq *timerQueue) active() int {
	return len(tq.byID)
}

// nextFire returns the earliest live fire time.
func (tq *timerQueue) nextFire() (time.Time, bool) {
	tq.dropCancelled()
	if len(tq.heap) == 0 {
		return time.Time{}, false
	}
	return tq.heap[0].fireAt, true
}

// popDue removes and returns all timers due at now, in (fire time, insertion
// order). Repeating timers are reinserted relative to their scheduled fire
// time, not now.
func (tq *timerQueue) popDue(now time.Time) []*timer {
	var due []*timer
	for {
		tq.dropCancelled()
		if len(tq.heap) == 0 || tq.heap[0].fireAt.After(now) {
			return due
		}
		t := heap.Pop(&tq.heap).(*timer)
		due = append(due, t)
		if t.interval > 0 {
			next := &timer{
				id:       t.id,
				fireAt:   t.fireAt.Add(t.interval),
				interval: t.interval,
				seq:      t.seq,
				callback: t.callback,
				args:     t.args,
			}
			tq.byID[t.id] = next
			heap.Push(&tq.heap, next)
		} else {
			delete(tq.byID, t.id)
			tq.metrics.TimerDone()
		}
	}
}

// dropCancelled removes cancelled entries from the heap top lazily.
func (tq *timerQueue) dropCancelled() {
	for len(tq.heap) > 0 {
		top := tq.heap[0]
		if live, ok := tq.byID[top.id]; ok && live == top {
			return
		}
		heap.Pop(&tq.heap)
	}
}

// clear drops every timer. Called on teardown.
func (tq *timerQueue) clear() {
	for range tq.byID {
		tq.metrics.TimerDone()
	}
	tq.byID = make(map[int64]*timer)
	tq.heap = nil
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].fireAt.Before(h[j].fireAt)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timer)) }

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// installTimerGlobals exposes the browser-style timer surface.
func (s *Sandbox) installTimerGlobals() error {
	vm := s.vm

	schedule := func(call goja.FunctionCall, repeating bool) goja.Value {
		cb, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("timer callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		interval := time.Duration(0)
		if repeating {
			interval = delay
		}
		id := s.timers.schedule(cb, delay, interval, args, time.Now())
		return vm.ToValue(id)
	}

	cancel := func(call goja.FunctionCall) goja.Value {
		s.timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	if err := vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return schedule(call, false)
	}); err != nil {
		return err
	}
	if err := vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return schedule(call, true)
	}); err != nil {
		return err
	}
	if err := vm.Set("clearTimeout", cancel); err != nil {
		return err
	}
	return vm.Set("clearInterval", cancel)
}

// fireDueTimers converts due timers into callback jobs. Returns the number
// of jobs enqueued.
func (s *Sandbox) fireDueTimers(now time.Time) int {
	due := s.timers.popDue(now)
	for _, t := range due {
		t := t
		s.jobs.push(Job{Run: func(vm *goja.Runtime) error {
			_, err := t.callback(goja.Undefined(), t.args...)
			return s.classifyCallbackError("timer", err)
		}})
	}
	return len(due)
}

// classifyCallbackError decides whether an error escaping a callback is
// sandbox-fatal. Script exceptions inside timer and completion callbacks are
// reported, matching the behavior of unhandled rejections.
func (s *Sandbox) classifyCallbackError(kind string, err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *goja.InterruptedError, *goja.StackOverflowError:
		return err
	case *goja.Exception:
		s.log.Warn("uncaught exception in callback",
			zap.String("kind", kind),
			zap.String("error", e.Value().String()),
		)
		return nil
	default:
		return err
	}
}
