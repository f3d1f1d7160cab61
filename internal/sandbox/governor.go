package sandbox

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

const (
	// watchdogTick bounds preemption latency for scripts stuck in
	// synchronous loops.
	watchdogTick = 5 * time.Millisecond
	// memSampleInterval throttles ReadMemStats, which stops the world.
	memSampleInterval = 10 * time.Millisecond
)

// governor enforces the sandbox's wall-clock and memory budgets. Checks run
// at loop iteration boundaries; a separate watchdog goroutine raises an
// engine interrupt so long synchronous sections stay preemptible.
//
// Memory accounting is sampled, not byte-exact: Go heap growth since the
// evaluation started plus exactly tracked host buffers. It deliberately errs
// toward early termination.
type governor struct {
	deadline  time.Time
	ceiling   int64
	hostBytes *atomic.Int64

	mu        sync.Mutex
	baseline  uint64
	lastHeap  uint64
	sampledAt time.Time
}

func newGovernor(deadline time.Time, ceiling int64, hostBytes *atomic.Int64) *governor {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &governor{
		deadline:  deadline,
		ceiling:   ceiling,
		hostBytes: hostBytes,
		baseline:  ms.HeapAlloc,
		lastHeap:  ms.HeapAlloc,
		sampledAt: time.Now(),
	}
}

// check returns the budget violation in effect at now, if any.
func (g *governor) check(now time.Time) error {
	if now.After(g.deadline) {
		return ErrDeadlineExceeded
	}
	if g.ceiling > 0 && g.memoryUsage(now) > g.ceiling {
		return ErrMemoryExceeded
	}
	return nil
}

// memoryUsage estimates bytes attributable to the evaluation.
func (g *governor) memoryUsage(now time.Time) int64 {
	g.mu.Lock()
	if now.Sub(g.sampledAt) >= memSampleInterval {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		g.lastHeap = ms.HeapAlloc
		g.sampledAt = now
	}
	heap := int64(0)
	if g.lastHeap > g.baseline {
		heap = int64(g.lastHeap - g.baseline)
	}
	g.mu.Unlock()
	return heap + g.hostBytes.Load()
}

// watch interrupts the engine when a budget is violated or the host context
// is cancelled. Returns a stop function; the interrupt value carries the
// violation so the loop can classify the InterruptedError it unwinds into.
func (g *governor) watch(ctx context.Context, vm *goja.Runtime) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(watchdogTick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				vm.Interrupt(ctx.Err())
				return
			case now := <-ticker.C:
				if err := g.check(now); err != nil {
					vm.Interrupt(err)
					return
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
