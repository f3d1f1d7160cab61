package sandbox

import "github.com/dop251/goja"

// Job is a deferred unit of script-visible work: a host-call completion or a
// timer callback. Run executes on the loop goroutine against the sandbox's
// VM; a non-nil error from Run is sandbox-fatal. Discard releases any native
// resources the job carries when it will never run.
type Job struct {
	Run     func(vm *goja.Runtime) error
	Discard func()
}

// jobQueue is a FIFO queue owned by the loop goroutine. It is deliberately
// unsynchronized: the handoff channel is the only cross-thread entry point.
type jobQueue struct {
	items []Job
	head  int
}

func (q *jobQueue) push(j Job) {
	q.items = append(q.items, j)
}

func (q *jobQueue) pop() (Job, bool) {
	if q.head >= len(q.items) {
		return Job{}, false
	}
	j := q.items[q.head]
	q.items[q.head] = Job{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return j, true
}

func (q *jobQueue) empty() bool {
	return q.head >= len(q.items)
}

// clear discards all queued jobs, releasing any resources they carry.
func (q *jobQueue) clear() {
	for {
		j, ok := q.pop()
		if !ok {
			return
		}
		if j.Discard != nil {
			j.Discard()
		}
	}
}
