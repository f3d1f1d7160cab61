/*
Package sandbox embeds the goja JavaScript engine behind a single-threaded
event loop with strict execution-time and memory budgets.

# Execution model

One Sandbox serves exactly one evaluation. The goroutine that calls Evaluate
owns the VM for the sandbox's whole life: it runs the top-level script, drains
the job queue, fires timers, and converts async completions into engine
values. The I/O substrate (network fetches and other native operations) runs
on ordinary goroutines and may never touch the VM; it hands results back
through a buffered handoff channel that only the loop drains.

Per iteration the loop:

 1. runs the engine until it yields
 2. drains the job queue to empty (jobs enqueued mid-drain run in the same
    drain, giving promise reactions priority over timers)
 3. checks the resource governor
 4. fires due timers as jobs, ordered by (fire time, insertion order)
 5. if nothing is runnable, blocks until the nearest timer, an async
    completion, or the deadline

# Resource governance

The governor samples elapsed time and memory (Go heap growth plus exactly
tracked host buffers) at every iteration boundary. A watchdog goroutine
additionally interrupts the engine itself so a script stuck in a tight
synchronous loop is preempted within a few milliseconds of its deadline.

# Teardown

Close cancels all timers and detaches pending async calls: the substrate may
still complete them, but results are discarded and their buffers released.
No script-visible callback runs after teardown.
*/
package sandbox
