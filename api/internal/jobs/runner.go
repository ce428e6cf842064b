// Package jobs decouples the synchronous request-handling path from the
// long-running analysis pipeline: submit a function, poll for completion,
// retrieve the result on demand.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// JobFunc is the unit of background work.
type JobFunc func(ctx context.Context) (any, error)

// Job is the poll handle for one submitted run. Done is non-blocking and
// side-effect-free; Result blocks until completion.
type Job struct {
	StartedAt time.Time

	fn     JobFunc
	done   chan struct{}
	result any
	err    error
}

// Done reports completion without blocking.
func (j *Job) Done() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Result blocks until the job finishes, then returns its outcome. Callers
// are expected to check Done first when blocking is unacceptable.
func (j *Job) Result() (any, error) {
	<-j.done
	return j.result, j.err
}

// Progress approximates completion as elapsed/expected, capped at 0.95 until
// the job is actually done.
func (j *Job) Progress(expected time.Duration) float64 {
	if j.Done() {
		return 1.0
	}
	if expected <= 0 {
		return 0.0
	}
	p := float64(time.Since(j.StartedAt)) / float64(expected)
	if p > 0.95 {
		p = 0.95
	}
	return p
}

// Runner owns a single dispatcher goroutine; every submitted job is handed
// to it over a channel and executed in its own goroutine so concurrent
// sessions do not serialize behind each other.
type Runner struct {
	submissions chan *Job
	baseCtx     context.Context
}

// NewRunner starts a runner whose jobs inherit from ctx.
func NewRunner(ctx context.Context) *Runner {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Runner{
		submissions: make(chan *Job),
		baseCtx:     ctx,
	}
	go r.dispatch()
	return r
}

func (r *Runner) dispatch() {
	for job := range r.submissions {
		go job.run(r.baseCtx)
	}
}

func (j *Job) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			j.err = fmt.Errorf("job panic: %v", rec)
		}
		close(j.done)
	}()
	j.result, j.err = j.fn(ctx)
}

// Submit schedules fn and returns its handle immediately.
func (r *Runner) Submit(fn JobFunc) *Job {
	j := &Job{
		StartedAt: time.Now(),
		fn:        fn,
		done:      make(chan struct{}),
	}
	r.submissions <- j
	return j
}

var (
	defaultRunner *Runner
	defaultMu     sync.Mutex
)

// Default returns the process-wide runner, creating it lazily. The lock
// guards against duplicate dispatchers under concurrent first use.
func Default() *Runner {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRunner == nil {
		defaultRunner = NewRunner(context.Background())
	}
	return defaultRunner
}
