package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrTaskAbandoned marks a Submit whose caller stopped waiting after the
// task was already handed to the worker. The task still runs to
// completion on the browser; only its result is dropped, so the caller
// must not assume the action never happened.
var ErrTaskAbandoned = errors.New("browser task abandoned by caller")

// taskQueue serializes all browser work onto one dedicated worker
// goroutine, so actions never interleave against the same page. A
// failing or panicking task is isolated: the worker logs it, reports
// the error to the submitter, and keeps consuming.
type taskQueue struct {
	tasks    chan task
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	// lastBeat is the unix time of the worker's last loop iteration,
	// read by the watchdog and health reporting.
	lastBeat atomic.Int64
	log      zerolog.Logger
}

type task struct {
	name string
	fn   func() error
	done chan error
}

func newTaskQueue(depth int, log zerolog.Logger) *taskQueue {
	q := &taskQueue{
		tasks: make(chan task, depth),
		stop:  make(chan struct{}),
		log:   log.With().Str("component", "browser-queue").Logger(),
	}
	q.lastBeat.Store(time.Now().Unix())

	// The supervisor loop restarts the worker if it ever exits while
	// the queue is still open: a watchdog guarding the watchdog's
	// subject, since a dead worker would silently stall every bet.
	q.wg.Add(1)
	go q.supervise()
	return q
}

func (q *taskQueue) supervise() {
	defer q.wg.Done()
	for {
		exited := make(chan struct{})
		go func() {
			defer close(exited)
			q.worker()
		}()
		<-exited

		select {
		case <-q.stop:
			return
		default:
			q.log.Error().Msg("browser worker exited unexpectedly, restarting")
		}
	}
}

func (q *taskQueue) worker() {
	for {
		q.lastBeat.Store(time.Now().Unix())
		select {
		case <-q.stop:
			return
		case t := <-q.tasks:
			t.done <- q.runTask(t)
		}
	}
}

// runTask shields the worker loop from a panicking task.
func (q *taskQueue) runTask(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("task", t.name).Msg("browser task panicked")
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.fn()
}

// Submit enqueues fn and blocks until it ran or ctx expired. The task
// itself is bounded by the session's action timeout; ctx only bounds
// how long the caller is willing to queue and wait.
func (q *taskQueue) Submit(ctx context.Context, name string, fn func() error) error {
	t := task{name: name, fn: fn, done: make(chan error, 1)}

	select {
	case <-q.stop:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- t:
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		// The worker will still finish the task; the result is dropped.
		return fmt.Errorf("%w: %w", ErrTaskAbandoned, ctx.Err())
	}
}

// WorkerAlive reports whether the worker looped within maxAge.
func (q *taskQueue) WorkerAlive(maxAge time.Duration) bool {
	return time.Since(time.Unix(q.lastBeat.Load(), 0)) <= maxAge
}

func (q *taskQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}
