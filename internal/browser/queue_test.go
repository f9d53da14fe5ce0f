package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestQueueSerializesTasks(t *testing.T) {
	q := newTaskQueue(4, zerolog.Nop())
	defer q.Stop()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		if err := q.Submit(context.Background(), "step", func() error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Single worker plus blocking Submit means strict submission order,
	// with no data race on the shared slice.
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestQueueReportsTaskError(t *testing.T) {
	q := newTaskQueue(4, zerolog.Nop())
	defer q.Stop()

	boom := errors.New("click failed")
	err := q.Submit(context.Background(), "click", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected task error, got %v", err)
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	q := newTaskQueue(4, zerolog.Nop())
	defer q.Stop()

	// 1. A panicking task surfaces as an error to its submitter
	err := q.Submit(context.Background(), "bad", func() error {
		panic("browser driver bug")
	})
	if err == nil {
		t.Fatal("expected an error from the panicking task")
	}

	// 2. The worker is still alive and serves the next task
	served := false
	if err := q.Submit(context.Background(), "good", func() error {
		served = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !served {
		t.Error("worker dead after a panicking task")
	}
}

func TestSubmitHonorsContext(t *testing.T) {
	q := newTaskQueue(1, zerolog.Nop())
	defer q.Stop()

	// Occupy the worker so the next submit has to wait.
	release := make(chan struct{})
	go q.Submit(context.Background(), "slow", func() error {
		<-release
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.Submit(ctx, "waiting", func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	close(release)
}

func TestSubmitAbandonedTaskStillRuns(t *testing.T) {
	q := newTaskQueue(1, zerolog.Nop())
	defer q.Stop()

	// 1. A running task outlives its caller's patience
	gate := make(chan struct{})
	finished := false
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		result <- q.Submit(ctx, "place_bet", func() error {
			<-gate
			finished = true
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	// 2. The caller learns it abandoned the task, not that it failed
	err := <-result
	if !errors.Is(err, ErrTaskAbandoned) {
		t.Fatalf("expected ErrTaskAbandoned, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("the context cause must stay visible, got %v", err)
	}

	// 3. The worker finishes the task anyway
	close(gate)
	if err := q.Submit(context.Background(), "next", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !finished {
		t.Error("abandoned task must still run to completion")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	q := newTaskQueue(1, zerolog.Nop())
	q.Stop()

	err := q.Submit(context.Background(), "late", func() error { return nil })
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestWorkerAlive(t *testing.T) {
	q := newTaskQueue(1, zerolog.Nop())
	defer q.Stop()

	if !q.WorkerAlive(time.Minute) {
		t.Error("fresh worker must report alive")
	}
}
