package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"betflow/internal/models"
)

func TestPublishDelivers(t *testing.T) {
	b := New(16, zerolog.Nop())
	b.Start()
	defer b.Stop()

	got := make(chan models.Event, 1)
	b.Subscribe(models.EventBetSuccess, func(evt models.Event) {
		got <- evt
	})

	b.Publish(models.EventBetSuccess, "payload")

	select {
	case evt := <-got:
		if evt.Type != models.EventBetSuccess || evt.Payload != "payload" {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestTypedSubscriptionFilters(t *testing.T) {
	b := New(16, zerolog.Nop())
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var seen []models.EventType
	b.Subscribe(models.EventBetFailed, func(evt models.Event) {
		mu.Lock()
		seen = append(seen, evt.Type)
		mu.Unlock()
	})

	done := make(chan struct{})
	b.SubscribeAll(func(evt models.Event) {
		if evt.Type == models.EventBalanceSync {
			close(done)
		}
	})

	b.Publish(models.EventBetSuccess, nil)
	b.Publish(models.EventBalanceSync, nil) // sentinel, delivered last

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch stalled")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 0 {
		t.Errorf("typed handler saw foreign events: %v", seen)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New(16, zerolog.Nop())
	b.Start()
	defer b.Stop()

	// 1. First subscriber panics on every event
	b.Subscribe(models.EventBetSuccess, func(models.Event) {
		panic("subscriber bug")
	})

	// 2. Second subscriber must still receive both events
	got := make(chan struct{}, 2)
	b.Subscribe(models.EventBetSuccess, func(models.Event) {
		got <- struct{}{}
	})

	b.Publish(models.EventBetSuccess, nil)
	b.Publish(models.EventBetSuccess, nil)

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("delivery %d lost after subscriber panic", i+1)
		}
	}
}

func TestPublishNeverBlocksOnFullQueue(t *testing.T) {
	// No dispatcher running: the queue fills up and stays full.
	b := New(2, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(models.EventBetFailed, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	if n := len(b.queue); n != 2 {
		t.Errorf("queue holds %d events, want 2 (overflow dropped)", n)
	}
}
