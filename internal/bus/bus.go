package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"betflow/internal/models"
)

// Handler consumes one event. Handlers run on the dispatcher goroutine;
// a panicking handler is isolated and must not starve other subscribers.
type Handler func(models.Event)

// Bus is a best-effort, at-most-once notification fan-out. Publishing
// never blocks: when the bounded queue is full, new events are dropped
// with a warning. Delivery is not guaranteed and consumers must not
// treat the bus as a source of truth; the journal is.
type Bus struct {
	queue chan models.Event
	log   zerolog.Logger

	mu       sync.RWMutex
	typed    map[models.EventType][]Handler
	catchAll []Handler

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func New(queueSize int, log zerolog.Logger) *Bus {
	return &Bus{
		queue: make(chan models.Event, queueSize),
		log:   log.With().Str("component", "bus").Logger(),
		typed: make(map[models.EventType][]Handler),
		done:  make(chan struct{}),
	}
}

// Start launches the dispatcher. Call exactly once.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.dispatch()
}

// Stop drains nothing: pending events are abandoned, consistent with
// the at-most-once contract.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t models.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typed[t] = append(b.typed[t], h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = append(b.catchAll, h)
}

// Publish enqueues an event without blocking. Overflow drops the new
// event, never an already queued one.
func (b *Bus) Publish(t models.EventType, payload interface{}) {
	evt := models.Event{Type: t, At: time.Now().UTC(), Payload: payload}
	select {
	case b.queue <- evt:
	default:
		b.log.Warn().Str("type", string(t)).Msg("event queue full, dropping event")
	}
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case evt := <-b.queue:
			b.deliver(evt)
		}
	}
}

func (b *Bus) deliver(evt models.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.typed[evt.Type])+len(b.catchAll))
	handlers = append(handlers, b.typed[evt.Type]...)
	handlers = append(handlers, b.catchAll...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, evt)
	}
}

// safeCall shields the dispatcher (and the remaining subscribers of the
// same event) from a panicking handler.
func (b *Bus) safeCall(h Handler, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("type", string(evt.Type)).
				Msg("subscriber panicked, isolating")
		}
	}()
	h(evt)
}
