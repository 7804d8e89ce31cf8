package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sendTimeout = 5 * time.Second

// Async hands events to a single worker. Publish never blocks: when the
// buffer is full the event is dropped and onDrop is called.
type Async struct {
	sink   Sink
	events chan Event
	log    *zap.Logger
	onDrop func(Event)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(sink Sink, buffer int, log *zap.Logger, onDrop func(Event)) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if onDrop == nil {
		onDrop = func(Event) {}
	}
	a := &Async{
		sink:   sink,
		events: make(chan Event, buffer),
		log:    log,
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish ignores ctx cancellation on purpose: delivery outlives the request.
func (a *Async) Publish(_ context.Context, event Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.onDrop(event)
		return
	}
	select {
	case a.events <- event:
	default:
		a.log.Warn("notification dropped", zap.String("type", string(event.Type)), zap.String("obligation_id", event.ObligationID.String()))
		a.onDrop(event)
	}
}

func (a *Async) run() {
	defer close(a.done)
	for event := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := a.sink.Send(ctx, event); err != nil {
			a.log.Warn("notification failed", zap.String("type", string(event.Type)), zap.Error(err))
		}
		cancel()
	}
}

// Close stops intake and waits for the buffer to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
