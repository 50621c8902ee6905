package relay

import (
	"context"
	"log/slog"
	"time"
)

const drainTimeout = 5 * time.Second

// Observer reacts to game lifecycle events.
type Observer interface {
	Observe(ctx context.Context, evt Event) error
}

// EventNotifier accepts lifecycle events without blocking the caller.
type EventNotifier interface {
	Notify(evt Event)
}

// Dispatcher queues lifecycle events and hands them to observers from a single
// goroutine. The relay notifies under the game's registry lock, so events of
// one game reach each observer in the order its membership changed.
type Dispatcher struct {
	events    chan Event
	observers []Observer
}

func NewDispatcher(bufferSize int, observers ...Observer) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Dispatcher{
		events:    make(chan Event, bufferSize),
		observers: observers,
	}
}

// Notify enqueues evt. When the buffer is full the event is dropped.
func (d *Dispatcher) Notify(evt Event) {
	select {
	case d.events <- evt:
	default:
		slog.Warn("Lifecycle event buffer full, dropping event", "type", evt.Type, "gameID", evt.GameID)
	}
}

// Run delivers events until ctx is cancelled, then flushes whatever is still
// buffered. It should be run in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Lifecycle event dispatcher started", "observers", len(d.observers))
	for {
		select {
		case <-ctx.Done():
			d.drain()
			slog.Info("Lifecycle event dispatcher stopped.")
			return
		case evt := <-d.events:
			d.dispatch(ctx, evt)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-d.events:
			d.dispatch(ctx, evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, evt Event) {
	for _, o := range d.observers {
		if err := o.Observe(ctx, evt); err != nil {
			slog.Error("Observer failed to handle lifecycle event", "type", evt.Type, "gameID", evt.GameID, "error", err)
		}
	}
}
