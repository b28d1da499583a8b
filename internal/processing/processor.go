// Package processing delivers tracker events in-process when no redis queue is
// configured. A fixed pool of goroutines drains a buffered channel and hands
// each event to every registered sink.
package processing

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
)

// ErrQueueFull is returned by Notify when the buffer has no room.
var ErrQueueFull = errors.New("dispatch queue full")

// Sink consumes delivered events.
type Sink func(ctx context.Context, ev event.Event) error

// LogSink writes a one-line summary of every event.
func LogSink(_ context.Context, ev event.Event) error {
	if ev.Handle != nil {
		log.Printf("event %s %s token=%d actor=%s", ev.ID, ev.Kind, *ev.Handle, ev.Actor)
		return nil
	}
	log.Printf("event %s %s actor=%s account=%s", ev.ID, ev.Kind, ev.Actor, ev.Account)
	return nil
}

// Dispatcher implements tracker.Notifier on top of a worker pool.
type Dispatcher struct {
	sinks   []Sink
	queue   chan event.Event
	workers int
	wg      sync.WaitGroup
}

// New builds a Dispatcher with queue capacity tied to worker count.
func New(workers int, sinks ...Sink) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if len(sinks) == 0 {
		sinks = []Sink{LogSink}
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan event.Event, workers*64),
		workers: workers,
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Notify queues ev without blocking the committing operation.
func (d *Dispatcher) Notify(_ context.Context, ev event.Event) error {
	select {
	case d.queue <- ev:
		return nil
	default:
		log.Printf("dispatch queue full, dropping event %s (%s)", ev.ID, ev.Kind)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev event.Event) {
	for _, sink := range d.sinks {
		if err := sink(ctx, ev); err != nil {
			log.Printf("deliver event %s: %v", ev.ID, err)
		}
	}
}
