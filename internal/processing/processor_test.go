package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
)

func TestDispatcherDeliversToEverySink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan event.Event, 4)
	second := make(chan event.Event, 4)
	d := New(2,
		func(_ context.Context, ev event.Event) error { first <- ev; return nil },
		func(_ context.Context, ev event.Event) error { second <- ev; return errors.New("ignored") },
	)
	d.Start(ctx)

	ev := event.New(event.KindMint, time.Now()).WithHandle(1)
	if err := d.Notify(ctx, ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	for _, ch := range []chan event.Event{first, second} {
		select {
		case got := <-ch:
			if got.ID != ev.ID {
				t.Fatalf("got event %s, want %s", got.ID, ev.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	cancel()
	d.Wait()
}

func TestDispatcherRejectsWhenFull(t *testing.T) {
	// Not started, so nothing drains the buffer.
	d := New(1, LogSink)
	for i := 0; i < cap(d.queue); i++ {
		if err := d.Notify(context.Background(), event.New(event.KindPaused, time.Now())); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	err := d.Notify(context.Background(), event.New(event.KindPaused, time.Now()))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
