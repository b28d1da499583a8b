package tracker

import (
	"context"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
)

// Notifier receives one event per committed mutating operation. Errors are
// logged by the Service and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, ev event.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev event.Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev event.Event) error { return f(ctx, ev) }

// MetricsRecorder observes the outcome of every public operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, event.Event) error { return nil }

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}
