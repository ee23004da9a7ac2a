package apm

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/recovery"
	"go.mongodb.org/mongo-driver/v2/event"
)

type loggingMonitor struct {
	interval time.Duration
	Monitor
}

// NewLoggingMonitor wraps a Monitor so that its current window is
// rotated and logged to the default grip logger on every interval
// until ctx is canceled.
func NewLoggingMonitor(ctx context.Context, dur time.Duration, m Monitor) Monitor {
	impl := &loggingMonitor{
		interval: dur,
		Monitor:  m,
	}
	go impl.flusher(ctx)
	return impl
}

func (m *loggingMonitor) flusher(ctx context.Context) {
	defer recovery.LogStackTraceAndContinue("logging driver apm collector")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			grip.Info(m.Monitor.Rotate().Message())
		}
	}
}

// Combine returns a command monitor that forwards every event to each
// of monitors in order. Nil monitors and nil callbacks are skipped.
func Combine(monitors ...*event.CommandMonitor) *event.CommandMonitor {
	active := make([]*event.CommandMonitor, 0, len(monitors))
	for _, m := range monitors {
		if m != nil {
			active = append(active, m)
		}
	}

	return &event.CommandMonitor{
		Started: func(ctx context.Context, e *event.CommandStartedEvent) {
			for _, m := range active {
				if m.Started != nil {
					m.Started(ctx, e)
				}
			}
		},
		Succeeded: func(ctx context.Context, e *event.CommandSucceededEvent) {
			for _, m := range active {
				if m.Succeeded != nil {
					m.Succeeded(ctx, e)
				}
			}
		},
		Failed: func(ctx context.Context, e *event.CommandFailedEvent) {
			for _, m := range active {
				if m.Failed != nil {
					m.Failed(ctx, e)
				}
			}
		},
	}
}
