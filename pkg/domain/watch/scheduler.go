package watch

import (
	"context"
	"sync"
	"time"

	"github.com/anvilworks/anvil/pkg/loop"
)

// Handle cancels a scheduled unit of work. Cancel is idempotent and may
// be called while the work is running; an in-flight run is not interrupted.
type Handle interface {
	Cancel()
}

// Scheduler plans recurring and one-shot work. Handles are returned
// before the first run can fire, so callers can always record the handle
// they will later cancel.
type Scheduler interface {
	Every(interval time.Duration, run func()) Handle
	After(delay time.Duration, run func()) Handle
}

type handle struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (h *handle) Cancel() {
	h.once.Do(h.cancel)
}

type timerScheduler struct{}

// NewScheduler returns a Scheduler backed by runtime timers.
// Each scheduled item owns one goroutine until cancelled.
func NewScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) Every(interval time.Duration, run func()) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx, false, func(_ context.Context, primed bool) (bool, loop.Next) {
		if primed {
			run()
		}
		// the first round only arms the timer; run fires from the second on
		return true, loop.Continue(interval)
	})
	return &handle{cancel: cancel}
}

func (timerScheduler) After(delay time.Duration, run func()) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx, false, func(_ context.Context, primed bool) (bool, loop.Next) {
		if !primed {
			return true, loop.Continue(delay)
		}
		run()
		return true, loop.Break(nil)
	})
	return &handle{cancel: cancel}
}
