package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task run.
type Next struct {
	// break with error, when not nil
	err error

	// break without error, when quit and err == nil
	quit bool

	// otherwise, run again after interval
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue runs the task again after sleeping interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. Pass nil to stop without error.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value from its previous run and returns the next one,
// together with a Next deciding whether the loop goes on.
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task repeatedly, threading a value of type T through runs.
//
// The first run receives init. Between runs Start sleeps for the interval
// given by Continue. The loop stops when the task returns Break or when
// ctx is done; in the latter case ctx.Err() is returned together with the
// last value.
func Start[T any](ctx context.Context, init T, task Task[T]) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		v, n := task(ctx, value)

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutdown first, timer later
			if !timer.Stop() {
				<-timer.C
			}
			return value, ctx.Err()

		case <-timer.C:
		}
	}
}
