package task

import (
	"context"
	"errors"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/cluster"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/utils/retry"
)

// CreationStatus tells how a mutation task reached its end state.
type CreationStatus string

const (
	// the task created the object.
	Created CreationStatus = "created"

	// the object popped up between pre-check and create (lost race);
	// the task adopted it.
	AlreadyExists CreationStatus = "already_exists"

	// the desired end state already held at pre-check. no side effect.
	Skipped CreationStatus = "skipped"

	// the task failed. Result.Err holds the cause.
	Failed CreationStatus = "failed"
)

// Result is the outcome of one Task (or of a Flow composing Tasks).
// Build once, never mutate. When Success is false, Value is not populated.
type Result[V any] struct {
	Success        bool
	CreationStatus CreationStatus
	Value          V
	Cluster        cluster.Identity
	Err            error
}

// TimedOut distinguishes "the object never became ready in time" from an
// API error. Callers may show "still pending" instead of "failed".
func (r Result[V]) TimedOut() bool {
	return errors.Is(r.Err, kerr.ErrDeadlineExceeded)
}

func ok[V any](c cluster.Identity, status CreationStatus, value V) Result[V] {
	return Result[V]{Success: true, CreationStatus: status, Value: value, Cluster: c}
}

func failed[V any](c cluster.Identity, err error) Result[V] {
	return Result[V]{Success: false, CreationStatus: Failed, Cluster: c, Err: err}
}

// Task is one idempotent unit of work against the cluster API:
// pre-check, mutate, poll until ready, report.
//
// A Task value is built per invocation, executed once and discarded.
// Execute never panics through and never returns a raw context error:
// cancellation of the wait loop surfaces as a timed-out Result.
type Task[V any] interface {
	Execute(ctx context.Context) Result[V]
}

// Params bound the poll-for-ready phase of a task.
type Params struct {
	// interval between readiness polls
	PollInterval time.Duration

	// how long one readiness wait may take
	WaitTimeout time.Duration

	// outer ceiling over the whole task, pre-check included.
	// zero means WaitTimeout is the only bound.
	PollTimeout time.Duration
}

func (p Params) withDefaults() Params {
	if p.PollInterval <= 0 {
		p.PollInterval = 1 * time.Second
	}
	if p.WaitTimeout <= 0 {
		p.WaitTimeout = 3 * time.Minute
	}
	return p
}

// steps are the kind-specific parts of a mutation.
type steps[V any] struct {
	// precheck probes the target without waiting. satisfied=true means
	// the desired end state already holds and the task stops with Skipped.
	// The value accompanies the Skipped result (e.g. the existing host).
	precheck func(ctx context.Context) (value V, satisfied bool, err error)

	// apply issues the create/delete call and polls until the object
	// reaches the wanted state.
	apply func(ctx context.Context) (V, CreationStatus, error)
}

// run drives one mutation task: pre-check, apply, report.
func run[V any](ctx context.Context, c cluster.Cluster, p Params, s steps[V]) Result[V] {
	p = p.withDefaults()
	identity := c.Identity()

	if p.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.PollTimeout)
		defer cancel()
	}

	value, satisfied, err := s.precheck(ctx)
	if err != nil {
		return failed[V](identity, asTimeout(err))
	}
	if satisfied {
		return ok(identity, Skipped, value)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.WaitTimeout)
	defer cancel()

	value, status, err := s.apply(waitCtx)
	if err != nil {
		return failed[V](identity, asTimeout(err))
	}

	return ok(identity, status, value)
}

// asTimeout maps context expiry to the timeout sentinel, wherever in the
// task it struck. Cancellation of a poll loop is a timeout, not a crash.
func asTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return kerr.ErrDeadlineExceeded
	}
	return err
}

func backoff(p Params) retry.Backoff {
	return retry.StaticBackoff(p.withDefaults().PollInterval)
}

// resolve blocks on a cluster promise honouring ctx.
func resolve[V any](ctx context.Context, promise retry.Promise[V]) (V, error) {
	select {
	case <-ctx.Done():
		return *new(V), ctx.Err()
	case r := <-promise:
		return r.Value, r.Err
	}
}
