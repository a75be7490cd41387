package flow

import (
	"context"
	"log"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/cluster"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/domain/task"
)

// message keys persisted for user display. localization happens upstream.
const (
	MessageDeployFailed  = "error.deploy.failed"
	MessageDeployTimeout = "error.deploy.timeout"
	MessageDeleteFailed  = "error.delete.failed"
)

// how long a user-initiated job cancellation may wait for the cluster.
const cancelWait = 10 * time.Second

// PrepareHook runs before the cluster stage of a deploy flow to set up
// non-cluster side effects (e.g. an external artifact repository).
// The returned cleanup is invoked, best effort, when the cluster stage
// fails afterwards.
type PrepareHook func(ctx context.Context, r resource.Resource) (cleanup func(context.Context) error, err error)

// Service sequences mutation tasks into the user-visible operations.
//
// All methods report failures inside the returned Result (with the
// resource left in StatusError and a message key persisted); they never
// surface cluster trouble as a hard error to the caller.
type Service interface {
	Deploy(ctx context.Context, r resource.Resource) task.Result[string]
	Delete(ctx context.Context, r resource.Resource) task.Result[string]
	Redeploy(ctx context.Context, r resource.Resource) task.Result[string]
	Cancel(ctx context.Context, resourceId string) error
}

type flows struct {
	cluster cluster.Cluster
	store   resource.Store
	params  task.Params
	prepare PrepareHook
	logger  *log.Logger
}

var _ Service = &flows{}

type Option func(*flows)

func WithPrepareHook(h PrepareHook) Option {
	return func(f *flows) {
		f.prepare = h
	}
}

func New(
	c cluster.Cluster,
	store resource.Store,
	params task.Params,
	logger *log.Logger,
	options ...Option,
) Service {
	f := &flows{cluster: c, store: store, params: params, logger: logger}
	for _, o := range options {
		o(f)
	}
	return f
}

// Deploy provisions the cluster objects of r, in a fixed hand-ordered
// sequence per kind. The status store is moved to Deploying before the
// first cluster call so that a concurrent status read never sees a stale
// terminal state while the mutation is in flight.
func (f *flows) Deploy(ctx context.Context, r resource.Resource) task.Result[string] {
	if err := f.store.UpdateStatus(ctx, r.Id, resource.Deploying); err != nil {
		return f.fail(ctx, r, err, MessageDeployFailed)
	}

	var cleanup func(context.Context) error
	if f.prepare != nil {
		var err error
		cleanup, err = f.prepare(ctx, r)
		if err != nil {
			return f.fail(ctx, r, err, MessageDeployFailed)
		}
	}

	result := f.deploySequence(ctx, r)
	if !result.Success {
		if cleanup != nil {
			// prepared side effects must not outlive a failed attempt
			if err := cleanup(context.WithoutCancel(ctx)); err != nil {
				f.logger.Printf("cleanup after failed deploy of %s: %s", r.Id, err)
			}
		}
		message := MessageDeployFailed
		if result.TimedOut() {
			message = MessageDeployTimeout
		}
		return f.fail(ctx, r, result.Err, message)
	}

	if err := f.store.SetHandle(
		ctx, r.Id, result.Cluster.Name, f.cluster.Namespace(), result.Value,
	); err != nil {
		return f.fail(ctx, r, err, MessageDeployFailed)
	}
	if err := f.store.UpdateStatus(ctx, r.Id, resource.Deployed); err != nil {
		return f.fail(ctx, r, err, MessageDeployFailed)
	}

	return result
}

func (f *flows) deploySequence(ctx context.Context, r resource.Resource) task.Result[string] {
	switch r.Kind {
	case resource.TrainingJob, resource.TaskRun:
		return task.CreateJob{
			Cluster: f.cluster, Params: f.params, Spec: jobFor(r),
		}.Execute(ctx)

	default:
		depl := task.CreateDeployment{
			Cluster: f.cluster, Params: f.params, Spec: deploymentFor(r),
		}.Execute(ctx)
		if !depl.Success {
			return depl
		}

		ing := task.CreateIngress{
			Cluster: f.cluster, Params: f.params, Spec: ingressFor(r, f.cluster.Identity()),
		}.Execute(ctx)
		return ing
	}
}

// Delete tears the cluster objects of r down and then, and only then,
// removes the store record. Absent objects are tolerated skips.
func (f *flows) Delete(ctx context.Context, r resource.Resource) task.Result[string] {
	if err := f.store.UpdateStatus(ctx, r.Id, resource.Deleting); err != nil {
		return f.fail(ctx, r, err, MessageDeleteFailed)
	}

	result := f.teardown(ctx, r)
	if !result.Success {
		return f.fail(ctx, r, result.Err, MessageDeleteFailed)
	}

	if err := f.store.Delete(ctx, r.Id); err != nil && !kerr.AsMissing(err) {
		return f.fail(ctx, r, err, MessageDeleteFailed)
	}
	return result
}

func (f *flows) teardown(ctx context.Context, r resource.Resource) task.Result[string] {
	for _, t := range deleteSequence(f.cluster, f.params, r) {
		result := t.Execute(ctx)
		if !result.Success {
			return result
		}
	}
	return task.Result[string]{
		Success:        true,
		CreationStatus: task.Created,
		Cluster:        f.cluster.Identity(),
	}
}

func deleteSequence(c cluster.Cluster, p task.Params, r resource.Resource) []task.Delete {
	name := objectName(r)
	switch r.Kind {
	case resource.TrainingJob, resource.TaskRun:
		return []task.Delete{
			{Cluster: c, Params: p, Kind: task.JobObject, Name: name},
		}
	default:
		return []task.Delete{
			{Cluster: c, Params: p, Kind: task.IngressObject, Name: name},
			{Cluster: c, Params: p, Kind: task.DeploymentObject, Name: name},
		}
	}
}

// Redeploy is the idempotent composition delete-then-deploy; there is no
// in-place mutate path. The record survives: status drops back to
// Created before any cluster call (so a concurrent read never sees the
// stale terminal state mid-teardown), then the deploy flow runs.
func (f *flows) Redeploy(ctx context.Context, r resource.Resource) task.Result[string] {
	if err := f.store.UpdateStatus(ctx, r.Id, resource.Created); err != nil {
		return f.fail(ctx, r, err, MessageDeployFailed)
	}
	torn := f.teardown(ctx, r)
	if !torn.Success {
		return f.fail(ctx, r, torn.Err, MessageDeleteFailed)
	}
	return f.Deploy(ctx, r)
}

// Cancel requests cluster-side cancellation of a job-kind resource with
// a bounded wait and, on success, forces the terminal Cancelled state
// with an end timestamp.
func (f *flows) Cancel(ctx context.Context, resourceId string) error {
	r, err := f.store.Get(ctx, resourceId)
	if err != nil {
		return err
	}
	if !r.Kind.Job() {
		return kerr.NewConflict("not a job kind: " + string(r.Kind))
	}
	if !r.Status.CanTransit(resource.Cancelled, r.Kind) {
		return kerr.NewConflict("cannot cancel in status " + r.Status.String())
	}

	waitCtx, cancel := context.WithTimeout(ctx, cancelWait)
	defer cancel()

	result := task.Delete{
		Cluster: f.cluster, Params: f.params,
		Kind: task.JobObject, Name: objectName(r),
	}.Execute(waitCtx)
	if !result.Success {
		return result.Err
	}

	if err := f.store.UpdateStatus(ctx, r.Id, resource.Cancelled); err != nil {
		return err
	}
	return f.store.SetEnded(ctx, r.Id, time.Now())
}

// fail persists the error state and wraps the cause into a reported
// (not thrown) Result.
func (f *flows) fail(ctx context.Context, r resource.Resource, cause error, messageKey string) task.Result[string] {
	f.logger.Printf("flow failed for %s (%s): %s", r.Id, messageKey, cause)
	if err := f.store.SetError(context.WithoutCancel(ctx), r.Id, messageKey); err != nil {
		f.logger.Printf("recording error state for %s: %s", r.Id, err)
	}
	return task.Result[string]{
		Success:        false,
		CreationStatus: task.Failed,
		Cluster:        f.cluster.Identity(),
		Err:            cause,
	}
}
