package resource

import (
	"context"
	"fmt"
	"time"
)

// Kind of a managed platform resource.
type Kind string

const (
	Application Kind = "application"
	Database    Kind = "database"
	TrainingJob Kind = "trainingjob"
	TaskRun     Kind = "taskrun"
)

// Job returns true for kinds that run to completion and can be cancelled.
func (k Kind) Job() bool {
	switch k {
	case TrainingJob, TaskRun:
		return true
	default:
		return false
	}
}

// Status of provisioning for a managed resource.
type Status string

const (
	// registered, nothing provisioned yet.
	Created Status = "created"

	// a deploy flow is mutating the cluster for this resource.
	Deploying Status = "deploying"

	// cluster objects are up and ready.
	Deployed Status = "deployed"

	// the last deploy flow failed. Message holds a message key for display.
	StatusError Status = "error"

	// a delete flow is tearing the resource down.
	// the record is removed once the flow returns.
	Deleting Status = "deleting"

	// job-kind only. cancelled by the user while deployed.
	Cancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func AsStatus(status string) (Status, error) {
	switch status {
	case string(Created):
		return Created, nil
	case string(Deploying):
		return Deploying, nil
	case string(Deployed):
		return Deployed, nil
	case string(StatusError):
		return StatusError, nil
	case string(Deleting):
		return Deleting, nil
	case string(Cancelled):
		return Cancelled, nil
	default:
		return "", fmt.Errorf("'%s' is not a resource status", status)
	}
}

// Terminal returns true when no flow will move the resource further
// without a new user request.
func (s Status) Terminal() bool {
	switch s {
	case Deployed, StatusError, Cancelled:
		return true
	default:
		return false
	}
}

// CanTransit reports whether s -> next is a legal lifecycle move for kind.
//
//	created  -> deploying
//	deploying -> deployed | error
//	error    -> deploying           (redeploy)
//	deployed -> deleting | cancelled (cancelled: job kinds only)
//	error    -> deleting
//	deployed -> deploying           (redeploy passes through created)
func (s Status) CanTransit(next Status, kind Kind) bool {
	switch s {
	case Created:
		return next == Deploying
	case Deploying:
		return next == Deployed || next == StatusError
	case Deployed:
		switch next {
		case Deleting, Created:
			return true
		case Cancelled:
			return kind.Job()
		}
		return false
	case StatusError:
		return next == Deploying || next == Deleting || next == Created
	case Deleting:
		return false
	case Cancelled:
		return next == Deleting
	}
	return false
}

// Resource is the control plane's record of one provisioned entity.
// Business attributes (specs, quotas, billing) live with their own services;
// only the orchestration-relevant fields appear here.
type Resource struct {
	Id     string
	Kind   Kind
	Name   string
	Owner  string
	Status Status

	// cluster identity + namespace the resource was materialized into
	Cluster           string
	DeployedNamespace string

	// handle produced by the deploy flow: ingress host for services,
	// submission id for jobs
	Handle string

	// message key for user display when Status == StatusError
	Message string

	// set when a job-kind resource is cancelled
	EndedAt *time.Time

	// provisioning inputs, filled from the user's request
	Image    string
	Args     []string
	Replicas int32
	Port     int32
}

// Store persists Resource records. Implemented by the platform's entity
// service; the orchestration core only touches status and flow-derived
// fields through it.
type Store interface {
	Get(ctx context.Context, id string) (Resource, error)

	// UpdateStatus moves the record to status.
	// Illegal transitions are the caller's bug; stores may reject them.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// SetError moves the record to StatusError recording a message key.
	SetError(ctx context.Context, id string, messageKey string) error

	// SetHandle records the flow-produced handle and placement.
	SetHandle(ctx context.Context, id string, cluster string, namespace string, handle string) error

	// SetEnded records the end timestamp of a cancelled job.
	SetEnded(ctx context.Context, id string, at time.Time) error

	// Delete removes the record. Called only after the delete flow returned.
	Delete(ctx context.Context, id string) error
}
