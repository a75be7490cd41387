package resources

import (
	"time"

	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/domain/task"
)

// Detail is the wire representation of one managed resource.
type Detail struct {
	ResourceId string     `json:"resourceId"`
	Kind       string     `json:"kind"`
	Name       string     `json:"name"`
	Owner      string     `json:"owner"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Cluster    string     `json:"cluster,omitempty"`
	Namespace  string     `json:"namespace,omitempty"`
	Handle     string     `json:"handle,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

func ComposeDetail(r resource.Resource) Detail {
	return Detail{
		ResourceId: r.Id,
		Kind:       string(r.Kind),
		Name:       r.Name,
		Owner:      r.Owner,
		Status:     string(r.Status),
		Message:    r.Message,
		Cluster:    r.Cluster,
		Namespace:  r.DeployedNamespace,
		Handle:     r.Handle,
		EndedAt:    r.EndedAt,
	}
}

// Outcome is the wire representation of a flow result.
type Outcome struct {
	CreationStatus string `json:"creationStatus"`
	Handle         string `json:"handle,omitempty"`
	TimedOut       bool   `json:"timedOut,omitempty"`
	Resource       Detail `json:"resource"`
}

func ComposeOutcome(result task.Result[string], r resource.Resource) Outcome {
	return Outcome{
		CreationStatus: string(result.CreationStatus),
		Handle:         result.Value,
		TimedOut:       result.TimedOut(),
		Resource:       ComposeDetail(r),
	}
}

// Event is one frame of the watch stream.
type Event struct {
	Event    string  `json:"event"`
	Resource *Detail `json:"resource,omitempty"`
}
