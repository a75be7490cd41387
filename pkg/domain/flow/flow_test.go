package flow_test

import (
	"context"
	"log"
	"sync/atomic"
	"testing"
	"time"

	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubenet "k8s.io/api/networking/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	kubetypes "k8s.io/apimachinery/pkg/types"

	clmock "github.com/anvilworks/anvil/pkg/domain/cluster/mock"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/flow"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	rmock "github.com/anvilworks/anvil/pkg/domain/resource/mock"
	"github.com/anvilworks/anvil/pkg/domain/task"
	"github.com/anvilworks/anvil/pkg/utils/cmp"
	"github.com/anvilworks/anvil/pkg/utils/pointer"
)

func notFound(resource, name string) error {
	return kubeerr.NewNotFound(schema.GroupResource{Resource: resource}, name)
}

func fastParams() task.Params {
	return task.Params{
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  1 * time.Second,
	}
}

func quietLogger() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func appResource() resource.Resource {
	return resource.Resource{
		Id:     "res-1",
		Kind:   resource.Application,
		Name:   "webapp",
		Owner:  "alice",
		Status: resource.Created,
		Image:  "registry.example/webapp:1",
		Port:   8080,
	}
}

func jobResource() resource.Resource {
	return resource.Resource{
		Id:     "res-2",
		Kind:   resource.TrainingJob,
		Name:   "train",
		Owner:  "bob",
		Status: resource.Deployed,
		Image:  "registry.example/train:1",
		Args:   []string{"--epochs", "3"},
	}
}

func readyDeployment(name string) *kubeapps.Deployment {
	d := &kubeapps.Deployment{}
	d.ObjectMeta.Name = name
	d.Spec.Replicas = pointer.Ref(int32(1))
	d.Status.AvailableReplicas = 1
	return d
}

func readyIngress(name string) *kubenet.Ingress {
	ing := &kubenet.Ingress{}
	ing.ObjectMeta.Name = name
	ing.Spec.Rules = []kubenet.IngressRule{{Host: name + ".fake.local"}}
	return ing
}

func TestDeploy(t *testing.T) {
	t.Run("it records Deploying before the first cluster call and Deployed after", func(t *testing.T) {
		cl, client := clmock.NewCluster()

		store := rmock.NewStore()
		var statusWhenCreated []resource.Status
		var deplCreated, ingCreated atomic.Bool
		client.Impl.GetDeployment = func(_ context.Context, _, name string) (*kubeapps.Deployment, error) {
			if !deplCreated.Load() {
				return nil, notFound("deployments", name)
			}
			return readyDeployment(name), nil
		}
		client.Impl.CreateDeployment = func(_ context.Context, _ string, d *kubeapps.Deployment) (*kubeapps.Deployment, error) {
			statusWhenCreated = append([]resource.Status{}, store.StatusLog...)
			deplCreated.Store(true)
			return readyDeployment(d.ObjectMeta.Name), nil
		}
		client.Impl.GetIngress = func(_ context.Context, _, name string) (*kubenet.Ingress, error) {
			if !ingCreated.Load() {
				return nil, notFound("ingresses", name)
			}
			return readyIngress(name), nil
		}
		client.Impl.CreateIngress = func(_ context.Context, _ string, ing *kubenet.Ingress) (*kubenet.Ingress, error) {
			ingCreated.Store(true)
			return ing, nil
		}

		flows := flow.New(cl, store, fastParams(), quietLogger())
		result := flows.Deploy(context.Background(), appResource())

		if !result.Success {
			t.Fatalf("unexpected failure: %+v", result.Err)
		}
		if !cmp.SliceEq(statusWhenCreated, []resource.Status{resource.Deploying}) {
			t.Errorf("status at first cluster call: %v, expected [deploying]", statusWhenCreated)
		}
		if !cmp.SliceEq(store.StatusLog, []resource.Status{resource.Deploying, resource.Deployed}) {
			t.Errorf("status log: %v", store.StatusLog)
		}
		if store.Called.SetHandle != 1 {
			t.Errorf("SetHandle called %d times, expected once", store.Called.SetHandle)
		}
		if result.Value != "application-res-1.fake.local" {
			t.Errorf("handle: %s", result.Value)
		}
	})

	t.Run("it persists an error state with a message key instead of failing hard", func(t *testing.T) {
		cl, client := clmock.NewCluster()
		client.Impl.GetDeployment = func(_ context.Context, _, name string) (*kubeapps.Deployment, error) {
			return nil, notFound("deployments", name)
		}
		client.Impl.CreateDeployment = func(_ context.Context, _ string, d *kubeapps.Deployment) (*kubeapps.Deployment, error) {
			return nil, kubeerr.NewInternalError(notFound("deployments", d.ObjectMeta.Name))
		}

		store := rmock.NewStore()
		var messageKey string
		store.Impl.SetError = func(_ context.Context, _ string, key string) error {
			messageKey = key
			return nil
		}

		flows := flow.New(cl, store, fastParams(), quietLogger())
		result := flows.Deploy(context.Background(), appResource())

		if result.Success {
			t.Fatal("expected a reported failure")
		}
		if messageKey != flow.MessageDeployFailed {
			t.Errorf("message key: %s != %s", messageKey, flow.MessageDeployFailed)
		}
		if !cmp.SliceEq(store.StatusLog, []resource.Status{resource.Deploying, resource.StatusError}) {
			t.Errorf("status log: %v", store.StatusLog)
		}
	})

	t.Run("it distinguishes a deploy timeout by its message key", func(t *testing.T) {
		cl, client := clmock.NewCluster()
		var gets atomic.Uint64
		client.Impl.GetDeployment = func(_ context.Context, _, name string) (*kubeapps.Deployment, error) {
			if gets.Add(1) == 1 {
				return nil, notFound("deployments", name)
			}
			d := readyDeployment(name)
			d.Status.AvailableReplicas = 0
			return d, nil
		}
		client.Impl.CreateDeployment = func(_ context.Context, _ string, d *kubeapps.Deployment) (*kubeapps.Deployment, error) {
			created := readyDeployment(d.ObjectMeta.Name)
			created.Status.AvailableReplicas = 0
			return created, nil
		}

		store := rmock.NewStore()
		var messageKey string
		store.Impl.SetError = func(_ context.Context, _ string, key string) error {
			messageKey = key
			return nil
		}

		flows := flow.New(cl, store, task.Params{
			PollInterval: 10 * time.Millisecond,
			WaitTimeout:  60 * time.Millisecond,
		}, quietLogger())
		result := flows.Deploy(context.Background(), appResource())

		if result.Success {
			t.Fatal("expected a reported failure")
		}
		if !result.TimedOut() {
			t.Errorf("expected timeout-class result, got: %+v", result.Err)
		}
		if messageKey != flow.MessageDeployTimeout {
			t.Errorf("message key: %s != %s", messageKey, flow.MessageDeployTimeout)
		}
	})
}

func TestDelete(t *testing.T) {
	t.Run("it tears the cluster down and then removes the record", func(t *testing.T) {
		cl, client := clmock.NewCluster()

		var order []string
		var deplGone, ingGone atomic.Bool
		client.Impl.GetDeployment = func(_ context.Context, _, name string) (*kubeapps.Deployment, error) {
			if deplGone.Load() {
				return nil, notFound("deployments", name)
			}
			return readyDeployment(name), nil
		}
		client.Impl.DeleteDeployment = func(_ context.Context, _, _ string) error {
			order = append(order, "deployment")
			deplGone.Store(true)
			return nil
		}
		client.Impl.GetIngress = func(_ context.Context, _, name string) (*kubenet.Ingress, error) {
			if ingGone.Load() {
				return nil, notFound("ingresses", name)
			}
			return readyIngress(name), nil
		}
		client.Impl.DeleteIngress = func(_ context.Context, _, _ string) error {
			order = append(order, "ingress")
			ingGone.Store(true)
			return nil
		}

		store := rmock.NewStore()
		flows := flow.New(cl, store, fastParams(), quietLogger())

		r := appResource()
		r.Status = resource.Deployed
		result := flows.Delete(context.Background(), r)

		if !result.Success {
			t.Fatalf("unexpected failure: %+v", result.Err)
		}
		if !cmp.SliceEq(order, []string{"ingress", "deployment"}) {
			t.Errorf("teardown order: %v", order)
		}
		if !cmp.SliceEq(store.StatusLog, []resource.Status{resource.Deleting}) {
			t.Errorf("status log: %v", store.StatusLog)
		}
		if store.Called.Delete != 1 {
			t.Errorf("record deleted %d times, expected once", store.Called.Delete)
		}
	})

	t.Run("it tolerates a record that is already gone", func(t *testing.T) {
		cl, client := clmock.NewCluster()
		client.Impl.GetDeployment = func(_ context.Context, _, name string) (*kubeapps.Deployment, error) {
			return nil, notFound("deployments", name)
		}
		client.Impl.GetIngress = func(_ context.Context, _, name string) (*kubenet.Ingress, error) {
			return nil, notFound("ingresses", name)
		}

		store := rmock.NewStore()
		store.Impl.Delete = func(_ context.Context, id string) error {
			return kerr.NewMissing(id)
		}

		flows := flow.New(cl, store, fastParams(), quietLogger())
		result := flows.Delete(context.Background(), appResource())

		if !result.Success {
			t.Fatalf("unexpected failure: %+v", result.Err)
		}
	})
}

func TestRedeploy(t *testing.T) {
	t.Run("it runs exactly one teardown then one deploy, ending Deployed", func(t *testing.T) {
		cl, client := clmock.NewCluster()

		var present atomic.Bool
		present.Store(true)
		client.Impl.GetJob = func(_ context.Context, _, name string) (*kubebatch.Job, error) {
			if !present.Load() {
				return nil, notFound("jobs", name)
			}
			return startedJob(name), nil
		}
		store := rmock.NewStore()
		var statusWhenDeleted []resource.Status
		client.Impl.DeleteJob = func(_ context.Context, _, _ string) error {
			statusWhenDeleted = append([]resource.Status{}, store.StatusLog...)
			present.Store(false)
			return nil
		}
		client.Impl.CreateJob = func(_ context.Context, _ string, j *kubebatch.Job) (*kubebatch.Job, error) {
			present.Store(true)
			return startedJob(j.ObjectMeta.Name), nil
		}

		flows := flow.New(cl, store, fastParams(), quietLogger())
		result := flows.Redeploy(context.Background(), jobResource())

		if !result.Success {
			t.Fatalf("unexpected failure: %+v", result.Err)
		}
		if !cmp.SliceEq(statusWhenDeleted, []resource.Status{resource.Created}) {
			t.Errorf("status at cluster delete: %v, expected [created]", statusWhenDeleted)
		}
		if client.Called.DeleteJob != 1 {
			t.Errorf("delete called %d times, expected once", client.Called.DeleteJob)
		}
		if client.Called.CreateJob != 1 {
			t.Errorf("create called %d times, expected once", client.Called.CreateJob)
		}
		want := []resource.Status{resource.Created, resource.Deploying, resource.Deployed}
		if !cmp.SliceEq(store.StatusLog, want) {
			t.Errorf("status log: %v, expected %v", store.StatusLog, want)
		}
	})
}

func TestCancel(t *testing.T) {
	t.Run("it rejects cancelling a non-job resource", func(t *testing.T) {
		cl, _ := clmock.NewCluster()
		store := rmock.NewStore()
		store.Impl.Get = func(_ context.Context, id string) (resource.Resource, error) {
			r := appResource()
			r.Status = resource.Deployed
			return r, nil
		}

		flows := flow.New(cl, store, fastParams(), quietLogger())
		err := flows.Cancel(context.Background(), "res-1")

		if err == nil || !kerr.AsConflict(err) {
			t.Errorf("expected a conflict error, got: %+v", err)
		}
	})

	t.Run("it cancels a deployed job and stamps the end time", func(t *testing.T) {
		cl, client := clmock.NewCluster()

		var present atomic.Bool
		present.Store(true)
		client.Impl.GetJob = func(_ context.Context, _, name string) (*kubebatch.Job, error) {
			if !present.Load() {
				return nil, notFound("jobs", name)
			}
			return startedJob(name), nil
		}
		client.Impl.DeleteJob = func(_ context.Context, _, _ string) error {
			present.Store(false)
			return nil
		}

		store := rmock.NewStore()
		store.Impl.Get = func(_ context.Context, id string) (resource.Resource, error) {
			return jobResource(), nil
		}

		flows := flow.New(cl, store, fastParams(), quietLogger())
		if err := flows.Cancel(context.Background(), "res-2"); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		if !cmp.SliceEq(store.StatusLog, []resource.Status{resource.Cancelled}) {
			t.Errorf("status log: %v", store.StatusLog)
		}
		if store.Called.SetEnded != 1 {
			t.Errorf("SetEnded called %d times, expected once", store.Called.SetEnded)
		}
	})
}

func startedJob(name string) *kubebatch.Job {
	j := &kubebatch.Job{}
	j.ObjectMeta.Name = name
	j.ObjectMeta.UID = kubetypes.UID("uid-" + name)
	j.Status.Active = 1
	return j
}
