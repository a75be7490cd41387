package cluster

import (
	"context"
	"errors"

	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubenet "k8s.io/api/networking/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"

	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/utils/retry"
)

// subset of k8s.Clientset the control plane talks to.
type Client interface {
	GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error)
	CreateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error)
	DeleteSecret(ctx context.Context, namespace string, name string) error

	GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)
	CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	DeleteDeployment(ctx context.Context, namespace string, name string) error

	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
	CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error

	GetIngress(ctx context.Context, namespace string, name string) (*kubenet.Ingress, error)
	CreateIngress(ctx context.Context, namespace string, ing *kubenet.Ingress) (*kubenet.Ingress, error)
	DeleteIngress(ctx context.Context, namespace string, name string) error
}

// A wrapper for k8s.Clientset, flattening its method-chain style calls.
type clientsetClient struct {
	client *k8s.Clientset
}

var _ Client = &clientsetClient{}

func WrapClientset(c *k8s.Clientset) Client {
	return &clientsetClient{client: c}
}

func (k *clientsetClient) GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error) {
	return k.client.CoreV1().Secrets(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *clientsetClient) CreateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error) {
	return k.client.CoreV1().Secrets(namespace).Create(ctx, secret, kubeapimeta.CreateOptions{})
}

func (k *clientsetClient) DeleteSecret(ctx context.Context, namespace string, name string) error {
	return k.client.CoreV1().Secrets(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *clientsetClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *clientsetClient) CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Create(ctx, depl, kubeapimeta.CreateOptions{})
}

func (k *clientsetClient) DeleteDeployment(ctx context.Context, namespace string, name string) error {
	return k.client.AppsV1().Deployments(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *clientsetClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *clientsetClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (k *clientsetClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	foreground := kubeapimeta.DeletePropagationForeground
	zero := int64(0)
	return k.client.BatchV1().Jobs(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{
		GracePeriodSeconds: &zero,
		PropagationPolicy:  &foreground,
	})
}

func (k *clientsetClient) GetIngress(ctx context.Context, namespace string, name string) (*kubenet.Ingress, error) {
	return k.client.NetworkingV1().Ingresses(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *clientsetClient) CreateIngress(ctx context.Context, namespace string, ing *kubenet.Ingress) (*kubenet.Ingress, error) {
	return k.client.NetworkingV1().Ingresses(namespace).Create(ctx, ing, kubeapimeta.CreateOptions{})
}

func (k *clientsetClient) DeleteIngress(ctx context.Context, namespace string, name string) error {
	return k.client.NetworkingV1().Ingresses(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

// Identity names the cluster a resource lives in.
type Identity struct {
	// cluster name, as known to the control plane
	Name string

	// k8s namespace where platform workloads are placed
	Namespace string

	// in-cluster domain. default "cluster.local"
	Domain string
}

// Requirement checks whether a cluster object has reached the wanted state.
//
// Return nil when satisfied, retry.ErrRetry to keep polling,
// any other error to give up.
type Requirement[T any] func(value T) error

func satisfyAll[T any](value T, req []Requirement[T]) error {
	for _, r := range req {
		if err := r(value); err != nil {
			return err
		}
	}
	return nil
}

// Cluster is the control plane's view of one Kubernetes cluster.
//
// New* methods create an object and resolve their Promise once the object
// satisfies its Requirements (polling with the given backoff). Get* methods
// poll an existing object. Delete* methods are immediate.
//
// Promises may resolve with:
//
//   - kerr.ErrConflict: the object already exists (New* only).
//   - kerr.ErrMissing: the object is not there (Get*, Delete*).
//   - errors from Requirements or the context.
type Cluster interface {
	Identity() Identity
	Namespace() string

	// Client exposes the raw (non-polling) API calls,
	// for probes that must not wait.
	Client() Client

	NewSecret(context.Context, retry.Backoff, *kubecore.Secret, ...Requirement[*kubecore.Secret]) retry.Promise[*kubecore.Secret]
	GetSecret(context.Context, retry.Backoff, string, ...Requirement[*kubecore.Secret]) retry.Promise[*kubecore.Secret]
	DeleteSecret(context.Context, string) error

	NewDeployment(context.Context, retry.Backoff, *kubeapps.Deployment, ...Requirement[*kubeapps.Deployment]) retry.Promise[*kubeapps.Deployment]
	GetDeployment(context.Context, retry.Backoff, string, ...Requirement[*kubeapps.Deployment]) retry.Promise[*kubeapps.Deployment]
	DeleteDeployment(context.Context, string) error

	NewJob(context.Context, retry.Backoff, *kubebatch.Job, ...Requirement[*kubebatch.Job]) retry.Promise[*kubebatch.Job]
	GetJob(context.Context, retry.Backoff, string, ...Requirement[*kubebatch.Job]) retry.Promise[*kubebatch.Job]
	DeleteJob(context.Context, string) error

	NewIngress(context.Context, retry.Backoff, *kubenet.Ingress, ...Requirement[*kubenet.Ingress]) retry.Promise[*kubenet.Ingress]
	GetIngress(context.Context, retry.Backoff, string, ...Requirement[*kubenet.Ingress]) retry.Promise[*kubenet.Ingress]
	DeleteIngress(context.Context, string) error
}

type attachedCluster struct {
	client   Client
	identity Identity
}

var _ Cluster = &attachedCluster{}

// Attach binds a Client to a cluster identity.
//
// When identity.Domain is empty, "cluster.local" is used.
func Attach(client Client, identity Identity) Cluster {
	if identity.Domain == "" {
		identity.Domain = "cluster.local"
	}
	return &attachedCluster{client: client, identity: identity}
}

func (c *attachedCluster) Identity() Identity {
	return c.identity
}

func (c *attachedCluster) Namespace() string {
	return c.identity.Namespace
}

func (c *attachedCluster) Client() Client {
	return c.client
}

// SecretIsPopulated : the secret has at least one data entry.
var SecretIsPopulated Requirement[*kubecore.Secret] = func(value *kubecore.Secret) error {
	if len(value.Data) != 0 || len(value.StringData) != 0 {
		return nil
	}
	return retry.ErrRetry
}

// EnoughReplicas : all wanted replicas of the deployment are available.
var EnoughReplicas Requirement[*kubeapps.Deployment] = func(value *kubeapps.Deployment) error {
	replicas := int32(1)
	if value.Spec.Replicas != nil {
		replicas = *value.Spec.Replicas
	}
	if replicas <= value.Status.AvailableReplicas {
		return nil
	}
	return retry.ErrRetry
}

// JobHasStarted : at least one pod of the job has been scheduled.
var JobHasStarted Requirement[*kubebatch.Job] = func(value *kubebatch.Job) error {
	if 0 < value.Status.Active+value.Status.Succeeded+value.Status.Failed {
		return nil
	}
	return retry.ErrRetry
}

// IngressHasHost : the ingress has a routable host rule.
var IngressHasHost Requirement[*kubenet.Ingress] = func(value *kubenet.Ingress) error {
	for _, r := range value.Spec.Rules {
		if r.Host != "" {
			return nil
		}
	}
	return retry.ErrRetry
}

// IngressHost extracts the first host rule, or "".
func IngressHost(ing *kubenet.Ingress) string {
	for _, r := range ing.Spec.Rules {
		if r.Host != "" {
			return r.Host
		}
	}
	return ""
}

// JobStatus summarizes a k8s Job phase.
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobSucceeded JobStatus = "Succeeded"
	JobFailed    JobStatus = "Failed"
)

// StatusOfJob reads the snapshot phase of a job.
func StatusOfJob(j *kubebatch.Job) JobStatus {
	for _, sc := range j.Status.Conditions {
		if sc.Status != "True" {
			continue
		}
		switch sc.Type {
		case kubebatch.JobComplete:
			return JobSucceeded
		case kubebatch.JobFailed:
			return JobFailed
		}
	}
	if 0 < j.Status.Active {
		return JobRunning
	}
	return JobPending
}

func create[T any](
	ctx context.Context,
	backoff retry.Backoff,
	spec T,
	name string,
	requirements []Requirement[T],
	doCreate func(context.Context) (T, error),
	doGet func(context.Context) (T, error),
) retry.Promise[T] {
	select {
	case <-ctx.Done():
		return retry.Failed[T](ctx.Err())
	default:
	}

	created, err := doCreate(ctx)
	if err != nil {
		if kubeerr.IsAlreadyExists(err) {
			return retry.Failed[T](kerr.NewConflictCausedBy(name, err))
		}
		return retry.Failed[T](err)
	}

	if err := satisfyAll(created, requirements); err == nil {
		return retry.Ok(created)
	} else if !errors.Is(err, retry.ErrRetry) {
		return retry.Failed[T](err)
	}

	return get(ctx, backoff, name, requirements, doGet)
}

func get[T any](
	ctx context.Context,
	backoff retry.Backoff,
	name string,
	requirements []Requirement[T],
	doGet func(context.Context) (T, error),
) retry.Promise[T] {
	return retry.Go(ctx, backoff, func() (T, error) {
		got, err := doGet(ctx)
		if err != nil {
			if kubeerr.IsNotFound(err) {
				return got, kerr.NewMissingCausedBy(name, err)
			}
			return got, err
		}
		return got, satisfyAll(got, requirements)
	})
}

func (c *attachedCluster) NewSecret(
	ctx context.Context, backoff retry.Backoff, spec *kubecore.Secret,
	requirements ...Requirement[*kubecore.Secret],
) retry.Promise[*kubecore.Secret] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubecore.Secret]{SecretIsPopulated}
	}
	name := spec.ObjectMeta.Name
	return create(
		ctx, backoff, spec, name, requirements,
		func(ctx context.Context) (*kubecore.Secret, error) {
			return c.client.CreateSecret(ctx, c.Namespace(), spec)
		},
		func(ctx context.Context) (*kubecore.Secret, error) {
			return c.client.GetSecret(ctx, c.Namespace(), name)
		},
	)
}

func (c *attachedCluster) GetSecret(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubecore.Secret],
) retry.Promise[*kubecore.Secret] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubecore.Secret]{SecretIsPopulated}
	}
	return get(ctx, backoff, name, requirements, func(ctx context.Context) (*kubecore.Secret, error) {
		return c.client.GetSecret(ctx, c.Namespace(), name)
	})
}

func (c *attachedCluster) DeleteSecret(ctx context.Context, name string) error {
	return c.mapDeleteErr(name, c.client.DeleteSecret(ctx, c.Namespace(), name))
}

func (c *attachedCluster) NewDeployment(
	ctx context.Context, backoff retry.Backoff, spec *kubeapps.Deployment,
	requirements ...Requirement[*kubeapps.Deployment],
) retry.Promise[*kubeapps.Deployment] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubeapps.Deployment]{EnoughReplicas}
	}
	name := spec.ObjectMeta.Name
	return create(
		ctx, backoff, spec, name, requirements,
		func(ctx context.Context) (*kubeapps.Deployment, error) {
			return c.client.CreateDeployment(ctx, c.Namespace(), spec)
		},
		func(ctx context.Context) (*kubeapps.Deployment, error) {
			return c.client.GetDeployment(ctx, c.Namespace(), name)
		},
	)
}

func (c *attachedCluster) GetDeployment(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubeapps.Deployment],
) retry.Promise[*kubeapps.Deployment] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubeapps.Deployment]{EnoughReplicas}
	}
	return get(ctx, backoff, name, requirements, func(ctx context.Context) (*kubeapps.Deployment, error) {
		return c.client.GetDeployment(ctx, c.Namespace(), name)
	})
}

func (c *attachedCluster) DeleteDeployment(ctx context.Context, name string) error {
	return c.mapDeleteErr(name, c.client.DeleteDeployment(ctx, c.Namespace(), name))
}

func (c *attachedCluster) NewJob(
	ctx context.Context, backoff retry.Backoff, spec *kubebatch.Job,
	requirements ...Requirement[*kubebatch.Job],
) retry.Promise[*kubebatch.Job] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubebatch.Job]{JobHasStarted}
	}
	name := spec.ObjectMeta.Name
	return create(
		ctx, backoff, spec, name, requirements,
		func(ctx context.Context) (*kubebatch.Job, error) {
			return c.client.CreateJob(ctx, c.Namespace(), spec)
		},
		func(ctx context.Context) (*kubebatch.Job, error) {
			return c.client.GetJob(ctx, c.Namespace(), name)
		},
	)
}

func (c *attachedCluster) GetJob(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubebatch.Job],
) retry.Promise[*kubebatch.Job] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubebatch.Job]{JobHasStarted}
	}
	return get(ctx, backoff, name, requirements, func(ctx context.Context) (*kubebatch.Job, error) {
		return c.client.GetJob(ctx, c.Namespace(), name)
	})
}

func (c *attachedCluster) DeleteJob(ctx context.Context, name string) error {
	return c.mapDeleteErr(name, c.client.DeleteJob(ctx, c.Namespace(), name))
}

func (c *attachedCluster) NewIngress(
	ctx context.Context, backoff retry.Backoff, spec *kubenet.Ingress,
	requirements ...Requirement[*kubenet.Ingress],
) retry.Promise[*kubenet.Ingress] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubenet.Ingress]{IngressHasHost}
	}
	name := spec.ObjectMeta.Name
	return create(
		ctx, backoff, spec, name, requirements,
		func(ctx context.Context) (*kubenet.Ingress, error) {
			return c.client.CreateIngress(ctx, c.Namespace(), spec)
		},
		func(ctx context.Context) (*kubenet.Ingress, error) {
			return c.client.GetIngress(ctx, c.Namespace(), name)
		},
	)
}

func (c *attachedCluster) GetIngress(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubenet.Ingress],
) retry.Promise[*kubenet.Ingress] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubenet.Ingress]{IngressHasHost}
	}
	return get(ctx, backoff, name, requirements, func(ctx context.Context) (*kubenet.Ingress, error) {
		return c.client.GetIngress(ctx, c.Namespace(), name)
	})
}

func (c *attachedCluster) DeleteIngress(ctx context.Context, name string) error {
	return c.mapDeleteErr(name, c.client.DeleteIngress(ctx, c.Namespace(), name))
}

func (c *attachedCluster) mapDeleteErr(name string, err error) error {
	if err == nil {
		return nil
	}
	if kubeerr.IsNotFound(err) {
		return kerr.NewMissingCausedBy(name, err)
	}
	return err
}
