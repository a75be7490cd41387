package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubenet "k8s.io/api/networking/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"

	"github.com/anvilworks/anvil/pkg/domain/cluster"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/utils/retry"
)

// Credential is the value of a bootstrap-secret creation task.
//
// Both parts come from a cryptographically secure source. The secret
// object is persisted before any token string derived from these parts
// is handed out, so the two can never disagree.
type Credential struct {
	TokenID     string
	TokenSecret string
}

const (
	credentialIDKey     = "token-id"
	credentialSecretKey = "token-secret"
)

// CreateSecret provisions a bootstrap-credential secret.
type CreateSecret struct {
	Cluster cluster.Cluster
	Params  Params

	// object name of the secret
	Name string

	// labels stamped on the secret
	Labels map[string]string
}

var _ Task[Credential] = CreateSecret{}

func (t CreateSecret) Execute(ctx context.Context) Result[Credential] {
	c := t.Cluster
	return run(ctx, c, t.Params, steps[Credential]{
		precheck: func(ctx context.Context) (Credential, bool, error) {
			existing, err := c.Client().GetSecret(ctx, c.Namespace(), t.Name)
			if err != nil {
				if kubeerr.IsNotFound(err) {
					return Credential{}, false, nil
				}
				return Credential{}, false, err
			}
			// re-read the persisted parts; never mint fresh ones
			return Credential{
				TokenID:     string(existing.Data[credentialIDKey]),
				TokenSecret: string(existing.Data[credentialSecretKey]),
			}, true, nil
		},
		apply: func(ctx context.Context) (Credential, CreationStatus, error) {
			id, err := randomHex(16)
			if err != nil {
				return Credential{}, Failed, err
			}
			secret, err := randomHex(32)
			if err != nil {
				return Credential{}, Failed, err
			}

			spec := &kubecore.Secret{}
			spec.ObjectMeta.Name = t.Name
			spec.ObjectMeta.Labels = t.Labels
			spec.Type = kubecore.SecretTypeOpaque
			spec.StringData = map[string]string{
				credentialIDKey:     id,
				credentialSecretKey: secret,
			}

			created, err := resolve(ctx, c.NewSecret(ctx, backoff(t.Params), spec))
			if err != nil {
				if kerr.AsConflict(err) {
					got, err := resolve(ctx, c.GetSecret(ctx, backoff(t.Params), t.Name))
					if err != nil {
						return Credential{}, Failed, err
					}
					return Credential{
						TokenID:     string(got.Data[credentialIDKey]),
						TokenSecret: string(got.Data[credentialSecretKey]),
					}, AlreadyExists, nil
				}
				return Credential{}, Failed, err
			}
			return Credential{
				TokenID:     created.StringData[credentialIDKey],
				TokenSecret: created.StringData[credentialSecretKey],
			}, Created, nil
		},
	})
}

func randomHex(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreateDeployment provisions a deployment and waits for its replicas.
// The value is empty; the routable handle comes from CreateIngress.
type CreateDeployment struct {
	Cluster cluster.Cluster
	Params  Params
	Spec    *kubeapps.Deployment
}

var _ Task[string] = CreateDeployment{}

func (t CreateDeployment) Execute(ctx context.Context) Result[string] {
	c := t.Cluster
	name := t.Spec.ObjectMeta.Name
	return run(ctx, c, t.Params, steps[string]{
		precheck: existsProbe(func(ctx context.Context) error {
			_, err := c.Client().GetDeployment(ctx, c.Namespace(), name)
			return err
		}),
		apply: func(ctx context.Context) (string, CreationStatus, error) {
			_, status, err := adopt(
				ctx,
				func() retry.Promise[*kubeapps.Deployment] {
					return c.NewDeployment(ctx, backoff(t.Params), t.Spec)
				},
				func() retry.Promise[*kubeapps.Deployment] {
					return c.GetDeployment(ctx, backoff(t.Params), name)
				},
			)
			return "", status, err
		},
	})
}

// CreateIngress provisions an ingress; the value is the assigned host.
type CreateIngress struct {
	Cluster cluster.Cluster
	Params  Params
	Spec    *kubenet.Ingress
}

var _ Task[string] = CreateIngress{}

func (t CreateIngress) Execute(ctx context.Context) Result[string] {
	c := t.Cluster
	name := t.Spec.ObjectMeta.Name
	return run(ctx, c, t.Params, steps[string]{
		precheck: func(ctx context.Context) (string, bool, error) {
			existing, err := c.Client().GetIngress(ctx, c.Namespace(), name)
			if err != nil {
				if kubeerr.IsNotFound(err) {
					return "", false, nil
				}
				return "", false, err
			}
			return cluster.IngressHost(existing), true, nil
		},
		apply: func(ctx context.Context) (string, CreationStatus, error) {
			ing, status, err := adopt(
				ctx,
				func() retry.Promise[*kubenet.Ingress] {
					return c.NewIngress(ctx, backoff(t.Params), t.Spec)
				},
				func() retry.Promise[*kubenet.Ingress] {
					return c.GetIngress(ctx, backoff(t.Params), name)
				},
			)
			if err != nil {
				return "", status, err
			}
			return cluster.IngressHost(ing), status, nil
		},
	})
}

// CreateJob submits a batch job; the value is the submission id (job UID).
type CreateJob struct {
	Cluster cluster.Cluster
	Params  Params
	Spec    *kubebatch.Job
}

var _ Task[string] = CreateJob{}

func (t CreateJob) Execute(ctx context.Context) Result[string] {
	c := t.Cluster
	name := t.Spec.ObjectMeta.Name
	return run(ctx, c, t.Params, steps[string]{
		precheck: func(ctx context.Context) (string, bool, error) {
			existing, err := c.Client().GetJob(ctx, c.Namespace(), name)
			if err != nil {
				if kubeerr.IsNotFound(err) {
					return "", false, nil
				}
				return "", false, err
			}
			return string(existing.ObjectMeta.UID), true, nil
		},
		apply: func(ctx context.Context) (string, CreationStatus, error) {
			job, status, err := adopt(
				ctx,
				func() retry.Promise[*kubebatch.Job] {
					return c.NewJob(ctx, backoff(t.Params), t.Spec)
				},
				func() retry.Promise[*kubebatch.Job] {
					return c.GetJob(ctx, backoff(t.Params), name)
				},
			)
			if err != nil {
				return "", status, err
			}
			return string(job.ObjectMeta.UID), status, nil
		},
	})
}

// Delete removes one cluster object and waits for it to be gone.
// Deleting an already-absent object is Skipped, not an error.
type Delete struct {
	Cluster cluster.Cluster
	Params  Params

	// object kind to delete
	Kind ObjectKind

	// object name
	Name string
}

type ObjectKind string

const (
	SecretObject     ObjectKind = "secret"
	DeploymentObject ObjectKind = "deployment"
	JobObject        ObjectKind = "job"
	IngressObject    ObjectKind = "ingress"
)

var _ Task[string] = Delete{}

func (t Delete) Execute(ctx context.Context) Result[string] {
	c := t.Cluster
	probe := t.probe()
	return run(ctx, c, t.Params, steps[string]{
		precheck: func(ctx context.Context) (string, bool, error) {
			err := probe(ctx)
			if err == nil {
				return "", false, nil
			}
			if kubeerr.IsNotFound(err) {
				// already absent: end state holds
				return "", true, nil
			}
			return "", false, err
		},
		apply: func(ctx context.Context) (string, CreationStatus, error) {
			if err := t.doDelete(ctx); err != nil && !kerr.AsMissing(err) {
				return "", Failed, err
			}
			// wait until the object is actually gone
			_, err := retry.Blocking(ctx, backoff(t.Params), func() (string, error) {
				err := probe(ctx)
				if err == nil {
					return "", retry.ErrRetry
				}
				if kubeerr.IsNotFound(err) {
					return "", nil
				}
				return "", err
			})
			return "", Created, err
		},
	})
}

func (t Delete) probe() func(context.Context) error {
	c := t.Cluster
	switch t.Kind {
	case SecretObject:
		return func(ctx context.Context) error {
			_, err := c.Client().GetSecret(ctx, c.Namespace(), t.Name)
			return err
		}
	case DeploymentObject:
		return func(ctx context.Context) error {
			_, err := c.Client().GetDeployment(ctx, c.Namespace(), t.Name)
			return err
		}
	case JobObject:
		return func(ctx context.Context) error {
			_, err := c.Client().GetJob(ctx, c.Namespace(), t.Name)
			return err
		}
	case IngressObject:
		return func(ctx context.Context) error {
			_, err := c.Client().GetIngress(ctx, c.Namespace(), t.Name)
			return err
		}
	}
	return func(context.Context) error {
		return kerr.NewMissing("unknown object kind: " + string(t.Kind))
	}
}

func (t Delete) doDelete(ctx context.Context) error {
	c := t.Cluster
	switch t.Kind {
	case SecretObject:
		return c.DeleteSecret(ctx, t.Name)
	case DeploymentObject:
		return c.DeleteDeployment(ctx, t.Name)
	case JobObject:
		return c.DeleteJob(ctx, t.Name)
	case IngressObject:
		return c.DeleteIngress(ctx, t.Name)
	}
	return kerr.NewMissing("unknown object kind: " + string(t.Kind))
}

// existsProbe builds a precheck for create tasks whose Skipped value is empty.
func existsProbe(probe func(context.Context) error) func(context.Context) (string, bool, error) {
	return func(ctx context.Context) (string, bool, error) {
		err := probe(ctx)
		if err == nil {
			return "", true, nil
		}
		if kubeerr.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
}

// adopt resolves a create promise, falling back to polling the existing
// object when the create lost a race.
func adopt[T any](
	ctx context.Context,
	create func() retry.Promise[T],
	get func() retry.Promise[T],
) (T, CreationStatus, error) {
	created, err := resolve(ctx, create())
	if err == nil {
		return created, Created, nil
	}
	if !kerr.AsConflict(err) {
		return created, Failed, err
	}
	got, err := resolve(ctx, get())
	if err != nil {
		return got, Failed, err
	}
	return got, AlreadyExists, nil
}
