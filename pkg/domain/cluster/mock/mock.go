package mock

import (
	"context"
	"errors"

	"github.com/anvilworks/anvil/pkg/domain/cluster"
	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubenet "k8s.io/api/networking/v1"
)

// NewCluster returns a cluster.Cluster backed by a MockClient.
//
// Fake behaviours via client.Impl, spy usage via client.Called.
func NewCluster() (cluster.Cluster, *MockClient) {
	client := New()
	identity := cluster.Identity{
		Name:      "fake-cluster",
		Namespace: "fake-namespace",
		Domain:    "fake.local",
	}
	return cluster.Attach(client, identity), client
}

func New() *MockClient {
	return &MockClient{}
}

type MockClient struct {
	Impl struct {
		GetSecret    func(ctx context.Context, namespace string, name string) (*kubecore.Secret, error)
		CreateSecret func(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error)
		DeleteSecret func(ctx context.Context, namespace string, name string) error

		GetDeployment    func(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)
		CreateDeployment func(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
		DeleteDeployment func(ctx context.Context, namespace string, name string) error

		GetJob    func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
		CreateJob func(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
		DeleteJob func(ctx context.Context, namespace string, name string) error

		GetIngress    func(ctx context.Context, namespace string, name string) (*kubenet.Ingress, error)
		CreateIngress func(ctx context.Context, namespace string, ing *kubenet.Ingress) (*kubenet.Ingress, error)
		DeleteIngress func(ctx context.Context, namespace string, name string) error
	}
	Called struct {
		GetSecret    uint64
		CreateSecret uint64
		DeleteSecret uint64

		GetDeployment    uint64
		CreateDeployment uint64
		DeleteDeployment uint64

		GetJob    uint64
		CreateJob uint64
		DeleteJob uint64

		GetIngress    uint64
		CreateIngress uint64
		DeleteIngress uint64
	}
}

var _ cluster.Client = &MockClient{}

func (m *MockClient) GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error) {
	m.Called.GetSecret += 1
	if m.Impl.GetSecret == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetSecret(ctx, namespace, name)
}

func (m *MockClient) CreateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error) {
	m.Called.CreateSecret += 1
	if m.Impl.CreateSecret == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateSecret(ctx, namespace, secret)
}

func (m *MockClient) DeleteSecret(ctx context.Context, namespace string, name string) error {
	m.Called.DeleteSecret += 1
	if m.Impl.DeleteSecret == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.DeleteSecret(ctx, namespace, name)
}

func (m *MockClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	m.Called.GetDeployment += 1
	if m.Impl.GetDeployment == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetDeployment(ctx, namespace, name)
}

func (m *MockClient) CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	m.Called.CreateDeployment += 1
	if m.Impl.CreateDeployment == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateDeployment(ctx, namespace, depl)
}

func (m *MockClient) DeleteDeployment(ctx context.Context, namespace string, name string) error {
	m.Called.DeleteDeployment += 1
	if m.Impl.DeleteDeployment == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.DeleteDeployment(ctx, namespace, name)
}

func (m *MockClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	m.Called.GetJob += 1
	if m.Impl.GetJob == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetJob(ctx, namespace, name)
}

func (m *MockClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	m.Called.CreateJob += 1
	if m.Impl.CreateJob == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateJob(ctx, namespace, job)
}

func (m *MockClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	m.Called.DeleteJob += 1
	if m.Impl.DeleteJob == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.DeleteJob(ctx, namespace, name)
}

func (m *MockClient) GetIngress(ctx context.Context, namespace string, name string) (*kubenet.Ingress, error) {
	m.Called.GetIngress += 1
	if m.Impl.GetIngress == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetIngress(ctx, namespace, name)
}

func (m *MockClient) CreateIngress(ctx context.Context, namespace string, ing *kubenet.Ingress) (*kubenet.Ingress, error) {
	m.Called.CreateIngress += 1
	if m.Impl.CreateIngress == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateIngress(ctx, namespace, ing)
}

func (m *MockClient) DeleteIngress(ctx context.Context, namespace string, name string) error {
	m.Called.DeleteIngress += 1
	if m.Impl.DeleteIngress == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.DeleteIngress(ctx, namespace, name)
}
