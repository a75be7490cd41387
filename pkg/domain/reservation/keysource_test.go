package reservation_test

import (
	"context"
	"testing"
	"time"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	clmock "github.com/anvilworks/anvil/pkg/domain/cluster/mock"
	"github.com/anvilworks/anvil/pkg/domain/reservation"
	"github.com/anvilworks/anvil/pkg/domain/task"
	"github.com/anvilworks/anvil/pkg/utils/try"
)

func fastParams() task.Params {
	return task.Params{
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  1 * time.Second,
	}
}

func TestClusterSignKey(t *testing.T) {
	t.Run("it provisions a signing key secret when none exists", func(t *testing.T) {
		cl, client := clmock.NewCluster()

		var persisted *kubecore.Secret
		client.Impl.GetSecret = func(_ context.Context, _, name string) (*kubecore.Secret, error) {
			if persisted == nil {
				return nil, kubeerr.NewNotFound(schema.GroupResource{Resource: "secrets"}, name)
			}
			return persisted, nil
		}
		client.Impl.CreateSecret = func(_ context.Context, _ string, s *kubecore.Secret) (*kubecore.Secret, error) {
			persisted = s
			return s, nil
		}

		key := try.To(reservation.ClusterSignKey(
			context.Background(), cl, fastParams(), "anvil-credential-signer",
		)).OrFatal(t)

		if len(key) == 0 {
			t.Fatal("empty signing key")
		}
		if client.Called.CreateSecret != 1 {
			t.Errorf("create called %d times, expected once", client.Called.CreateSecret)
		}
		if persisted.StringData["token-secret"] != string(key) {
			t.Error("returned key does not match the persisted secret")
		}
	})

	t.Run("it re-reads the persisted key instead of minting a fresh one", func(t *testing.T) {
		cl, client := clmock.NewCluster()

		existing := &kubecore.Secret{}
		existing.ObjectMeta.Name = "anvil-credential-signer"
		existing.Data = map[string][]byte{
			"token-id":     []byte("persisted-id"),
			"token-secret": []byte("persisted-key"),
		}
		client.Impl.GetSecret = func(context.Context, string, string) (*kubecore.Secret, error) {
			return existing, nil
		}

		key := try.To(reservation.ClusterSignKey(
			context.Background(), cl, fastParams(), "anvil-credential-signer",
		)).OrFatal(t)

		if string(key) != "persisted-key" {
			t.Errorf("key: %q, expected the persisted one", key)
		}
		if client.Called.CreateSecret != 0 {
			t.Errorf("create should not be called, but called %d times", client.Called.CreateSecret)
		}
	})
}
