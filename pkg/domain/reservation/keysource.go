package reservation

import (
	"context"

	"github.com/anvilworks/anvil/pkg/domain/cluster"
	"github.com/anvilworks/anvil/pkg/domain/task"
)

// ClusterSignKey resolves the credential signing key from a cluster
// secret, provisioning one when it does not exist yet. Restarts of the
// control plane re-read the persisted key, so issued credentials stay
// verifiable across them.
func ClusterSignKey(ctx context.Context, c cluster.Cluster, params task.Params, name string) ([]byte, error) {
	result := task.CreateSecret{
		Cluster: c,
		Params:  params,
		Name:    name,
		Labels:  map[string]string{"anvil/component": "credential-signer"},
	}.Execute(ctx)
	if !result.Success {
		return nil, result.Err
	}
	return []byte(result.Value.TokenSecret), nil
}
