package kubeutil

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Connect builds a clientset from the first kubeconfig found, trying in
// order: the given candidate paths, $KUBECONFIG, then ~/.kube/config.
// With no kubeconfig at all it assumes the process runs inside the
// cluster and uses the service account.
func Connect(candidates ...string) (*kubernetes.Clientset, error) {
	config, err := restConfig(candidates)
	if err != nil {
		return nil, fmt.Errorf("no usable kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(config)
}

func restConfig(candidates []string) (*rest.Config, error) {
	if env := os.Getenv("KUBECONFIG"); env != "" {
		candidates = append(candidates, env)
	}
	if home := homedir.HomeDir(); home != "" {
		candidates = append(candidates, filepath.Join(home, ".kube", "config"))
	}

	for _, path := range candidates {
		if s, err := os.Stat(path); err != nil || s.IsDir() {
			continue
		}
		return clientcmd.BuildConfigFromFlags("", path)
	}
	return rest.InClusterConfig()
}
