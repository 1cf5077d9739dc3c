package cluster

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// RESTConfig loads the in-cluster configuration, falling back to kubeconfig.
// An empty kubeconfig uses the default loading rules (KUBECONFIG, ~/.kube/config).
func RESTConfig(kubeconfig string) (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			rules.ExplicitPath = kubeconfig
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("error building config: %w", err)
		}
	}

	configCopy := rest.CopyConfig(config)
	configCopy.Timeout = time.Minute * 10

	return configCopy, nil
}

// Connect builds a Gateway talking to the cluster described by config.
func Connect(config *rest.Config, namespace string, log logr.Logger) (*Gateway, error) {
	c, err := client.New(config, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("error creating Kubernetes client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return New(c, clientset, namespace, log, WithRESTConfig(config)), nil
}
