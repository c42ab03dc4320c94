package kubeutils

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// GetConfig loads the rest config the same way kubectl does: $KUBECONFIG,
// then ~/.kube/config, then in-cluster. An empty kubeContext means the
// current context.
func GetConfig(kubeconfig, kubeContext string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func NewOutOfClusterKubeClientset(kubeconfig, kubeContext string) (kubernetes.Interface, error) {
	config, err := GetConfig(kubeconfig, kubeContext)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(config)
}

func GetNamespaces(ctx context.Context, clientset kubernetes.Interface) ([]string, error) {
	namespaces := []string{}
	nss, err := clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return namespaces, err
	}
	for _, ns := range nss.Items {
		namespaces = append(namespaces, ns.ObjectMeta.Name)
	}
	return namespaces, nil
}

// EnsureNamespace returns an error if the namespace does not exist.
func EnsureNamespace(ctx context.Context, clientset kubernetes.Interface, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("no namespace specified")
	}
	_, err := clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("namespace %v not found", namespace)
	}
	return err
}
