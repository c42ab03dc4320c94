package kubernetes

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/jsonpath"
	"k8s.io/client-go/util/retry"

	"github.com/solo-io/kubedebug/pkg/kubectl"
	"github.com/solo-io/kubedebug/pkg/platforms"
)

// Gateway reaches the cluster through client-go for reads, deletes and
// workload edits, and through kubectl for exec, cp and port-forward.
type Gateway struct {
	clientset kubernetes.Interface
	kubectl   *kubectl.Kubectl
}

var _ platforms.ClusterGateway = &Gateway{}

func NewGateway(clientset kubernetes.Interface, k *kubectl.Kubectl) *Gateway {
	return &Gateway{clientset: clientset, kubectl: k}
}

func (g *Gateway) ListPods(ctx context.Context, namespace string) ([]string, error) {
	pods, err := g.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "listing pods in namespace %v", namespace)
	}
	var names []string
	for _, pod := range pods.Items {
		if !isLive(&pod) {
			continue
		}
		names = append(names, pod.ObjectMeta.Name)
	}
	return names, nil
}

func isLive(pod *v1.Pod) bool {
	if pod.ObjectMeta.DeletionTimestamp != nil {
		return false
	}
	return pod.Status.Phase != v1.PodSucceeded && pod.Status.Phase != v1.PodFailed
}

func (g *Gateway) GetPodField(ctx context.Context, namespace, pod, expr string) (string, bool, error) {
	p, err := g.clientset.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return "", false, errors.Wrapf(err, "fetching pod %v", pod)
	}
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(p)
	if err != nil {
		return "", false, err
	}
	return evalJSONPath(obj, expr)
}

func evalJSONPath(obj interface{}, expr string) (string, bool, error) {
	if !strings.HasPrefix(expr, "{") {
		expr = "{" + expr + "}"
	}
	j := jsonpath.New("field")
	j.AllowMissingKeys(true)
	if err := j.Parse(expr); err != nil {
		return "", false, errors.Wrapf(err, "parsing jsonpath %v", expr)
	}
	results, err := j.FindResults(obj)
	if err != nil {
		return "", false, errors.Wrapf(err, "evaluating jsonpath %v", expr)
	}
	found := false
	for _, r := range results {
		if len(r) > 0 {
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	var buf bytes.Buffer
	if err := j.Execute(&buf, obj); err != nil {
		return "", false, errors.Wrapf(err, "evaluating jsonpath %v", expr)
	}
	return buf.String(), true, nil
}

func (g *Gateway) Exec(ctx context.Context, namespace, pod, container string, command ...string) (platforms.ExecResult, error) {
	out, code, err := g.kubectl.Exec(ctx, namespace, pod, container, command...)
	return platforms.ExecResult{Stdout: out, ExitCode: code}, err
}

func (g *Gateway) ExecBackground(ctx context.Context, namespace, pod, container string, command ...string) (platforms.Task, error) {
	p, err := g.kubectl.Start(namespace, pod, container, command...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gateway) CopyToContainer(ctx context.Context, namespace, pod, container, localPath, remotePath string) error {
	return g.kubectl.Cp(ctx, namespace, pod, container, localPath, remotePath)
}

func (g *Gateway) DeletePod(ctx context.Context, namespace, pod string) error {
	err := g.clientset.CoreV1().Pods(namespace).Delete(ctx, pod, metav1.DeleteOptions{})
	return errors.Wrapf(err, "deleting pod %v", pod)
}

func (g *Gateway) PortForward(ctx context.Context, namespace, pod string, localPort, remotePort int) (platforms.Task, error) {
	p, err := g.kubectl.PortForward(namespace, pod, localPort, remotePort)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gateway) EditResource(ctx context.Context, ref platforms.ResourceRef, container string, transform func(string) string) (bool, error) {
	changed := false
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var err error
		changed, err = g.editOnce(ctx, ref, container, transform)
		return err
	})
	if err != nil {
		return false, errors.Wrapf(err, "editing %v", ref)
	}
	return changed, nil
}

func (g *Gateway) editOnce(ctx context.Context, ref platforms.ResourceRef, container string, transform func(string) string) (bool, error) {
	apps := g.clientset.AppsV1()
	switch NormalizeKind(ref.Kind) {
	case "deployment":
		obj, err := apps.Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		if changed, err := editImage(&obj.Spec.Template, container, transform); err != nil || !changed {
			return false, err
		}
		_, err = apps.Deployments(ref.Namespace).Update(ctx, obj, metav1.UpdateOptions{})
		return err == nil, err
	case "statefulset":
		obj, err := apps.StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		if changed, err := editImage(&obj.Spec.Template, container, transform); err != nil || !changed {
			return false, err
		}
		_, err = apps.StatefulSets(ref.Namespace).Update(ctx, obj, metav1.UpdateOptions{})
		return err == nil, err
	case "daemonset":
		obj, err := apps.DaemonSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		if changed, err := editImage(&obj.Spec.Template, container, transform); err != nil || !changed {
			return false, err
		}
		_, err = apps.DaemonSets(ref.Namespace).Update(ctx, obj, metav1.UpdateOptions{})
		return err == nil, err
	}
	return false, fmt.Errorf("unsupported resource kind %q", ref.Kind)
}

func editImage(tmpl *v1.PodTemplateSpec, container string, transform func(string) string) (bool, error) {
	for i := range tmpl.Spec.Containers {
		c := &tmpl.Spec.Containers[i]
		if c.Name != container {
			continue
		}
		image := transform(c.Image)
		if image == c.Image {
			log.WithFields(log.Fields{"container": container, "image": image}).Debug("image unchanged")
			return false, nil
		}
		c.Image = image
		return true, nil
	}
	return false, fmt.Errorf("container %v not found in pod template", container)
}

// NormalizeKind maps the spellings kubectl accepts to a canonical kind.
func NormalizeKind(kind string) string {
	k := strings.ToLower(kind)
	k = strings.TrimSuffix(k, ".apps")
	switch k {
	case "deploy", "deployment", "deployments":
		return "deployment"
	case "sts", "statefulset", "statefulsets":
		return "statefulset"
	case "ds", "daemonset", "daemonsets":
		return "daemonset"
	}
	return k
}
