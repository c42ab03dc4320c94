package kubernetes_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/solo-io/kubedebug/pkg/kubectl"
	"github.com/solo-io/kubedebug/pkg/platforms"
	kube "github.com/solo-io/kubedebug/pkg/platforms/kubernetes"
)

func pod(name string, phase v1.PodPhase) *v1.Pod {
	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ns"},
		Spec: v1.PodSpec{Containers: []v1.Container{{
			Name:    "app",
			Image:   "registry.local/app:v1",
			Command: []string{"/usr/local/bin/app"},
		}}},
		Status: v1.PodStatus{
			Phase:      phase,
			Conditions: []v1.PodCondition{{Type: v1.PodReady, Status: v1.ConditionTrue}},
		},
	}
}

func deployment(image string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "app", Namespace: "ns"},
		Spec: appsv1.DeploymentSpec{Template: v1.PodTemplateSpec{Spec: v1.PodSpec{
			Containers: []v1.Container{{Name: "app", Image: image}},
		}}},
	}
}

var _ = Describe("Gateway", func() {
	var (
		ctx context.Context
		cs  *fake.Clientset
		gw  *kube.Gateway
	)

	BeforeEach(func() {
		ctx = context.Background()
		terminating := pod("app-old", v1.PodRunning)
		now := metav1.Now()
		terminating.ObjectMeta.DeletionTimestamp = &now
		cs = fake.NewSimpleClientset(
			pod("app-7f9c", v1.PodRunning),
			pod("app-done", v1.PodSucceeded),
			terminating,
			deployment("registry.local/app:v1"),
		)
		gw = kube.NewGateway(cs, kubectl.NewKubectl(""))
	})

	It("should list only live pods", func() {
		names, err := gw.ListPods(ctx, "ns")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(ConsistOf("app-7f9c"))
	})

	Context("pod fields", func() {
		It("should read a simple field", func() {
			phase, found, err := gw.GetPodField(ctx, "ns", "app-7f9c", "{.status.phase}")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(phase).To(Equal("Running"))
		})

		It("should accept expressions without braces", func() {
			ready, found, err := gw.GetPodField(ctx, "ns", "app-7f9c", `.status.conditions[?(@.type=="Ready")].status`)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(ready).To(Equal("True"))
		})

		It("should filter containers by name", func() {
			cmd, found, err := gw.GetPodField(ctx, "ns", "app-7f9c", `{.spec.containers[?(@.name=="app")].command[0]}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(cmd).To(Equal("/usr/local/bin/app"))
		})

		It("should report absent fields", func() {
			_, found, err := gw.GetPodField(ctx, "ns", "app-7f9c", `{.spec.containers[?(@.name=="nope")].image}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("should fail for a missing pod", func() {
			_, _, err := gw.GetPodField(ctx, "ns", "missing", "{.status.phase}")
			Expect(err).To(HaveOccurred())
		})
	})

	It("should delete pods", func() {
		Expect(gw.DeletePod(ctx, "ns", "app-7f9c")).To(Succeed())
		names, err := gw.ListPods(ctx, "ns")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(BeEmpty())
	})

	Context("editing the owning resource", func() {
		ref := platforms.ResourceRef{Kind: "deploy", Namespace: "ns", Name: "app"}

		It("should rewrite the container image", func() {
			changed, err := gw.EditResource(ctx, ref, "app", func(string) string { return "registry.local/app:v2" })
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			dep, err := cs.AppsV1().Deployments("ns").Get(ctx, "app", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(dep.Spec.Template.Spec.Containers[0].Image).To(Equal("registry.local/app:v2"))
		})

		It("should treat an unchanged image as a no-op", func() {
			cs.ClearActions()
			changed, err := gw.EditResource(ctx, ref, "app", func(image string) string { return image })
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			for _, action := range cs.Actions() {
				Expect(action.GetVerb()).NotTo(Equal("update"))
			}
		})

		It("should fail for an unknown container", func() {
			_, err := gw.EditResource(ctx, ref, "sidecar", func(string) string { return "x" })
			Expect(err).To(HaveOccurred())
		})

		It("should reject unsupported kinds", func() {
			_, err := gw.EditResource(ctx, platforms.ResourceRef{Kind: "cronjob", Namespace: "ns", Name: "app"}, "app", func(string) string { return "x" })
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported"))
		})
	})

	It("should normalize kinds", func() {
		Expect(kube.NormalizeKind("Deployment")).To(Equal("deployment"))
		Expect(kube.NormalizeKind("deployments.apps")).To(Equal("deployment"))
		Expect(kube.NormalizeKind("sts")).To(Equal("statefulset"))
		Expect(kube.NormalizeKind("DaemonSet")).To(Equal("daemonset"))
	})
})
