package kubedebug

import (
	"time"

	"k8s.io/client-go/kubernetes"
)

// Options is populated from flags, then from KUBEDEBUG_* environment
// variables for any flag left unset, then from defaults.
type Options struct {
	KubeClient kubernetes.Interface

	Target  Target
	Build   Build
	Polling Polling

	BypassEntrypointCheck bool
	ForceCleanup          bool
	NoWatch               bool
	Verbose               bool

	// KubeContext selects the kubeconfig context for both client-go and kubectl
	KubeContext string

	// DebuggerPath is the local dlv binary, see DebuggerPath()
	DebuggerPath string
}

type Target struct {
	Namespace string
	// Pod is a name prefix or glob
	Pod       string
	Container string
	// Process defaults to the container name
	Process   string
	Port      int
	LocalPort int
}

type Build struct {
	Dockerfile string
	// Kind and Resource name the workload that owns the pod
	Kind     string
	Resource string
	// Image overrides the repository new images are pushed to
	Image string
}

type Polling struct {
	Interval      time.Duration
	Attempts      int
	WatchInterval time.Duration
}
