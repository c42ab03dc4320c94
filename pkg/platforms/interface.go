package platforms

import "context"

/// Capabilities the debug session needs from the cluster. Every call may fail
/// or time out; nothing here is retried by the implementation.
type ClusterGateway interface {
	// ListPods returns the names of the live pods in the namespace. Pods that
	// are being deleted or have terminated are not returned.
	ListPods(ctx context.Context, namespace string) ([]string, error)

	// GetPodField evaluates a jsonpath expression (kubectl syntax, e.g.
	// `{.status.phase}`) against the pod. found is false when the path selects
	// nothing.
	GetPodField(ctx context.Context, namespace, pod, jsonpath string) (value string, found bool, err error)

	// Exec runs a command in the container and waits for it. A non-zero exit
	// status is reported in the result, not as an error.
	Exec(ctx context.Context, namespace, pod, container string, command ...string) (ExecResult, error)

	// ExecBackground starts a command in the container without waiting for it.
	// The returned task is the local process supervising the remote command.
	ExecBackground(ctx context.Context, namespace, pod, container string, command ...string) (Task, error)

	CopyToContainer(ctx context.Context, namespace, pod, container, localPath, remotePath string) error

	DeletePod(ctx context.Context, namespace, pod string) error

	// PortForward starts forwarding localPort to remotePort on the pod. The
	// forward lasts until the task is stopped or fails.
	PortForward(ctx context.Context, namespace, pod string, localPort, remotePort int) (Task, error)

	// EditResource rewrites the image of one container of the owning workload.
	// changed is false when transform returned the image unchanged, in which
	// case nothing is written.
	EditResource(ctx context.Context, ref ResourceRef, container string, transform func(image string) string) (changed bool, err error)
}

type ExecResult struct {
	Stdout   string
	ExitCode int
}

func (r ExecResult) Succeeded() bool {
	return r.ExitCode == 0
}

/// A background operation started on behalf of the session (the attach
/// supervisor or the port-forward). It can be asked to stop at any time.
type Task interface {
	// ID identifies the task for logging and cleanup; for process backed
	// tasks it is the local pid.
	ID() int
	// Done is closed once the task has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done is closed.
	Err() error
	// Stop terminates the task unconditionally. Stopping a finished task is a no-op.
	Stop() error
}

/// Reference to the workload that owns the debugged pod.
type ResourceRef struct {
	Kind, Namespace, Name string
}

func (r ResourceRef) String() string {
	return r.Kind + "/" + r.Name + " (namespace " + r.Namespace + ")"
}
