// Package session drives one injected-debugger session: it resolves the pod,
// uploads dlv, attaches it to the target process, relays the debugger port to
// the workstation and cleans up after itself on every exit path.
package session

import (
	"github.com/solo-io/kubedebug/pkg/options"
	"github.com/solo-io/kubedebug/pkg/platforms"
)

// Session is everything known about the debug target. The resolved pod and
// the state tied to it are only changed through SetPod and the controllers.
type Session struct {
	Namespace   string
	PodPrefix   string
	Container   string
	ProcessName string

	// TargetPort is where dlv listens inside the container, LocalPort is the
	// forwarded port on the workstation.
	TargetPort int
	LocalPort  int

	DebuggerLocalPath  string
	DebuggerRemotePath string

	BypassEntrypointCheck bool
	// ForceCleanup also removes a debugger this invocation did not start.
	ForceCleanup bool

	Resource platforms.ResourceRef

	pod    string
	binary binaryState
	handle *AttachHandle
}

type binaryState int

const (
	binaryAbsent binaryState = iota
	// an upload was started, a partial file may exist
	binaryUploading
	binaryPresent
)

// NewSession fills in the defaults for the optional fields.
func NewSession(s Session) *Session {
	if s.ProcessName == "" {
		s.ProcessName = s.Container
	}
	if s.LocalPort == 0 {
		s.LocalPort = s.TargetPort
	}
	if s.DebuggerRemotePath == "" {
		s.DebuggerRemotePath = options.DebuggerRemotePath
	}
	if s.Resource.Namespace == "" {
		s.Resource.Namespace = s.Namespace
	}
	if s.Resource.Kind == "" {
		s.Resource.Kind = options.DefaultResourceKind
	}
	return &s
}

// Pod is the currently resolved pod name, empty until the first resolution.
func (s *Session) Pod() string {
	return s.pod
}

// SetPod makes name the current pod. State that belonged to a previous pod is
// forgotten, so callers must clean up before switching pods.
func (s *Session) SetPod(name string) {
	if name != s.pod {
		s.binary = binaryAbsent
		s.handle = nil
	}
	s.pod = name
}

// Handle is the attach handle for the current pod, nil when not attached.
func (s *Session) Handle() *AttachHandle {
	return s.handle
}

func (s *Session) Attached() bool {
	return s.handle != nil
}

// Provisioned reports whether dlv is known to be present in the current pod.
func (s *Session) Provisioned() bool {
	return s.binary == binaryPresent
}

type AttachState int

const (
	NotStarted AttachState = iota
	Launching
	Confirmed
	Failed
	// dlv was already running before this invocation tried to start it
	AlreadyAttached
)

func (a AttachState) String() string {
	switch a {
	case NotStarted:
		return "NotStarted"
	case Launching:
		return "Launching"
	case Confirmed:
		return "Confirmed"
	case Failed:
		return "Failed"
	case AlreadyAttached:
		return "AlreadyAttached"
	}
	return "Unknown"
}

// AttachHandle pairs the local process supervising the remote attach with the
// pid of dlv inside the container. Either may be missing.
type AttachHandle struct {
	State AttachState
	// Supervisor is the local kubectl exec that launched dlv; nil when this
	// invocation did not launch it.
	Supervisor platforms.Task
	// RemotePID is dlv's pid inside the container, 0 when unknown.
	RemotePID int
	// Owned is false when dlv was found running instead of started by us.
	Owned bool

	supervisorStopped bool
	remoteKilled      bool
}

// SupervisorPID is the local pid of the supervisor, 0 when there is none.
func (h *AttachHandle) SupervisorPID() int {
	if h == nil || h.Supervisor == nil {
		return 0
	}
	return h.Supervisor.ID()
}
