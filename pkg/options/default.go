package options

import "time"

var (
	// The name of the debugger binary, both locally and inside the target container
	DebuggerBinaryName = "dlv"

	// Where the debugger is uploaded inside the target container.
	// Only one session may occupy this path at a time.
	DebuggerRemotePath = "/tmp/" + DebuggerBinaryName

	// The delve API version passed to the headless server and used by the relay probe
	DebuggerAPIVersion = 2

	// Owning resource kind used when --kind is not given
	DefaultResourceKind = "deployment"

	// Environment variables are read with this prefix, e.g. KUBEDEBUG_DLV_PATH
	EnvPrefix = "KUBEDEBUG"

	// viper key holding the local path of the debugger binary
	DebuggerPathKey = "dlv-path"

	// Tags produced by a rebuild look like <repo>:<ImageTagPrefix><id>
	ImageTagPrefix = "kubedebug-"

	// External CLIs that must be on the PATH before anything touches the cluster
	RequiredBinaries = []string{"kubectl", "docker"}
)

// Poll budgets. Every wait in the tool is bounded by one of these.
var (
	PollInterval = time.Second
	PollAttempts = 30

	// attach confirmation is faster to fail, dlv either shows up quickly or not at all
	AttachPollAttempts = 10

	// a replacement pod has to pull the freshly pushed image
	PodReadyPollAttempts = 180

	WatchInterval = 2 * time.Second
)
