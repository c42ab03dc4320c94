package kubedebug

import (
	"github.com/solo-io/kubedebug/pkg/options"
	"github.com/spf13/pflag"
)

// flags that must be given, either on the command line or as KUBEDEBUG_* env
var requiredFlags = []string{"namespace", "pod", "container", "port", "dockerfile", "resource"}

func (o *Options) applyFlags(f *pflag.FlagSet) {
	applyTargetFlags(&o.Target, f)
	applyBuildFlags(&o.Build, f)
	applyPollingFlags(&o.Polling, f)
	applySessionFlags(o, f)
}

func applyTargetFlags(t *Target, f *pflag.FlagSet) {
	f.StringVarP(&t.Namespace, "namespace", "n", "", "namespace of the pod to debug")
	f.StringVar(&t.Pod, "pod", "", "name prefix (or glob) of the pod to debug")
	f.StringVar(&t.Container, "container", "", "container running the process to debug")
	f.StringVar(&t.Process, "process", "", "name of the process to debug (defaults to the container name)")
	f.IntVar(&t.Port, "port", 0, "port the debugger listens on inside the container")
	f.IntVar(&t.LocalPort, "local-port", 0, "local port forwarded to the debugger (defaults to --port)")
}

func applyBuildFlags(b *Build, f *pflag.FlagSet) {
	f.StringVar(&b.Dockerfile, "dockerfile", "", "Dockerfile to rebuild the image from; its directory is the build context")
	f.StringVar(&b.Kind, "kind", options.DefaultResourceKind, "kind of the workload owning the pod (deployment, statefulset, daemonset)")
	f.StringVar(&b.Resource, "resource", "", "name of the workload owning the pod")
	f.StringVar(&b.Image, "image", "", "repository to push rebuilt images to (defaults to the repository of the running image)")
}

func applyPollingFlags(p *Polling, f *pflag.FlagSet) {
	f.DurationVar(&p.Interval, "poll-interval", options.PollInterval, "interval between cluster state checks")
	f.IntVar(&p.Attempts, "poll-attempts", options.PollAttempts, "checks before giving up on a pod or on the relay")
	f.DurationVar(&p.WatchInterval, "watch-interval", options.WatchInterval, "interval between build context scans")
}

func applySessionFlags(o *Options, f *pflag.FlagSet) {
	f.BoolVar(&o.BypassEntrypointCheck, "bypass-entrypoint-check", false, "debug the process even if it is not the container entrypoint")
	f.BoolVar(&o.ForceCleanup, "force-cleanup", false, "also remove a debugger this run did not start")
	f.BoolVar(&o.NoWatch, "no-watch", false, "do not rebuild when the build context changes")
	f.StringVar(&o.KubeContext, "context", "", "kubeconfig context to use")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "log debug output")
}
