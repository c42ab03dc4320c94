package kubedebug

import (
	"context"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/kubectl"
	"github.com/solo-io/kubedebug/pkg/options"
	"github.com/solo-io/kubedebug/pkg/platforms"
	"github.com/solo-io/kubedebug/pkg/platforms/kubernetes"
	"github.com/solo-io/kubedebug/pkg/poll"
	"github.com/solo-io/kubedebug/pkg/rebuild"
	"github.com/solo-io/kubedebug/pkg/session"
	"github.com/solo-io/kubedebug/pkg/utils/kubeutils"
)

// Run validates the options and debugs until the operator exits.
func (o *Options) Run(ctx context.Context) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.KubeClient == nil {
		cs, err := kubeutils.NewOutOfClusterKubeClientset("", o.KubeContext)
		if err != nil {
			return session.NewError(session.PreconditionError, "kubeconfig", err)
		}
		o.KubeClient = cs
	}
	if err := o.CheckEnvironment(ctx); err != nil {
		return err
	}

	gw := kubernetes.NewGateway(o.KubeClient, kubectl.NewKubectl(o.KubeContext))
	ctx, interrupts, stop := watchSignals(ctx)
	defer stop()

	driver, err := o.NewDriver(gw)
	if err != nil {
		return err
	}
	driver.Interrupts = interrupts
	driver.Decider = NewDecider(true)
	return driver.Run(ctx)
}

func (o *Options) NewSession() *session.Session {
	return session.NewSession(session.Session{
		Namespace:             o.Target.Namespace,
		PodPrefix:             o.Target.Pod,
		Container:             o.Target.Container,
		ProcessName:           o.Target.Process,
		TargetPort:            o.Target.Port,
		LocalPort:             o.Target.LocalPort,
		DebuggerLocalPath:     o.DebuggerPath,
		BypassEntrypointCheck: o.BypassEntrypointCheck,
		ForceCleanup:          o.ForceCleanup,
		Resource: platforms.ResourceRef{
			Kind:      kubernetes.NormalizeKind(o.Build.Kind),
			Namespace: o.Target.Namespace,
			Name:      o.Build.Resource,
		},
	})
}

// NewDriver wires a driver with rebuild support, and change detection unless
// disabled, against gw.
func (o *Options) NewDriver(gw platforms.ClusterGateway) (*session.Driver, error) {
	s := o.NewSession()
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debug(spew.Sdump(s))
	}

	pollPolicy := poll.NewPolicy(o.Polling.Attempts, o.Polling.Interval)
	driver := session.NewDriver(gw, s, session.Config{
		PollPolicy:   pollPolicy,
		AttachPolicy: poll.NewPolicy(options.AttachPollAttempts, o.Polling.Interval),
	})

	driver.Rebuilder = rebuild.NewOrchestrator(gw, rebuild.NewDocker(), driver.Cleaner, driver.Resolver, rebuild.Config{
		Dockerfile:  o.Build.Dockerfile,
		ContextDir:  filepath.Dir(o.Build.Dockerfile),
		Repository:  o.Build.Image,
		ReadyPolicy: poll.NewPolicy(options.PodReadyPollAttempts, o.Polling.Interval),
	})

	if !o.NoWatch {
		watcher, err := rebuild.NewWatcher(filepath.Dir(o.Build.Dockerfile), o.Polling.WatchInterval)
		if err != nil {
			return nil, session.NewError(session.PreconditionError, o.Build.Dockerfile, err)
		}
		driver.Watcher = watcher
	}
	return driver, nil
}
