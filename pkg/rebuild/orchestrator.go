// Package rebuild replaces the debugged pod with one running freshly built
// code, and watches the build context to decide when to do so.
package rebuild

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/solo-io/kubedebug/pkg/platforms"
	"github.com/solo-io/kubedebug/pkg/poll"
	"github.com/solo-io/kubedebug/pkg/session"
)

type Config struct {
	Dockerfile string
	ContextDir string
	// Repository to push to; empty means the repository of the image the
	// container currently runs.
	Repository string
	// ReadyPolicy bounds the wait for the replacement pod.
	ReadyPolicy poll.Policy
}

// Orchestrator implements session.Rebuilder: build, push, release the
// session, point the workload at the new image, replace the pod and resolve
// the replacement.
type Orchestrator struct {
	gw       platforms.ClusterGateway
	builder  ImageBuilder
	cleaner  *session.Cleaner
	resolver *session.Resolver
	cfg      Config
}

var _ session.Rebuilder = &Orchestrator{}

func NewOrchestrator(gw platforms.ClusterGateway, builder ImageBuilder, cleaner *session.Cleaner, resolver *session.Resolver, cfg Config) *Orchestrator {
	return &Orchestrator{gw: gw, builder: builder, cleaner: cleaner, resolver: resolver, cfg: cfg}
}

func (o *Orchestrator) Rebuild(ctx context.Context, s *session.Session) error {
	repo, err := o.repository(ctx, s)
	if err != nil {
		return session.NewError(session.RebuildError, s.Container, err)
	}
	ref := NewImageRef(repo)
	logger := log.WithField("image", ref.String())

	logger.Info("building image")
	if err := o.builder.Build(ctx, o.cfg.Dockerfile, o.cfg.ContextDir, ref); err != nil {
		return session.NewError(session.RebuildError, ref.String(), err)
	}
	logger.Info("pushing image")
	if err := o.builder.Push(ctx, ref); err != nil {
		return session.NewError(session.RebuildError, ref.String(), err)
	}

	// the new image is published; from here on the old session goes away
	if err := o.cleaner.Cleanup(ctx, s); err != nil {
		logger.WithError(err).Warn("releasing the current session")
	}

	changed, err := o.gw.EditResource(ctx, s.Resource, s.Container, func(string) string {
		return ref.String()
	})
	if err != nil {
		return session.NewError(session.RebuildError, s.Resource.String(), err)
	}
	if !changed {
		logger.WithField("resource", s.Resource.String()).Info("image reference unchanged")
	}

	stale := s.Pod()
	if err := o.gw.DeletePod(ctx, s.Namespace, stale); err != nil && !apierrors.IsNotFound(errors.Cause(err)) {
		return session.NewError(session.RebuildError, stale, err)
	}
	logger.WithField("pod", stale).Info("deleted stale pod, waiting for its replacement")

	replacement, err := o.waitForReplacement(ctx, s, stale)
	if err != nil {
		return session.NewError(session.RebuildError, s.PodPrefix, err)
	}
	pod, err := o.resolver.Resolve(ctx, s.Namespace, s.PodPrefix)
	if err != nil {
		return session.NewError(session.RebuildError, s.PodPrefix, err)
	}
	if pod != replacement {
		return session.Errorf(session.RebuildError, s.PodPrefix, "resolved pod %v is not the ready replacement %v", pod, replacement)
	}
	s.SetPod(pod)
	logger.WithField("pod", pod).Info("replacement pod ready")
	return nil
}

func (o *Orchestrator) repository(ctx context.Context, s *session.Session) (string, error) {
	if o.cfg.Repository != "" {
		return Repository(o.cfg.Repository)
	}
	expr := fmt.Sprintf(`{.spec.containers[?(@.name=="%s")].image}`, s.Container)
	image, found, err := o.gw.GetPodField(ctx, s.Namespace, s.Pod(), expr)
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.Errorf("no image for container %v in pod %v", s.Container, s.Pod())
	}
	return Repository(image)
}

const readyExpr = `{.status.conditions[?(@.type=="Ready")].status}`

// waitForReplacement polls until a pod other than stale matches the session
// prefix and reports Ready, and returns its name.
func (o *Orchestrator) waitForReplacement(ctx context.Context, s *session.Session, stale string) (string, error) {
	var replacement string
	res, err := o.cfg.ReadyPolicy.Until(ctx, func(ctx context.Context) (bool, error) {
		names, err := o.gw.ListPods(ctx, s.Namespace)
		if err != nil {
			log.WithError(err).Debug("listing pods")
			return false, nil
		}
		for _, name := range session.MatchPods(names, s.PodPrefix) {
			if name == stale {
				continue
			}
			ready, _, err := o.gw.GetPodField(ctx, s.Namespace, name, readyExpr)
			if err != nil {
				log.WithError(err).Debug("reading pod readiness")
				continue
			}
			if ready == "True" {
				replacement = name
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	if res != poll.Ready {
		return "", errors.Errorf("no ready replacement for pod %v after %v", stale, o.cfg.ReadyPolicy.Budget())
	}
	return replacement, nil
}
