package session

import (
	"context"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/platforms"
	"github.com/solo-io/kubedebug/pkg/poll"
)

// Resolver turns a pod name prefix into exactly one live pod name.
type Resolver struct {
	gw     platforms.ClusterGateway
	policy poll.Policy
}

func NewResolver(gw platforms.ClusterGateway, policy poll.Policy) *Resolver {
	return &Resolver{gw: gw, policy: policy}
}

// Resolve polls until exactly one live pod in namespace matches pattern. A
// pattern with glob characters is matched as a glob, otherwise as a prefix.
// Several matches are retried as well, a rollout briefly shows old and new
// pods side by side.
func (r *Resolver) Resolve(ctx context.Context, namespace, pattern string) (string, error) {
	var (
		pod     string
		matches []string
		lastErr error
	)
	res, err := r.policy.Until(ctx, func(ctx context.Context) (bool, error) {
		names, err := r.gw.ListPods(ctx, namespace)
		if err != nil {
			log.WithError(err).Debug("listing pods")
			lastErr = err
			return false, nil
		}
		lastErr = nil
		matches = MatchPods(names, pattern)
		if len(matches) == 1 {
			pod = matches[0]
			return true, nil
		}
		log.WithFields(log.Fields{"namespace": namespace, "pattern": pattern, "matches": matches}).Debug("waiting for a single matching pod")
		return false, nil
	})
	if res == poll.Ready {
		log.WithFields(log.Fields{"namespace": namespace, "pod": pod}).Info("resolved pod")
		return pod, nil
	}
	if err != nil {
		return "", NewError(ResolutionError, pattern, err)
	}
	switch {
	case len(matches) > 1:
		return "", Errorf(ResolutionError, pattern, "pattern matches %v pods in namespace %v: %v",
			len(matches), namespace, strings.Join(matches, ", "))
	case lastErr != nil:
		return "", Errorf(ResolutionError, pattern, "no pod found in namespace %v after %v: %v", namespace, r.policy.Budget(), lastErr)
	}
	return "", Errorf(ResolutionError, pattern, "no pod found in namespace %v after %v", namespace, r.policy.Budget())
}

// MatchPods filters names by pattern, see Resolve.
func MatchPods(names []string, pattern string) []string {
	glob := strings.ContainsAny(pattern, "*?[")
	var matches []string
	for _, name := range names {
		if glob {
			if ok, _ := path.Match(pattern, name); ok {
				matches = append(matches, name)
			}
			continue
		}
		if strings.HasPrefix(name, pattern) {
			matches = append(matches, name)
		}
	}
	return matches
}
