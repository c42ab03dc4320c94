package session

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/options"
	"github.com/solo-io/kubedebug/pkg/platforms"
	"github.com/solo-io/kubedebug/pkg/poll"
)

// Attacher starts a headless dlv attached to the target and confirms it runs.
type Attacher struct {
	gw      platforms.ClusterGateway
	locator *Locator
	policy  poll.Policy
}

func NewAttacher(gw platforms.ClusterGateway, locator *Locator, policy poll.Policy) *Attacher {
	return &Attacher{gw: gw, locator: locator, policy: policy}
}

// DebuggerCommand is the in-container command line for attaching to pid.
func DebuggerCommand(s *Session, pid int) []string {
	return []string{
		s.DebuggerRemotePath,
		"attach", strconv.Itoa(pid),
		"--accept-multiclient",
		fmt.Sprintf("--api-version=%v", options.DebuggerAPIVersion),
		"--headless",
		fmt.Sprintf("--listen=:%v", s.TargetPort),
	}
}

// Attach launches dlv against pid and records the handle on the session. A
// debugger that is already running is adopted instead of launching a second
// one; its handle is not owned by this session.
func (a *Attacher) Attach(ctx context.Context, s *Session, pid int) (*AttachHandle, error) {
	pod := s.Pod()
	logger := log.WithFields(log.Fields{"pod": pod, "container": s.Container})

	existing, err := a.locator.FindByName(ctx, s, s.DebuggerRemotePath)
	if err != nil {
		return nil, NewError(AttachError, pod, err)
	}
	if len(existing) > 0 {
		logger.WithField("pid", existing[0]).Warn("a debugger is already running in the container, reusing it")
		h := &AttachHandle{State: AlreadyAttached, RemotePID: existing[0]}
		s.handle = h
		return h, nil
	}

	h := &AttachHandle{State: Launching}
	cmd := DebuggerCommand(s, pid)
	logger.WithField("target", pid).Info("attaching debugger")
	task, err := a.gw.ExecBackground(ctx, s.Namespace, pod, s.Container, cmd...)
	if err != nil {
		h.State = Failed
		return h, NewError(AttachError, pod, err)
	}

	var pids []int
	res, err := a.policy.Until(ctx, func(ctx context.Context) (bool, error) {
		found, err := a.locator.FindByName(ctx, s, s.DebuggerRemotePath)
		if err != nil {
			log.WithError(err).Debug("listing processes")
			return false, nil
		}
		select {
		case <-task.Done():
			// kubectl exec may exit while dlv keeps running, so this is only a hint
			logger.WithError(task.Err()).Debug("attach supervisor exited")
		default:
		}
		pids = found
		return len(found) > 0, nil
	})
	if res != poll.Ready {
		h.State = Failed
		if stopErr := task.Stop(); stopErr != nil {
			logger.WithError(stopErr).Warn("stopping attach supervisor")
		}
		if err == nil {
			err = fmt.Errorf("debugger did not start within %v", a.policy.Budget())
		}
		return h, NewError(AttachError, pod, err)
	}

	h.State = Confirmed
	h.Supervisor = task
	h.RemotePID = pids[0]
	h.Owned = true
	s.handle = h
	logger.WithFields(log.Fields{"pid": h.RemotePID, "supervisor": task.ID()}).Info("debugger attached")
	return h, nil
}
