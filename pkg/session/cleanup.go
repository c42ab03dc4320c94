package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/platforms"
)

// Cleaner tears down whatever the session left in the cluster and on the
// workstation. Every step is attempted on its own; failures are warnings.
type Cleaner struct {
	gw platforms.ClusterGateway
}

func NewCleaner(gw platforms.ClusterGateway) *Cleaner {
	return &Cleaner{gw: gw}
}

// Cleanup removes the uploaded binary, stops the attach supervisor and kills
// the remote debugger, in that order. Finished steps forget their
// identifiers, so calling it again only retries what failed. A debugger this
// session adopted instead of started is left alone unless ForceCleanup is set.
// The returned error lists the steps that could not be completed.
func (c *Cleaner) Cleanup(ctx context.Context, s *Session) error {
	h := s.handle
	if s.binary == binaryAbsent && h == nil {
		log.Debug("nothing to clean up")
		return nil
	}
	pod := s.Pod()
	logger := log.WithFields(log.Fields{"pod": pod, "container": s.Container})
	var result *multierror.Error
	warn := func(err error) {
		logger.Warn(err.Error())
		result = multierror.Append(result, err)
	}

	foreign := h != nil && !h.Owned && !s.ForceCleanup

	switch {
	case s.binary == binaryAbsent:
	case foreign:
		logger.Info("debugger was not started by this session, leaving it in place")
		// the binary belongs to whoever started that debugger
		s.binary = binaryAbsent
	default:
		if err := c.removeBinary(ctx, s); err != nil {
			warn(err)
		} else {
			s.binary = binaryAbsent
		}
	}

	if h == nil {
		warn(fmt.Errorf("no debugger was attached, nothing to terminate"))
		return result.ErrorOrNil()
	}

	switch {
	case h.supervisorStopped:
	case h.Supervisor != nil:
		if err := h.Supervisor.Stop(); err != nil {
			warn(fmt.Errorf("stopping attach supervisor %v: %v", h.Supervisor.ID(), err))
		} else {
			h.Supervisor = nil
			h.supervisorStopped = true
		}
	case h.Owned:
		warn(fmt.Errorf("attach supervisor unknown, not stopped"))
		h.supervisorStopped = true
	default:
		h.supervisorStopped = true
	}

	switch {
	case h.remoteKilled:
	case foreign:
		h.RemotePID = 0
		h.remoteKilled = true
	case h.RemotePID == 0:
		warn(fmt.Errorf("remote debugger pid unknown, not terminated"))
		h.remoteKilled = true
	default:
		if err := c.killRemote(ctx, s, h.RemotePID); err != nil {
			warn(err)
		} else {
			h.RemotePID = 0
			h.remoteKilled = true
		}
	}

	if h.supervisorStopped && h.remoteKilled {
		s.handle = nil
	}
	if result == nil {
		logger.Info("cleaned up debugger")
	}
	return result.ErrorOrNil()
}

func (c *Cleaner) removeBinary(ctx context.Context, s *Session) error {
	res, err := c.gw.Exec(ctx, s.Namespace, s.Pod(), s.Container, "rm", "-f", s.DebuggerRemotePath)
	if err != nil {
		return fmt.Errorf("removing %v: %v", s.DebuggerRemotePath, err)
	}
	if !res.Succeeded() {
		return fmt.Errorf("removing %v exited with %v", s.DebuggerRemotePath, res.ExitCode)
	}
	return nil
}

func (c *Cleaner) killRemote(ctx context.Context, s *Session, pid int) error {
	res, err := c.gw.Exec(ctx, s.Namespace, s.Pod(), s.Container, "kill", strconv.Itoa(pid))
	if err != nil {
		return fmt.Errorf("terminating debugger pid %v: %v", pid, err)
	}
	if !res.Succeeded() {
		return fmt.Errorf("terminating debugger pid %v exited with %v", pid, res.ExitCode)
	}
	return nil
}
