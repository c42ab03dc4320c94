package session

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/platforms"
)

// Provisioner makes sure dlv is present and executable in the target container.
type Provisioner struct {
	gw platforms.ClusterGateway
}

func NewProvisioner(gw platforms.ClusterGateway) *Provisioner {
	return &Provisioner{gw: gw}
}

// Ensure uploads the local debugger binary unless an executable one is
// already at the remote path. uploaded reports whether a copy happened.
func (p *Provisioner) Ensure(ctx context.Context, s *Session) (uploaded bool, err error) {
	pod := s.Pod()
	if pod == "" {
		return false, Errorf(ProvisionError, "", "no pod resolved")
	}
	logger := log.WithFields(log.Fields{"pod": pod, "container": s.Container, "path": s.DebuggerRemotePath})

	present, err := p.remoteExecutable(ctx, s)
	if err != nil {
		return false, NewError(ProvisionError, pod, err)
	}
	if present {
		logger.Info("debugger already present in container")
		s.binary = binaryPresent
		return false, nil
	}

	if s.DebuggerLocalPath == "" {
		return false, Errorf(ProvisionError, pod, "no local debugger binary configured")
	}
	if _, err := os.Stat(s.DebuggerLocalPath); err != nil {
		return false, Errorf(ProvisionError, pod, "local debugger binary: %v", err)
	}

	logger.WithField("local", s.DebuggerLocalPath).Info("uploading debugger")
	// from here on cleanup has to remove whatever landed in the container
	s.binary = binaryUploading
	if err := p.gw.CopyToContainer(ctx, s.Namespace, pod, s.Container, s.DebuggerLocalPath, s.DebuggerRemotePath); err != nil {
		return false, NewError(ProvisionError, pod, err)
	}
	res, err := p.gw.Exec(ctx, s.Namespace, pod, s.Container, "chmod", "+x", s.DebuggerRemotePath)
	if err != nil {
		return false, NewError(ProvisionError, pod, err)
	}
	if !res.Succeeded() {
		return false, Errorf(ProvisionError, pod, "chmod %v exited with %v", s.DebuggerRemotePath, res.ExitCode)
	}
	s.binary = binaryPresent
	return true, nil
}

func (p *Provisioner) remoteExecutable(ctx context.Context, s *Session) (bool, error) {
	res, err := p.gw.Exec(ctx, s.Namespace, s.Pod(), s.Container, "test", "-x", s.DebuggerRemotePath)
	if err != nil {
		return false, err
	}
	return res.Succeeded(), nil
}
