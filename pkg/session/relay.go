package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-delve/delve/service/rpc2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/platforms"
	"github.com/solo-io/kubedebug/pkg/poll"
)

type RelayOutcome int

const (
	// the forward exited on its own
	RelayEnded RelayOutcome = iota
	RelayInterrupted
	RelaySourceChanged
)

func (o RelayOutcome) String() string {
	switch o {
	case RelayEnded:
		return "Ended"
	case RelayInterrupted:
		return "Interrupted"
	case RelaySourceChanged:
		return "SourceChanged"
	}
	return "Unknown"
}

// Probe checks that a debugger answers at addr.
type Probe func(ctx context.Context, addr string) error

const probeTimeout = 2 * time.Second

// DelveProbe asks the delve server behind addr for its state. A bare TCP
// connect is not enough, port-forward accepts before the remote side is up.
func DelveProbe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		conn.Close()
		return err
	}
	client := rpc2.NewClientFromConn(conn)
	defer client.Disconnect(false)
	if _, err := client.GetStateNonBlocking(); err != nil {
		return errors.Wrap(err, "querying debugger state")
	}
	return nil
}

// Relay forwards the debugger port to the workstation for as long as the
// session is being debugged.
type Relay struct {
	gw     platforms.ClusterGateway
	policy poll.Policy
	Probe  Probe
}

func NewRelay(gw platforms.ClusterGateway, policy poll.Policy) *Relay {
	return &Relay{gw: gw, policy: policy, Probe: DelveProbe}
}

func (r *Relay) Address(s *Session) string {
	return fmt.Sprintf("127.0.0.1:%v", s.LocalPort)
}

// Run starts the forward, waits until the debugger answers through it and
// then blocks until ctx is cancelled or the forward dies. Cancellation with
// ErrInterrupted or ErrSourceChanged as the cause maps to the matching
// outcome. The forward is stopped on every return.
func (r *Relay) Run(ctx context.Context, s *Session) (RelayOutcome, error) {
	pod := s.Pod()
	task, err := r.gw.PortForward(ctx, s.Namespace, pod, s.LocalPort, s.TargetPort)
	if err != nil {
		return RelayEnded, NewError(RelayError, pod, err)
	}
	defer func() {
		if err := task.Stop(); err != nil {
			log.WithError(err).Warn("stopping port-forward")
		}
	}()

	addr := r.Address(s)
	res, err := r.policy.Until(ctx, func(ctx context.Context) (bool, error) {
		select {
		case <-task.Done():
			return false, fmt.Errorf("port-forward exited: %v", task.Err())
		default:
		}
		if err := r.Probe(ctx, addr); err != nil {
			log.WithError(err).Debug("debugger not reachable yet")
			return false, nil
		}
		return true, nil
	})
	if ctx.Err() != nil {
		return outcomeOf(ctx)
	}
	if res != poll.Ready {
		if err == nil {
			err = fmt.Errorf("debugger not reachable at %v within %v", addr, r.policy.Budget())
		}
		return RelayEnded, NewError(RelayError, pod, err)
	}

	log.WithFields(log.Fields{"address": addr, "pod": pod}).Info("debugger ready, connect with: dlv connect " + addr)

	select {
	case <-ctx.Done():
		return outcomeOf(ctx)
	case <-task.Done():
		log.WithError(task.Err()).Info("port-forward ended")
		return RelayEnded, nil
	}
}

func outcomeOf(ctx context.Context) (RelayOutcome, error) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrSourceChanged):
		return RelaySourceChanged, nil
	case errors.Is(cause, ErrInterrupted):
		return RelayInterrupted, nil
	}
	return RelayEnded, ctx.Err()
}
