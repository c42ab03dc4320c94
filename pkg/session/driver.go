package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/platforms"
	"github.com/solo-io/kubedebug/pkg/poll"
)

type State int

const (
	Resolving State = iota
	Verifying
	Provisioning
	Locating
	Attaching
	Relaying
	AwaitingDecision
	Rebuilding
	CleaningUp
	Done
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "Resolving"
	case Verifying:
		return "Verifying"
	case Provisioning:
		return "Provisioning"
	case Locating:
		return "Locating"
	case Attaching:
		return "Attaching"
	case Relaying:
		return "Relaying"
	case AwaitingDecision:
		return "AwaitingDecision"
	case Rebuilding:
		return "Rebuilding"
	case CleaningUp:
		return "CleaningUp"
	case Done:
		return "Done"
	}
	return "Unknown"
}

type Decision int

const (
	Resume Decision = iota
	RebuildNow
	Exit
)

func (d Decision) String() string {
	switch d {
	case Resume:
		return "resume"
	case RebuildNow:
		return "rebuild"
	case Exit:
		return "exit"
	}
	return "unknown"
}

// Decider asks the operator what to do after an interrupt during relay.
type Decider interface {
	Decide(ctx context.Context) (Decision, error)
}

type DecideFunc func(ctx context.Context) (Decision, error)

func (f DecideFunc) Decide(ctx context.Context) (Decision, error) {
	return f(ctx)
}

// Rebuilder replaces the running pod with one built from the current source.
// On success the session points at the new pod and holds nothing from the old
// one. On failure the session is left attached if it was not yet released.
type Rebuilder interface {
	Rebuild(ctx context.Context, s *Session) error
}

// ChangeWatcher reports changes to the build context. WaitForChange blocks
// until the content differs from the accepted state; Accept makes the
// last reported content the new baseline.
type ChangeWatcher interface {
	WaitForChange(ctx context.Context) error
	Accept()
}

type Config struct {
	PollPolicy   poll.Policy
	AttachPolicy poll.Policy
	// CleanupTimeout bounds cleanup, which runs even after ctx is cancelled.
	CleanupTimeout time.Duration
}

// Driver runs the session through its stages until the operator exits or a
// fatal error occurs. Cleanup runs on every path out of Run.
type Driver struct {
	Session *Session

	Resolver    *Resolver
	Locator     *Locator
	Provisioner *Provisioner
	Attacher    *Attacher
	Relay       *Relay
	Cleaner     *Cleaner

	// Optional. Without a Rebuilder change detection and the rebuild choice
	// are disabled; without a Decider an interrupt exits.
	Rebuilder Rebuilder
	Watcher   ChangeWatcher
	Decider   Decider

	// Interrupts delivers operator interrupts (SIGINT).
	Interrupts <-chan struct{}

	cleanupTimeout time.Duration
	history        []State
	targetPID      int
}

func NewDriver(gw platforms.ClusterGateway, s *Session, cfg Config) *Driver {
	locator := NewLocator(gw)
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	return &Driver{
		Session:        s,
		Resolver:       NewResolver(gw, cfg.PollPolicy),
		Locator:        locator,
		Provisioner:    NewProvisioner(gw),
		Attacher:       NewAttacher(gw, locator, cfg.AttachPolicy),
		Relay:          NewRelay(gw, cfg.PollPolicy),
		Cleaner:        NewCleaner(gw),
		cleanupTimeout: cfg.CleanupTimeout,
	}
}

// History is the sequence of states Run went through.
func (d *Driver) History() []State {
	return append([]State(nil), d.history...)
}

// Run returns nil when the operator chose to exit or the relay ended on its
// own, and the fatal error otherwise.
func (d *Driver) Run(ctx context.Context) error {
	var result error
	state := Resolving
	for state != Done {
		d.history = append(d.history, state)
		log.WithField("state", state).Debug("session state")

		var err error
		switch state {
		case Resolving, Verifying, Provisioning, Locating, Attaching:
			err = d.guarded(ctx, state)
			state++
		case Relaying:
			var outcome RelayOutcome
			outcome, err = d.relay(ctx)
			switch outcome {
			case RelayInterrupted:
				state = AwaitingDecision
			case RelaySourceChanged:
				state = Rebuilding
			default:
				state = CleaningUp
			}
		case AwaitingDecision:
			state = d.decide(ctx)
		case Rebuilding:
			state, err = d.rebuild(ctx)
		case CleaningUp:
			d.cleanup(ctx)
			state = Done
		}
		if err != nil {
			log.WithError(err).Error("debug session failed")
			result = err
			state = CleaningUp
		}
	}
	return result
}

// guarded runs one setup stage. An interrupt cancels the stage, which then
// fails and leads to cleanup.
func (d *Driver) guarded(ctx context.Context, state State) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := d.forwardInterrupts(ctx, cancel)

	err := d.runStage(ctx, state)
	stop()
	if errors.Is(context.Cause(ctx), ErrInterrupted) {
		return errors.Wrapf(ErrInterrupted, "while %v", state)
	}
	return err
}

func (d *Driver) runStage(ctx context.Context, state State) error {
	s := d.Session
	switch state {
	case Resolving:
		pod, err := d.Resolver.Resolve(ctx, s.Namespace, s.PodPrefix)
		if err != nil {
			return err
		}
		s.SetPod(pod)
	case Verifying:
		return d.Locator.VerifyContainer(ctx, s)
	case Provisioning:
		_, err := d.Provisioner.Ensure(ctx, s)
		return err
	case Locating:
		pid, err := d.Locator.LocateTarget(ctx, s)
		if err != nil {
			return err
		}
		d.targetPID = pid
	case Attaching:
		_, err := d.Attacher.Attach(ctx, s, d.targetPID)
		return err
	}
	return nil
}

func (d *Driver) relay(ctx context.Context) (RelayOutcome, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := d.forwardInterrupts(ctx, cancel)
	defer func() {
		stop()
		cancel(nil)
	}()

	if d.Watcher != nil && d.Rebuilder != nil {
		go func() {
			if err := d.Watcher.WaitForChange(ctx); err == nil {
				log.Info("build context changed")
				cancel(ErrSourceChanged)
			}
		}()
	}
	return d.Relay.Run(ctx, d.Session)
}

// forwardInterrupts cancels ctx with ErrInterrupted on the next interrupt.
// The returned stop func waits for the forwarder, so once it returns the
// cause of ctx is final.
func (d *Driver) forwardInterrupts(ctx context.Context, cancel context.CancelCauseFunc) func() {
	if d.Interrupts == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-d.Interrupts:
			cancel(ErrInterrupted)
		case <-ctx.Done():
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (d *Driver) decide(ctx context.Context) State {
	if d.Decider == nil {
		return CleaningUp
	}
	decision, err := d.Decider.Decide(ctx)
	if err != nil {
		log.WithError(err).Warn("no decision, exiting")
		return CleaningUp
	}
	log.WithField("decision", decision).Debug("operator decision")
	switch decision {
	case Resume:
		return Relaying
	case RebuildNow:
		if d.Rebuilder != nil {
			return Rebuilding
		}
		log.Warn("rebuild is not available, resuming")
		return Relaying
	}
	return CleaningUp
}

// rebuild returns the next state. A failed build leaves the session attached
// and relaying resumes; a failure after the session was released is fatal.
func (d *Driver) rebuild(ctx context.Context) (State, error) {
	if d.Rebuilder == nil {
		return Relaying, nil
	}
	err := d.guardedRebuild(ctx)
	if d.Watcher != nil {
		// a failed build is not retried until the source changes again
		d.Watcher.Accept()
	}
	if err == nil {
		return Verifying, nil
	}
	if IsKind(err, RebuildError) && d.Session.Attached() {
		log.WithError(err).Error("rebuild failed, resuming the current session")
		return Relaying, nil
	}
	return CleaningUp, err
}

func (d *Driver) guardedRebuild(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := d.forwardInterrupts(ctx, cancel)

	err := d.Rebuilder.Rebuild(ctx, d.Session)
	stop()
	if errors.Is(context.Cause(ctx), ErrInterrupted) {
		return errors.Wrap(ErrInterrupted, "while rebuilding")
	}
	return err
}

func (d *Driver) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()
	if err := d.Cleaner.Cleanup(ctx, d.Session); err != nil {
		log.WithError(err).Warn("cleanup incomplete")
	}
}
