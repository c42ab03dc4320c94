package kubectl

import (
	"os"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Process is a started kubectl subprocess. It implements platforms.Task.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	stopOnce sync.Once
	stopErr  error
}

func startProcess(cmd *exec.Cmd) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %v", cmd.Path)
	}
	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	log.WithFields(log.Fields{"pid": p.ID(), "args": cmd.Args}).Debug("started background process")
	return p, nil
}

func (p *Process) ID() int {
	return p.cmd.Process.Pid
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = errors.Wrapf(err, "killing pid %v", p.ID())
			return
		}
		<-p.done
		log.WithField("pid", p.ID()).Debug("stopped background process")
	})
	return p.stopErr
}
