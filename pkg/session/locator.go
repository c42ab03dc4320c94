package session

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/solo-io/kubedebug/pkg/platforms"
)

// the kernel truncates /proc/<pid>/comm to this many bytes
const commLen = 15

// Prints "<pid> <comm>" for every process visible in the container. Only
// needs a POSIX shell and cat, which is all most images have.
const listProcessesScript = `for d in /proc/[0-9]*; do echo "${d#/proc/} $(cat "$d/comm" 2>/dev/null)"; done`

type Process struct {
	PID  int
	Name string
}

// Locator finds processes by name inside the target container.
type Locator struct {
	gw platforms.ClusterGateway
}

func NewLocator(gw platforms.ClusterGateway) *Locator {
	return &Locator{gw: gw}
}

func (l *Locator) List(ctx context.Context, s *Session) ([]Process, error) {
	res, err := l.gw.Exec(ctx, s.Namespace, s.Pod(), s.Container, "sh", "-c", listProcessesScript)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		return nil, fmt.Errorf("listing processes exited with %v", res.ExitCode)
	}
	return parseProcesses(res.Stdout), nil
}

func parseProcesses(out string) []Process {
	var procs []Process
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 2)
		if len(fields) != 2 || fields[1] == "" {
			// process exited between the glob and the read
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		procs = append(procs, Process{PID: pid, Name: fields[1]})
	}
	return procs
}

// FindByName returns the pids of processes whose executable is named name,
// in ascending pid order.
func (l *Locator) FindByName(ctx context.Context, s *Session, name string) ([]int, error) {
	procs, err := l.List(ctx, s)
	if err != nil {
		return nil, err
	}
	return matchProcesses(procs, name), nil
}

func matchProcesses(procs []Process, name string) []int {
	var pids []int
	for _, p := range procs {
		if commMatches(p.Name, name) {
			pids = append(pids, p.PID)
		}
	}
	return pids
}

// commMatches compares a /proc comm value to a binary name or path.
func commMatches(comm, name string) bool {
	base := path.Base(name)
	if len(base) > commLen {
		base = base[:commLen]
	}
	return comm == base
}

// LocateTarget finds the pid of the session's target process. The target is
// expected to be the container entrypoint (pid 1); with the bypass flag any
// matching process is accepted.
func (l *Locator) LocateTarget(ctx context.Context, s *Session) (int, error) {
	procs, err := l.List(ctx, s)
	if err != nil {
		return 0, NewError(LocatorError, s.Pod(), err)
	}
	pids := matchProcesses(procs, s.ProcessName)
	if len(pids) == 0 {
		return 0, Errorf(LocatorError, s.Pod(), "no process named %v in container %v", s.ProcessName, s.Container)
	}
	for _, pid := range pids {
		if pid == 1 {
			return 1, nil
		}
	}
	if !s.BypassEntrypointCheck {
		return 0, Errorf(LocatorError, s.Pod(),
			"process %v runs as pid %v but is not the container entrypoint; use --bypass-entrypoint-check to attach anyway",
			s.ProcessName, pids[0])
	}
	if len(pids) > 1 {
		log.WithFields(log.Fields{"process": s.ProcessName, "pids": pids}).Warn("several matching processes, attaching to the first")
	}
	log.WithFields(log.Fields{"process": s.ProcessName, "pid": pids[0]}).Warn("target is not the container entrypoint")
	return pids[0], nil
}

// VerifyContainer checks that the container exists in the resolved pod and
// that its declared entrypoint is the target process.
func (l *Locator) VerifyContainer(ctx context.Context, s *Session) error {
	pod := s.Pod()
	names, _, err := l.gw.GetPodField(ctx, s.Namespace, pod, "{.spec.containers[*].name}")
	if err != nil {
		return NewError(PreconditionError, pod, err)
	}
	found := false
	for _, name := range strings.Fields(names) {
		if name == s.Container {
			found = true
		}
	}
	if !found {
		return Errorf(PreconditionError, pod, "container %v not found (have: %v)", s.Container, names)
	}

	expr := fmt.Sprintf(`{.spec.containers[?(@.name=="%s")].command[0]}`, s.Container)
	command, ok, err := l.gw.GetPodField(ctx, s.Namespace, pod, expr)
	if err != nil {
		return NewError(PreconditionError, pod, err)
	}
	if !ok {
		log.WithField("container", s.Container).Debug("entrypoint comes from the image, not checked")
		return nil
	}
	if path.Base(command) == path.Base(s.ProcessName) {
		return nil
	}
	if s.BypassEntrypointCheck {
		log.WithFields(log.Fields{"entrypoint": command, "process": s.ProcessName}).Warn("entrypoint does not match the target process")
		return nil
	}
	return Errorf(PreconditionError, pod, "entrypoint %v of container %v is not %v; use --bypass-entrypoint-check to continue",
		command, s.Container, s.ProcessName)
}
