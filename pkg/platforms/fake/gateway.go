// Package fake is an in-memory cluster used by the session and rebuild tests.
// It understands the handful of shell commands the session runs inside a
// container (test, chmod, rm, kill and the /proc listing) and records every
// call so tests can assert on ordering.
package fake

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/solo-io/kubedebug/pkg/platforms"
)

type Call struct {
	Op        string
	Pod       string
	Container string
	Args      []string
}

func (c Call) String() string {
	return fmt.Sprintf("%v %v/%v %v", c.Op, c.Pod, c.Container, strings.Join(c.Args, " "))
}

type Proc struct {
	PID  int
	Name string
}

// Container is the observable state of one container.
type Container struct {
	Files     map[string]bool
	Processes []Proc
	Image     string
	// Command is the entrypoint as declared in the pod spec, empty when unset.
	Command string
}

type Pod struct {
	Name       string
	Ready      bool
	Containers map[string]*Container
}

// Gateway implements platforms.ClusterGateway in memory. All fields may be
// set directly by tests before use; methods are safe for concurrent use.
type Gateway struct {
	mu sync.Mutex

	Pods map[string]*Pod
	// Images of the owning workload's pod template, by container.
	Images map[string]string

	// StartDebugger makes a background dlv attach show up in the process
	// table after the given number of process listings. Negative never starts.
	StartDebugger int
	// ExitDebuggerSupervisor closes the supervisor task right after launch.
	ExitDebuggerSupervisor bool

	CopyErr        error
	ExecErr        error
	PortForwardErr error
	EditErr        error
	DeleteErr      error
	ListErr        error

	// EditNoop makes EditResource report the image as already current.
	EditNoop bool

	// OnDelete runs after a pod was deleted, typically to add its replacement.
	OnDelete func(g *Gateway, pod string)

	calls    []Call
	tasks    []*Task
	nextPID  int
	pending  []pendingStart
	listings int
}

type pendingStart struct {
	pod, container string
	name           string
	at             int
}

var _ platforms.ClusterGateway = &Gateway{}

func NewGateway() *Gateway {
	return &Gateway{
		Pods:    map[string]*Pod{},
		Images:  map[string]string{},
		nextPID: 100,
	}
}

// AddPod adds a ready pod with one container running process as pid 1.
func (g *Gateway) AddPod(name, container, process string) *Pod {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &Pod{
		Name:  name,
		Ready: true,
		Containers: map[string]*Container{
			container: {
				Files:     map[string]bool{},
				Processes: []Proc{{PID: 1, Name: process}},
				Command:   "/usr/local/bin/" + process,
			},
		},
	}
	g.Pods[name] = p
	return p
}

// AddProcess starts a process in the container and returns its pid.
func (g *Gateway) AddProcess(pod, container, name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.Pods[pod].Containers[container]
	pid := g.allocPID()
	c.Processes = append(c.Processes, Proc{PID: pid, Name: name})
	return pid
}

func (g *Gateway) allocPID() int {
	g.nextPID++
	return g.nextPID
}

func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsTo returns the recorded calls with the given op.
func (g *Gateway) CallsTo(op string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallsAfter returns the calls recorded after the first call with op.
func (g *Gateway) CallsAfter(op string) []Call {
	calls := g.Calls()
	for i, c := range calls {
		if c.Op == op {
			return calls[i+1:]
		}
	}
	return nil
}

func (g *Gateway) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}

// HasFile reports whether path exists in the container.
func (g *Gateway) HasFile(pod, container, file string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.Pods[pod]
	if !ok {
		return false
	}
	return p.Containers[container].Files[file]
}

// Processes returns the process names running in the container, sorted.
func (g *Gateway) Processes(pod, container string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var names []string
	if p, ok := g.Pods[pod]; ok {
		for _, proc := range p.Containers[container].Processes {
			names = append(names, proc.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (g *Gateway) record(op, pod, container string, args ...string) {
	g.calls = append(g.calls, Call{Op: op, Pod: pod, Container: container, Args: args})
}

func (g *Gateway) container(pod, container string) (*Container, error) {
	p, ok := g.Pods[pod]
	if !ok {
		return nil, errors.Errorf("pods %q not found", pod)
	}
	c, ok := p.Containers[container]
	if !ok {
		return nil, errors.Errorf("container %v not found in pod %v", container, pod)
	}
	return c, nil
}

func (g *Gateway) ListPods(ctx context.Context, namespace string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("ListPods", "", "", namespace)
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	var names []string
	for name := range g.Pods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetPodField understands the expressions the session uses: container names,
// a container's image and command, and the Ready condition.
func (g *Gateway) GetPodField(ctx context.Context, namespace, pod, expr string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("GetPodField", pod, "", expr)
	p, ok := g.Pods[pod]
	if !ok {
		return "", false, errors.Errorf("pods %q not found", pod)
	}
	switch {
	case strings.Contains(expr, "conditions"):
		if p.Ready {
			return "True", true, nil
		}
		return "False", true, nil
	case strings.Contains(expr, "containers[*].name"):
		var names []string
		for name := range p.Containers {
			names = append(names, name)
		}
		sort.Strings(names)
		return strings.Join(names, " "), true, nil
	case strings.HasSuffix(expr, ".image}"), strings.HasSuffix(expr, ".command[0]}"):
		for name, c := range p.Containers {
			if !strings.Contains(expr, `"`+name+`"`) {
				continue
			}
			v := c.Image
			if strings.HasSuffix(expr, ".command[0]}") {
				v = c.Command
			}
			return v, v != "", nil
		}
		return "", false, nil
	}
	return "", false, errors.Errorf("unsupported expression %v", expr)
}

func (g *Gateway) Exec(ctx context.Context, namespace, pod, container string, command ...string) (platforms.ExecResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("Exec", pod, container, command...)
	if g.ExecErr != nil {
		return platforms.ExecResult{ExitCode: -1}, g.ExecErr
	}
	c, err := g.container(pod, container)
	if err != nil {
		return platforms.ExecResult{ExitCode: -1}, err
	}
	if len(command) == 0 {
		return platforms.ExecResult{ExitCode: 127}, nil
	}
	switch command[0] {
	case "test":
		if c.Files[command[len(command)-1]] {
			return platforms.ExecResult{}, nil
		}
		return platforms.ExecResult{ExitCode: 1}, nil
	case "chmod":
		if c.Files[command[len(command)-1]] {
			return platforms.ExecResult{}, nil
		}
		return platforms.ExecResult{ExitCode: 1}, nil
	case "rm":
		delete(c.Files, command[len(command)-1])
		return platforms.ExecResult{}, nil
	case "kill":
		pid, _ := strconv.Atoi(command[len(command)-1])
		for i, p := range c.Processes {
			if p.PID == pid {
				c.Processes = append(c.Processes[:i], c.Processes[i+1:]...)
				return platforms.ExecResult{}, nil
			}
		}
		return platforms.ExecResult{ExitCode: 1}, nil
	case "sh":
		g.listings++
		g.startPending(pod, container, c)
		var lines []string
		for _, p := range c.Processes {
			lines = append(lines, fmt.Sprintf("%v %v", p.PID, p.Name))
		}
		return platforms.ExecResult{Stdout: strings.Join(lines, "\n") + "\n"}, nil
	}
	return platforms.ExecResult{ExitCode: 127}, nil
}

func (g *Gateway) startPending(pod, container string, c *Container) {
	var rest []pendingStart
	for _, ps := range g.pending {
		if ps.pod == pod && ps.container == container && g.listings >= ps.at {
			c.Processes = append(c.Processes, Proc{PID: g.allocPID(), Name: ps.name})
			continue
		}
		rest = append(rest, ps)
	}
	g.pending = rest
}

func (g *Gateway) ExecBackground(ctx context.Context, namespace, pod, container string, command ...string) (platforms.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("ExecBackground", pod, container, command...)
	if g.ExecErr != nil {
		return nil, g.ExecErr
	}
	c, err := g.container(pod, container)
	if err != nil {
		return nil, err
	}
	if len(command) == 0 || !c.Files[command[0]] {
		return nil, errors.Errorf("exec: %v: no such file", strings.Join(command, " "))
	}
	if g.StartDebugger >= 0 {
		g.pending = append(g.pending, pendingStart{
			pod: pod, container: container,
			name: path.Base(command[0]),
			at:   g.listings + g.StartDebugger,
		})
	}
	t := g.newTask("exec")
	if g.ExitDebuggerSupervisor {
		t.Exit(errors.New("exit status 1"))
	}
	return t, nil
}

func (g *Gateway) CopyToContainer(ctx context.Context, namespace, pod, container, localPath, remotePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CopyToContainer", pod, container, localPath, remotePath)
	if g.CopyErr != nil {
		return g.CopyErr
	}
	c, err := g.container(pod, container)
	if err != nil {
		return err
	}
	c.Files[remotePath] = true
	return nil
}

func (g *Gateway) DeletePod(ctx context.Context, namespace, pod string) error {
	g.mu.Lock()
	g.record("DeletePod", pod, "")
	if g.DeleteErr != nil {
		g.mu.Unlock()
		return g.DeleteErr
	}
	if _, ok := g.Pods[pod]; !ok {
		g.mu.Unlock()
		return errors.Errorf("pods %q not found", pod)
	}
	delete(g.Pods, pod)
	onDelete := g.OnDelete
	g.mu.Unlock()

	if onDelete != nil {
		onDelete(g, pod)
	}
	return nil
}

func (g *Gateway) PortForward(ctx context.Context, namespace, pod string, localPort, remotePort int) (platforms.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("PortForward", pod, "", strconv.Itoa(localPort), strconv.Itoa(remotePort))
	if g.PortForwardErr != nil {
		return nil, g.PortForwardErr
	}
	if _, ok := g.Pods[pod]; !ok {
		return nil, errors.Errorf("pods %q not found", pod)
	}
	return g.newTask("port-forward"), nil
}

func (g *Gateway) EditResource(ctx context.Context, ref platforms.ResourceRef, container string, transform func(string) string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("EditResource", "", container, ref.Kind, ref.Name)
	if g.EditErr != nil {
		return false, g.EditErr
	}
	image, ok := g.Images[container]
	if !ok {
		return false, errors.Errorf("container %v not found in pod template", container)
	}
	next := transform(image)
	if next == image || g.EditNoop {
		return false, nil
	}
	g.Images[container] = next
	return true, nil
}

func (g *Gateway) newTask(kind string) *Task {
	t := &Task{id: g.allocPID(), Kind: kind, done: make(chan struct{})}
	g.tasks = append(g.tasks, t)
	return t
}

// Task is a platforms.Task that only ends when stopped or told to exit.
type Task struct {
	id   int
	Kind string

	mu      sync.Mutex
	done    chan struct{}
	err     error
	stopped int
	StopErr error
}

func (t *Task) ID() int {
	return t.id
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	if t.StopErr != nil {
		return t.StopErr
	}
	t.finish(nil)
	return nil
}

// Exit ends the task on its own, as a process would when it dies.
func (t *Task) Exit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish(err)
}

func (t *Task) finish(err error) {
	select {
	case <-t.done:
	default:
		t.err = err
		close(t.done)
	}
}

// Stopped is how many times Stop was called.
func (t *Task) Stopped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
