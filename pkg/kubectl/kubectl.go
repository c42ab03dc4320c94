package kubectl

// Thin wrapper around the kubectl binary for the operations that have no
// comfortable client-go equivalent: exec, cp and port-forward.

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Kubectl struct {
	// Binary defaults to "kubectl" on the PATH.
	Binary string
	// Context is the kubeconfig context; empty means the current one.
	Context string
}

func NewKubectl(kubeContext string) *Kubectl {
	return &Kubectl{Binary: "kubectl", Context: kubeContext}
}

// Exec runs command in the container and returns its stdout and exit code.
// The error is only set when kubectl itself failed to reach the container.
func (k *Kubectl) Exec(ctx context.Context, namespace, pod, container string, command ...string) (string, int, error) {
	cmd := k.PrepareNs(ctx, namespace, execArgs(pod, container, command)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && !isKubectlError(stderr.String()) {
		return stdout.String(), exitErr.ExitCode(), nil
	}
	return stdout.String(), -1, errors.Wrapf(err, "kubectl exec in %v/%v: %v", pod, container, strings.TrimSpace(stderr.String()))
}

// Start runs command in the container in the background. The returned process
// is the local kubectl supervising the remote command; killing it closes the
// exec stream.
func (k *Kubectl) Start(namespace, pod, container string, command ...string) (*Process, error) {
	cmd := k.PrepareNs(context.Background(), namespace, execArgs(pod, container, command)...)
	return startProcess(cmd)
}

// Cp copies a local file into the container.
func (k *Kubectl) Cp(ctx context.Context, namespace, pod, container, localPath, remotePath string) error {
	cmd := k.PrepareNs(ctx, namespace, "cp", localPath, pod+":"+remotePath, "-c", container)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "kubectl cp %v to %v:%v: %v", localPath, pod, remotePath, strings.TrimSpace(string(out)))
	}
	return nil
}

// PortForward forwards localPort to remotePort on the pod until the returned
// process is stopped.
func (k *Kubectl) PortForward(namespace, pod string, localPort, remotePort int) (*Process, error) {
	portSpec := fmt.Sprintf("%v:%v", localPort, remotePort)
	cmd := k.PrepareNs(context.Background(), namespace, "port-forward", "pod/"+pod, portSpec)
	return startProcess(cmd)
}

func (k *Kubectl) PrepareNs(ctx context.Context, namespace string, args ...string) *exec.Cmd {
	newargs := []string{"--namespace=" + namespace}
	newargs = append(newargs, args...)
	return k.Prepare(ctx, newargs...)
}

func (k *Kubectl) Prepare(ctx context.Context, args ...string) *exec.Cmd {
	var newargs []string
	if k.Context != "" {
		newargs = []string{"--context=" + k.Context}
	}
	newargs = append(newargs, args...)
	binary := k.Binary
	if binary == "" {
		binary = "kubectl"
	}
	log.WithField("args", strings.Join(newargs, " ")).Debug(binary)
	return exec.CommandContext(ctx, binary, newargs...)
}

func execArgs(pod, container string, command []string) []string {
	args := []string{"exec", pod, "-c", container, "--"}
	return append(args, command...)
}

// kubectl reports its own failures (pod not found, container not running,
// forbidden) with these prefixes. Anything else came from the remote command.
func isKubectlError(stderr string) bool {
	s := strings.TrimSpace(stderr)
	return strings.HasPrefix(s, "error:") || strings.HasPrefix(s, "Error from server")
}
