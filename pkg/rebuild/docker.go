package rebuild

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ImageBuilder produces and publishes images.
type ImageBuilder interface {
	Build(ctx context.Context, dockerfile, contextDir string, ref ImageRef) error
	Push(ctx context.Context, ref ImageRef) error
}

// Docker builds and pushes with the docker CLI.
type Docker struct {
	// Binary defaults to "docker" on the PATH.
	Binary string
}

var _ ImageBuilder = &Docker{}

func NewDocker() *Docker {
	return &Docker{Binary: "docker"}
}

func (d *Docker) Build(ctx context.Context, dockerfile, contextDir string, ref ImageRef) error {
	return d.run(ctx, "build", "-f", dockerfile, "-t", ref.String(), contextDir)
}

func (d *Docker) Push(ctx context.Context, ref ImageRef) error {
	return d.run(ctx, "push", ref.String())
}

func (d *Docker) run(ctx context.Context, args ...string) error {
	binary := d.Binary
	if binary == "" {
		binary = "docker"
	}
	log.WithField("args", strings.Join(args, " ")).Debug(binary)
	cmd := exec.CommandContext(ctx, binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%v %v: %v", binary, args[0], lastLines(out.String(), 5))
	}
	return nil
}

// docker prints the actual failure at the end of a long progress log
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
