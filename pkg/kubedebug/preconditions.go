package kubedebug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/solo-io/kubedebug/pkg/options"
	"github.com/solo-io/kubedebug/pkg/session"
	"github.com/solo-io/kubedebug/pkg/utils"
	"github.com/solo-io/kubedebug/pkg/utils/kubeutils"
)

// Validate checks the options on their own, without looking at the machine
// or the cluster. All problems are reported at once.
func (o *Options) Validate() error {
	var result *multierror.Error
	missing := o.missingFlags()
	if len(missing) > 0 {
		result = multierror.Append(result, fmt.Errorf("missing required flags: --%v", strings.Join(missing, ", --")))
	}
	if o.Target.Port != 0 {
		if err := utils.ValidatePort(o.Target.Port); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if o.Target.LocalPort != 0 {
		if err := utils.ValidatePort(o.Target.LocalPort); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if o.Polling.Attempts < 1 {
		result = multierror.Append(result, fmt.Errorf("--poll-attempts must be at least 1"))
	}
	if o.Polling.Interval <= 0 || o.Polling.WatchInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("intervals must be positive"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return session.NewError(session.PreconditionError, "", err)
	}
	return nil
}

func (o *Options) missingFlags() []string {
	values := map[string]bool{
		"namespace":  o.Target.Namespace != "",
		"pod":        o.Target.Pod != "",
		"container":  o.Target.Container != "",
		"port":       o.Target.Port != 0,
		"dockerfile": o.Build.Dockerfile != "",
		"resource":   o.Build.Resource != "",
	}
	var missing []string
	for _, name := range requiredFlags {
		if !values[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// CheckEnvironment verifies what has to exist before the cluster is touched:
// the external CLIs, the local port, the Dockerfile and the namespace.
func (o *Options) CheckEnvironment(ctx context.Context) error {
	if missing := utils.MissingBinaries(options.RequiredBinaries...); len(missing) > 0 {
		return session.Errorf(session.PreconditionError, "", "not found on PATH: %v", strings.Join(missing, ", "))
	}
	if err := utils.ExpectPortToBeFree(o.localPort()); err != nil {
		return session.NewError(session.PreconditionError, "", err)
	}
	if info, err := os.Stat(o.Build.Dockerfile); err != nil {
		return session.NewError(session.PreconditionError, o.Build.Dockerfile, err)
	} else if info.IsDir() {
		return session.Errorf(session.PreconditionError, o.Build.Dockerfile, "is a directory, expected a Dockerfile")
	}
	if err := kubeutils.EnsureNamespace(ctx, o.KubeClient, o.Target.Namespace); err != nil {
		if known, listErr := kubeutils.GetNamespaces(ctx, o.KubeClient); listErr == nil && len(known) > 0 {
			sort.Strings(known)
			err = fmt.Errorf("%v (available: %v)", err, strings.Join(known, ", "))
		}
		return session.NewError(session.PreconditionError, o.Target.Namespace, err)
	}
	return nil
}

func (o *Options) localPort() int {
	if o.Target.LocalPort != 0 {
		return o.Target.LocalPort
	}
	return o.Target.Port
}

// DebuggerPath locates the local dlv: KUBEDEBUG_DLV_PATH, then
// $GOPATH/bin/dlv, then ~/go/bin/dlv. A missing file is reported when the
// debugger actually has to be uploaded.
func DebuggerPath(v *viper.Viper) (string, error) {
	if p := v.GetString(options.DebuggerPathKey); p != "" {
		return homedir.Expand(p)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		// only the first GOPATH entry gets binaries installed
		first := filepath.SplitList(gopath)[0]
		p := filepath.Join(first, "bin", options.DebuggerBinaryName)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "go", "bin", options.DebuggerBinaryName), nil
}
