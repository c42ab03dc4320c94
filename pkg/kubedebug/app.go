package kubedebug

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/solo-io/kubedebug/pkg/options"
	"github.com/solo-io/kubedebug/pkg/session"
)

const descriptionUsage = `kubedebug attaches dlv to a Go process running in a Kubernetes pod and
forwards the debugger to your workstation. It uploads the debugger, attaches
it to the target process and removes everything again when you exit.

While the session runs, the Dockerfile's directory is watched. When it
changes, the image is rebuilt and pushed, the workload is pointed at it and
the session moves to the replacement pod.

Press Ctrl-C to pause the relay and choose to resume, rebuild or exit.
`

func App(version string) *cobra.Command {
	opts := &Options{}
	v := newViper()
	app := &cobra.Command{
		Use:          "kubedebug",
		Short:        "debug a Go process in a Kubernetes pod with dlv",
		Long:         descriptionUsage,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnv(v, cmd.Flags()); err != nil {
				return err
			}
			if opts.Verbose {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := DebuggerPath(v)
			if err != nil {
				return err
			}
			opts.DebuggerPath = path
			return opts.Run(context.Background())
		},
	}

	opts.applyFlags(app.Flags())
	return app
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(options.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv fills every flag not given on the command line from its
// KUBEDEBUG_<FLAG> environment variable, if set.
func applyEnv(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if setErr := flags.Set(f.Name, v.GetString(f.Name)); setErr != nil {
			err = setErr
		}
	})
	return err
}

// ExitMessage formats a failed run for the terminal.
func ExitMessage(err error) string {
	switch session.KindOf(err) {
	case session.PreconditionError:
		// returned before anything was uploaded
		return err.Error() + "\nnothing was changed in the cluster, see kubedebug --help"
	case session.RebuildError:
		return err.Error() + "\nthe workload may already point at the new image"
	}
	return err.Error()
}
