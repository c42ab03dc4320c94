package version

// Version is set at build time with -ldflags "-X github.com/solo-io/kubedebug/pkg/version.Version=..."
var Version = "dev"
