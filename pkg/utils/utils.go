package utils

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/pkg/errors"
)

// FindAnyFreePort returns a random port that is not in use.
// It does so by claiming a random open port, then closing it.
func FindAnyFreePort(port *int) error {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return err
	}

	tmpListener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}

	*port = tmpListener.Addr().(*net.TCPAddr).Port
	return tmpListener.Close()
}

// ExpectPortToBeFree returns an error if something already listens on the
// local port. The port-forward would otherwise fail only after the debugger
// has been injected.
func ExpectPortToBeFree(port int) error {
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("localhost:%v", port))
	if err != nil {
		return err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "local port %v is not available", port)
	}
	return listener.Close()
}

// ValidatePort checks that port is a usable TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %v is out of range", port)
	}
	return nil
}

// MissingBinaries returns the names that are not found on the PATH.
func MissingBinaries(names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}
