//go:build unix

package tunnel

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func newSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the whole process group led by p. A group that is
// already gone is not an error.
func signalGroup(p *os.Process, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		// Fall back to the leader alone.
		return p.Signal(sig)
	}
	return nil
}
