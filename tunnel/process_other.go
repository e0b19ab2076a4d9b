//go:build !unix

package tunnel

import (
	"os"
	"syscall"
)

func newSysProcAttr() *syscall.SysProcAttr {
	return nil
}

// signalGroup has no process groups to signal here, so both requests end
// the process itself.
func signalGroup(p *os.Process, force bool) error {
	return p.Kill()
}
