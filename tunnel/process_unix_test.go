//go:build unix

package tunnel

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/yllada/macprox/common"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func waitDone(t *testing.T, p Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(waitTimeout):
		t.Fatal("process did not exit")
	}
}

func TestExecSpawner_CapturesExit(t *testing.T) {
	sh := requireShell(t)

	p, err := ExecSpawner{}.Spawn(Invocation{
		Program: sh,
		Args:    []string{"-c", `echo "ssh: connection refused" >&2; test "$MACPROX_TEST" = yes && exit 3`},
		Env:     []string{"MACPROX_TEST=yes"},
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitDone(t, p)

	exited, exitErr := p.Exited()
	if !exited || exitErr == nil || exitErr.Error() != "exit status 3" {
		t.Errorf("Exited() = %v, %v, want exit status 3", exited, exitErr)
	}
	if err := p.Wait(); err == nil {
		t.Error("Wait() should return the exit error again")
	}
	if tail := p.StderrTail(); len(tail) != 1 || !strings.Contains(tail[0], "connection refused") {
		t.Errorf("StderrTail() = %q", tail)
	}
}

func TestExecSpawner_Terminate(t *testing.T) {
	sh := requireShell(t)

	p, err := ExecSpawner{}.Spawn(Invocation{Program: sh, Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if exited, _ := p.Exited(); exited {
		t.Fatal("process exited immediately")
	}

	if err := p.Terminate(); err != nil {
		t.Errorf("Terminate() error = %v", err)
	}
	waitDone(t, p)

	if err := p.Terminate(); err != nil {
		t.Errorf("Terminate() after exit = %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Errorf("Kill() after exit = %v", err)
	}
}

func TestExecSpawner_MissingProgram(t *testing.T) {
	_, err := ExecSpawner{}.Spawn(Invocation{Program: "macprox-no-such-program"})
	if !errors.Is(err, common.ErrSpawn) {
		t.Errorf("Spawn() = %v, want ErrSpawn", err)
	}
}
