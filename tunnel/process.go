package tunnel

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/yllada/macprox/common"
)

// Process is a spawned tunnel process.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Terminate asks the process to exit so it can restore routing.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Exited reports, without blocking, whether the process has exited and
	// with which error (nil for a zero exit status).
	Exited() (bool, error)
	// Wait blocks until the process exits. It may be called any number of
	// times.
	Wait() error
	// StderrTail returns the last captured lines of standard error.
	StderrTail() []string
}

// Spawner starts tunnel processes.
type Spawner interface {
	Spawn(inv Invocation) (Process, error)
}

// ExecSpawner starts real processes with os/exec.
type ExecSpawner struct {
	// TailLines bounds the captured stderr. Zero means the default.
	TailLines int
}

// Spawn starts inv with stdin closed, stdout discarded and stderr captured.
// The child runs in its own process group so Terminate reaches the ssh
// and firewall helpers sshuttle starts.
func (s ExecSpawner) Spawn(inv Invocation) (Process, error) {
	lines := s.TailLines
	if lines <= 0 {
		lines = common.StderrTailLines
	}

	cmd := exec.Command(inv.Program, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)
	// nil Stdin and Stdout connect the null device.
	cmd.Stdin = nil
	cmd.Stdout = nil
	tail := newTailWriter(lines, inv.Program)
	cmd.Stderr = tail
	// Grandchildren may keep stderr open after sshuttle exits.
	cmd.WaitDelay = time.Second
	cmd.SysProcAttr = newSysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSpawn, err)
	}
	common.LogInfo("Tunnel: %s started with PID %d", inv.Program, cmd.Process.Pid)

	p := &execProcess{
		cmd:  cmd,
		tail: tail,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// execProcess is the sole caller of cmd.Wait; everyone else waits on done.
type execProcess struct {
	cmd  *exec.Cmd
	tail *tailWriter
	done chan struct{}
	err  error
}

func (p *execProcess) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Terminate() error {
	if p.exited() {
		return nil
	}
	return signalGroup(p.cmd.Process, false)
}

func (p *execProcess) Kill() error {
	if p.exited() {
		return nil
	}
	return signalGroup(p.cmd.Process, true)
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Exited() (bool, error) {
	if !p.exited() {
		return false, nil
	}
	return true, p.err
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) StderrTail() []string {
	return p.tail.Lines()
}

// maxPartialLine bounds an unterminated stderr line; only its end is kept.
const maxPartialLine = 4 << 10

// tailWriter keeps the last n complete lines written to it and logs each
// line at debug level.
type tailWriter struct {
	mu      sync.Mutex
	n       int
	prefix  string
	lines   []string
	partial []byte
}

func newTailWriter(n int, prefix string) *tailWriter {
	return &tailWriter{n: n, prefix: prefix}
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.partial[:i]), "\r")
		w.partial = w.partial[i+1:]
		if line == "" {
			continue
		}
		common.LogDebug("%s: %s", w.prefix, line)
		w.lines = append(w.lines, line)
		if len(w.lines) > w.n {
			w.lines = w.lines[len(w.lines)-w.n:]
		}
	}
	if len(w.partial) > maxPartialLine {
		w.partial = append([]byte(nil), w.partial[len(w.partial)-maxPartialLine:]...)
	}
	return len(b), nil
}

// Lines returns a copy of the captured lines, including an unterminated
// last line.
func (w *tailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, len(w.lines), len(w.lines)+1)
	copy(out, w.lines)
	if rest := strings.TrimSpace(string(w.partial)); rest != "" {
		out = append(out, rest)
	}
	return out
}

// describeExit renders an exit error the way the user sees it.
func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
