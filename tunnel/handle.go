package tunnel

import (
	"sync"
	"time"

	"github.com/yllada/macprox/common"
)

// Handle is the exclusive-access slot for the resources of the one managed
// tunnel: at most one live process and at most one askpass helper path.
//
// Every method holds the same mutex for its whole duration and none of them
// block on I/O, so resources move in and out atomically. Take methods clear
// the slot and hand ownership to the caller; nothing else can act on the
// same resource afterwards.
//
// The attempt counter identifies the connect sequence that currently owns
// the Handle. Teardowns bump it, which invalidates any attempt still in
// flight. A superseded attempt may still hold a process it spawned but
// could not attach, so attempts are also counted until End, and the Handle
// admits no new attempt and does not settle to idle while any is left.
type Handle struct {
	mu      sync.Mutex
	proc    Process
	helper  string
	state   State
	attempt uint64
	// teardowns counts disconnects still stopping a process.
	teardowns int
	// inflight counts attempts between Begin and End.
	inflight int
	drained  []chan struct{}

	// Set on commit.
	name  string
	since time.Time
}

// NewHandle returns an idle, empty Handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Store puts p in the slot and returns the process it displaced, if any.
// The caller owns a displaced process and must stop it.
func (h *Handle) Store(p Process) Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.proc
	h.proc = p
	return prev
}

// TakeProcess empties the process slot and returns what it held.
func (h *Handle) TakeProcess() Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.proc
	h.proc = nil
	return p
}

// StoreHelper puts path in the helper slot and returns the path it
// displaced, if any.
func (h *Handle) StoreHelper(path string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.helper
	h.helper = path
	return prev
}

// TakeHelper empties the helper slot and returns what it held.
func (h *Handle) TakeHelper() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	path := h.helper
	h.helper = ""
	return path
}

// TakeAll empties both slots at once. Taking them together keeps a second
// teardown from erasing the helper while the first is still stopping the
// process.
func (h *Handle) TakeAll() (Process, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.takeAllLocked()
}

func (h *Handle) takeAllLocked() (Process, string) {
	p, path := h.proc, h.helper
	h.proc, h.helper = nil, ""
	h.name, h.since = "", time.Time{}
	return p, path
}

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Connected reports whether a committed tunnel is running.
func (h *Handle) Connected() bool {
	return h.State() == StateConnected
}

// Info describes the committed tunnel.
type Info struct {
	State State
	Name  string
	Since time.Time
	Pid   int
}

// Info returns a snapshot of the slot.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := Info{State: h.state, Name: h.name, Since: h.since}
	if h.proc != nil {
		info.Pid = h.proc.Pid()
	}
	return info
}

// Begin claims the Handle for a new connect attempt and returns its
// number. It fails with common.ErrAlreadyConnected while a tunnel is up or
// being set up, and with common.ErrDisconnecting during a teardown or while
// an earlier attempt is still cleaning up. Every successful Begin must be
// paired with End.
func (h *Handle) Begin() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateConnected, StateConnecting:
		return 0, common.ErrAlreadyConnected
	case StateDisconnecting:
		return 0, common.ErrDisconnecting
	}
	if h.inflight > 0 {
		return 0, common.ErrDisconnecting
	}
	h.attempt++
	h.inflight++
	h.state = StateConnecting
	return h.attempt, nil
}

// End marks an attempt as finished: everything it spawned has been
// attached, committed or stopped.
func (h *Handle) End() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight > 0 {
		h.inflight--
	}
	if h.inflight == 0 {
		for _, ch := range h.drained {
			close(ch)
		}
		h.drained = nil
	}
}

// Drained returns a channel that is closed once no attempt is in flight.
func (h *Handle) Drained() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	if h.inflight == 0 {
		close(ch)
		return ch
	}
	h.drained = append(h.drained, ch)
	return ch
}

// current reports whether attempt still owns the Handle.
func (h *Handle) current(attempt uint64) bool {
	return h.attempt == attempt && h.state == StateConnecting
}

// Attach stores p and its helper path, which may be empty, for attempt.
// Both go in together so whoever later takes the process also takes the
// helper it depends on. It returns false, storing nothing, when the attempt
// has been superseded; the caller then still owns both.
func (h *Handle) Attach(attempt uint64, p Process, path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.current(attempt) || h.proc != nil || h.helper != "" {
		return false
	}
	h.proc = p
	h.helper = path
	return true
}

// Owns reports whether p is the stored process.
func (h *Handle) Owns(p Process) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return p != nil && h.proc == p
}

// Commit marks attempt as connected if it still owns the Handle and p is
// still the stored process.
func (h *Handle) Commit(attempt uint64, p Process, name string, at time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.current(attempt) || h.proc != p {
		return false
	}
	h.state = StateConnected
	h.name, h.since = name, at
	return true
}

// Release ends a failed attempt. It takes p and path only if they are still
// the stored resources, returns the Handle to idle if attempt still owns
// it, and hands whatever it took to the caller for teardown. A stale
// attempt therefore never tears down a newer tunnel.
func (h *Handle) Release(attempt uint64, p Process, path string) (Process, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var tookProc Process
	var tookPath string
	if p != nil && h.proc == p {
		tookProc = p
		h.proc = nil
	}
	if path != "" && h.helper == path {
		tookPath = path
		h.helper = ""
	}
	if h.current(attempt) {
		h.state = StateIdle
	}
	return tookProc, tookPath
}

// Reclaim is used when p exited on its own. If p is still the stored
// process it empties the Handle, returns it to idle and hands back the
// helper path.
func (h *Handle) Reclaim(p Process) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p == nil || h.proc != p {
		return "", false
	}
	_, path := h.takeAllLocked()
	h.attempt++
	h.state = StateIdle
	return path, true
}

// BeginTeardown invalidates any attempt in flight, moves to disconnecting
// and takes both resources. Every call must be paired with Settle.
func (h *Handle) BeginTeardown() (Process, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempt++
	h.teardowns++
	h.state = StateDisconnecting
	return h.takeAllLocked()
}

// Settle ends a teardown. The Handle returns to idle once no teardown and
// no attempt is left in progress.
func (h *Handle) Settle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.teardowns > 0 {
		h.teardowns--
	}
	if h.teardowns == 0 && h.inflight == 0 && h.state == StateDisconnecting {
		h.state = StateIdle
	}
}
