package tunnel

import (
	"sync"
	"time"
)

// State is the lifecycle state of the managed tunnel.
type State int

const (
	// StateIdle indicates no tunnel and nothing in flight.
	StateIdle State = iota
	// StateConnecting indicates a connect attempt owns the Handle.
	StateConnecting
	// StateConnected indicates a committed, running tunnel.
	StateConnected
	// StateDisconnecting indicates a teardown is in progress.
	StateDisconnecting
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// Status is one transition pushed to the front end.
type Status struct {
	State State
	// Text is the human-readable status line.
	Text string
	// Connected is flipped only once a tunnel survived the startup probe.
	Connected bool
	Time      time.Time
}

// Reporter is a passive sink for status transitions. Implementations must
// not block: Report is called from connect and disconnect sequences.
type Reporter interface {
	Report(Status)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Status)

// Report calls f(s).
func (f ReporterFunc) Report(s Status) { f(s) }

// Discard is a Reporter that drops everything.
var Discard Reporter = ReporterFunc(func(Status) {})

// Broadcaster remembers the last status and forwards every status to its
// sinks in registration order.
type Broadcaster struct {
	mu    sync.Mutex
	last  Status
	sinks []Reporter
}

// NewBroadcaster creates a Broadcaster with the given sinks.
func NewBroadcaster(sinks ...Reporter) *Broadcaster {
	return &Broadcaster{
		last:  Status{State: StateIdle, Text: StateIdle.String()},
		sinks: sinks,
	}
}

// Add registers another sink.
func (b *Broadcaster) Add(r Reporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, r)
}

// Report records s and forwards it.
func (b *Broadcaster) Report(s Status) {
	b.mu.Lock()
	b.last = s
	sinks := make([]Reporter, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Report(s)
	}
}

// Last returns the most recent status.
func (b *Broadcaster) Last() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// ChanSink delivers statuses on a buffered channel and drops them when the
// consumer falls behind.
type ChanSink struct {
	C chan Status
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{C: make(chan Status, size)}
}

// Report implements Reporter.
func (c *ChanSink) Report(s Status) {
	select {
	case c.C <- s:
	default:
	}
}
