package tunnel

import "fmt"

// OutcomeKind classifies the result of a connect attempt.
type OutcomeKind int

const (
	// OutcomeConnected means the tunnel survived startup and is committed.
	OutcomeConnected OutcomeKind = iota
	// OutcomeFailed means the attempt ended without a tunnel.
	OutcomeFailed
	// OutcomeAlreadyConnected means the attempt was rejected untouched.
	OutcomeAlreadyConnected
)

// String returns a human-readable representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConnected:
		return "Connected"
	case OutcomeFailed:
		return "Failed"
	case OutcomeAlreadyConnected:
		return "AlreadyConnected"
	default:
		return "Unknown"
	}
}

// Outcome is the terminal result of one Connect call.
type Outcome struct {
	Kind        OutcomeKind
	DisplayName string
	// Reason is the user-facing failure text for OutcomeFailed.
	Reason string
	// Err carries the classified cause; check it with errors.Is against the
	// common lifecycle sentinels.
	Err error
}

// Connected reports whether the attempt produced a live tunnel.
func (o Outcome) Connected() bool {
	return o.Kind == OutcomeConnected
}

// Message renders the status line shown to the user.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeConnected:
		return fmt.Sprintf("Connected via sshuttle: %s", o.DisplayName)
	case OutcomeAlreadyConnected:
		return "Already connected. Disconnect first."
	default:
		return o.Reason
	}
}
