package tunnel

import (
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "Disconnected"},
		{StateConnecting, "Connecting..."},
		{StateConnected, "Connected"},
		{StateDisconnecting, "Disconnecting..."},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestOutcome_Message(t *testing.T) {
	tests := []struct {
		out  Outcome
		want string
	}{
		{Outcome{Kind: OutcomeConnected, DisplayName: "lab"}, "Connected via sshuttle: lab"},
		{Outcome{Kind: OutcomeAlreadyConnected}, "Already connected. Disconnect first."},
		{Outcome{Kind: OutcomeFailed, Reason: "Connection failed: exit status 1"}, "Connection failed: exit status 1"},
	}

	for _, tt := range tests {
		t.Run(tt.out.Kind.String(), func(t *testing.T) {
			if got := tt.out.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBroadcaster(t *testing.T) {
	var first, second []string
	b := NewBroadcaster(ReporterFunc(func(s Status) { first = append(first, s.Text) }))
	b.Add(ReporterFunc(func(s Status) { second = append(second, s.Text) }))

	if got := b.Last(); got.State != StateIdle || got.Text != "Disconnected" {
		t.Errorf("initial Last() = %+v", got)
	}

	b.Report(Status{State: StateConnecting, Text: "Connecting to lab..."})
	b.Report(Status{State: StateConnected, Text: "Connected via sshuttle: lab", Connected: true})

	if len(first) != 2 || len(second) != 2 || first[1] != second[1] {
		t.Errorf("sinks saw %v and %v", first, second)
	}
	if got := b.Last(); !got.Connected {
		t.Errorf("Last() = %+v, want the connected status", got)
	}
}

func TestChanSink_DropsWhenFull(t *testing.T) {
	sink := NewChanSink(1)

	sink.Report(Status{Text: "one"})
	sink.Report(Status{Text: "two"})

	if got := (<-sink.C).Text; got != "one" {
		t.Errorf("received %q, want one", got)
	}
	select {
	case s := <-sink.C:
		t.Errorf("unexpected status %q", s.Text)
	default:
	}
}
