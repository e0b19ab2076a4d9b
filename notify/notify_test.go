package notify

import (
	"sync"
	"testing"

	"github.com/yllada/macprox/tunnel"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name  string
		st    tunnel.Status
		show  bool
		title string
		typ   NotificationType
	}{
		{"connecting", tunnel.Status{State: tunnel.StateConnecting, Text: "Connecting to lab..."}, false, "", 0},
		{"connected", tunnel.Status{State: tunnel.StateConnected, Text: "Connected via sshuttle: lab", Connected: true}, true, "Tunnel Connected", NotificationSuccess},
		{"disconnected", tunnel.Status{State: tunnel.StateIdle, Text: "Disconnected"}, true, "Tunnel Disconnected", NotificationInfo},
		{"early exit", tunnel.Status{State: tunnel.StateIdle, Text: "Connection failed: exit status 1"}, true, "Connection Error", NotificationError},
		{"health", tunnel.Status{State: tunnel.StateConnected, Text: "Tunnel degraded: lab", Connected: true}, true, "Tunnel Health", NotificationWarning},
		{"healthy", tunnel.Status{State: tunnel.StateConnected, Text: "Tunnel healthy: lab", Connected: true}, false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := FromStatus(tt.st)
			if ok != tt.show {
				t.Fatalf("FromStatus() shown = %v, want %v", ok, tt.show)
			}
			if !ok {
				return
			}
			if n.Title != tt.title || n.Type != tt.typ {
				t.Errorf("FromStatus() = %+v, want %q type %d", n, tt.title, tt.typ)
			}
		})
	}
}

func TestNotification_Defaults(t *testing.T) {
	tests := []struct {
		n       Notification
		icon    string
		urgency byte
	}{
		{Notification{Type: NotificationInfo}, "network-vpn", 0},
		{Notification{Type: NotificationWarning}, "dialog-warning", 1},
		{Notification{Type: NotificationError}, "dialog-error", 2},
		{Notification{Type: NotificationError, Icon: "custom"}, "custom", 2},
	}

	for _, tt := range tests {
		if got := tt.n.icon(); got != tt.icon {
			t.Errorf("icon() = %q, want %q", got, tt.icon)
		}
		if got := tt.n.urgency(); got != tt.urgency {
			t.Errorf("urgency() = %d, want %d", got, tt.urgency)
		}
	}
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Notify(title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeNotifier) NotifyWithIcon(title, message, icon string) error {
	return f.Notify(title, message)
}

func TestSink(t *testing.T) {
	f := &fakeNotifier{}
	sink := NewSink(f)

	sink.Report(tunnel.Status{State: tunnel.StateConnecting, Text: "Connecting to lab..."})
	sink.Report(tunnel.Status{State: tunnel.StateConnected, Text: "Connected via sshuttle: lab", Connected: true})
	sink.Report(tunnel.Status{State: tunnel.StateIdle, Text: "Disconnected"})
	sink.Close()
	sink.Report(tunnel.Status{State: tunnel.StateIdle, Text: "Disconnected"})

	f.mu.Lock()
	defer f.mu.Unlock()
	want := []string{"Tunnel Connected", "Tunnel Disconnected"}
	if len(f.titles) != len(want) || f.titles[0] != want[0] || f.titles[1] != want[1] {
		t.Errorf("titles = %v, want %v", f.titles, want)
	}
}
