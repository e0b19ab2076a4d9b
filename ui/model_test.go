package ui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/macprox/tunnel"
)

type submitCall struct {
	label, host, port, user, password string
}

type fakeController struct {
	mu        sync.Mutex
	calls     []submitCall
	closes    int
	text      string
	connected bool
}

func (f *fakeController) Submit(_ context.Context, label, host, port, user, password string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{label, host, port, user, password})
	return f.text, f.connected
}

func (f *fakeController) Close() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return tunnel.StateIdle.String(), false
}

// run executes cmd and any batch it returns, collecting the messages.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func key(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

func typeText(m model, s string) model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(model)
}

func newTestModel(ctrl Controller, d Defaults) model {
	return newModel(context.Background(), "test", ctrl, nil, d)
}

func TestFocusCycles(t *testing.T) {
	m := newTestModel(&fakeController{}, Defaults{})
	if m.focus != fieldLabel {
		t.Fatalf("initial focus = %d", m.focus)
	}

	next, _ := m.Update(key(tea.KeyShiftTab))
	m = next.(model)
	if m.focus != fieldPassword {
		t.Errorf("shift+tab from first field = %d, want password", m.focus)
	}
	next, _ = m.Update(key(tea.KeyTab))
	m = next.(model)
	if m.focus != fieldLabel {
		t.Errorf("tab from last field = %d, want label", m.focus)
	}
	next, _ = m.Update(key(tea.KeyEnter))
	m = next.(model)
	if m.focus != fieldServer {
		t.Errorf("enter on label = %d, want server", m.focus)
	}
}

func TestSubmitPassesFormValues(t *testing.T) {
	ctrl := &fakeController{text: "Connected via sshuttle: work", connected: true}
	m := newTestModel(ctrl, Defaults{Label: "work", Host: "ssh.example.com", Port: "2222", Username: "bob"})
	m.focus = fieldPassword
	m.inputs[fieldLabel].Blur()
	m.inputs[fieldPassword].Focus()
	m = typeText(m, "s3cret")

	next, cmd := m.Update(key(tea.KeyEnter))
	m = next.(model)
	if !m.busy {
		t.Fatal("model should be busy while connecting")
	}

	var done *connectDoneMsg
	for _, msg := range run(cmd) {
		if d, ok := msg.(connectDoneMsg); ok {
			done = &d
		}
	}
	if done == nil {
		t.Fatal("no connectDoneMsg")
	}
	want := submitCall{"work", "ssh.example.com", "2222", "bob", "s3cret"}
	if len(ctrl.calls) != 1 || ctrl.calls[0] != want {
		t.Fatalf("Submit calls = %+v, want [%+v]", ctrl.calls, want)
	}

	next, _ = m.Update(*done)
	m = next.(model)
	if m.busy || !m.connected || m.failed {
		t.Errorf("after connect: busy=%v connected=%v failed=%v", m.busy, m.connected, m.failed)
	}
	if got := m.inputs[fieldPassword].Value(); got != "" {
		t.Errorf("password field = %q, want cleared", got)
	}
	if !strings.Contains(m.View(), "Connected via sshuttle: work") {
		t.Errorf("View does not show status:\n%s", m.View())
	}
}

func TestSubmitIgnoredWhileBusy(t *testing.T) {
	m := newTestModel(&fakeController{}, Defaults{})
	m.busy = true
	_, cmd := m.Update(key(tea.KeyCtrlS))
	if cmd != nil {
		t.Error("submit while busy should not issue a command")
	}
}

func TestFailedConnectKeepsPassword(t *testing.T) {
	m := newTestModel(&fakeController{}, Defaults{})
	m.inputs[fieldPassword].SetValue("pw")
	m.busy = true

	next, _ := m.Update(connectDoneMsg{text: "Connection failed: exit status 255"})
	m = next.(model)
	if !m.failed || m.connected {
		t.Errorf("failed=%v connected=%v", m.failed, m.connected)
	}
	if m.inputs[fieldPassword].Value() != "pw" {
		t.Error("password should be kept for a retry")
	}
}

func TestDisconnect(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl, Defaults{})
	m.connected = true

	next, cmd := m.Update(key(tea.KeyCtrlD))
	m = next.(model)
	for _, msg := range run(cmd) {
		if d, ok := msg.(disconnectDoneMsg); ok {
			next, _ = m.Update(d)
			m = next.(model)
		}
	}
	if ctrl.closes != 1 {
		t.Errorf("Close called %d times", ctrl.closes)
	}
	if m.connected || m.busy || m.status != "Disconnected" {
		t.Errorf("after disconnect: connected=%v busy=%v status=%q", m.connected, m.busy, m.status)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		m := newTestModel(&fakeController{}, Defaults{})
		_, cmd := m.Update(key(k))
		msgs := run(cmd)
		if len(msgs) != 1 {
			t.Fatalf("%v: got %d messages", k, len(msgs))
		}
		if _, ok := msgs[0].(tea.QuitMsg); !ok {
			t.Errorf("%v: got %T, want tea.QuitMsg", k, msgs[0])
		}
	}
}

func TestStatusMessagesRearm(t *testing.T) {
	ch := make(chan tunnel.Status, 2)
	m := newModel(context.Background(), "test", &fakeController{}, ch, Defaults{})

	ch <- tunnel.Status{State: tunnel.StateIdle, Text: "Tunnel exited: exit status 1"}
	next, cmd := m.Update(statusMsg(<-ch))
	m = next.(model)
	if !m.failed || m.status != "Tunnel exited: exit status 1" {
		t.Errorf("failed=%v status=%q", m.failed, m.status)
	}
	if cmd == nil {
		t.Fatal("status listener was not re-armed")
	}

	ch <- tunnel.Status{State: tunnel.StateConnected, Text: "Tunnel degraded: work", Connected: true}
	msgs := run(cmd)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if st, ok := msgs[0].(statusMsg); !ok || st.Text != "Tunnel degraded: work" {
		t.Errorf("got %#v", msgs[0])
	}
}

func TestWaitForStatusClosed(t *testing.T) {
	if waitForStatus(nil) != nil {
		t.Error("nil channel should give a nil command")
	}
	ch := make(chan tunnel.Status)
	close(ch)
	if msg := waitForStatus(ch)(); msg != nil {
		t.Errorf("closed channel gave %#v", msg)
	}
}

func TestIsFailure(t *testing.T) {
	tests := []struct {
		name   string
		status tunnel.Status
		want   bool
	}{
		{"connecting", tunnel.Status{State: tunnel.StateConnecting, Text: "Connecting to work..."}, false},
		{"disconnected", tunnel.Status{State: tunnel.StateIdle, Text: "Disconnected"}, false},
		{"connected", tunnel.Status{State: tunnel.StateConnected, Text: "Connected via sshuttle: work", Connected: true}, false},
		{"degraded", tunnel.Status{State: tunnel.StateConnected, Text: "Tunnel degraded: work", Connected: true}, false},
		{"unhealthy", tunnel.Status{State: tunnel.StateConnected, Text: "Tunnel unhealthy: work", Connected: true}, true},
		{"failed", tunnel.Status{State: tunnel.StateIdle, Text: "Connection failed: exit status 255"}, true},
		{"validation", tunnel.Status{State: tunnel.StateIdle, Text: "Server and Username required"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFailure(tt.status); got != tt.want {
				t.Errorf("isFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}
