package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/tunnel"
)

// Form fields in focus order.
const (
	fieldLabel = iota
	fieldServer
	fieldPort
	fieldUsername
	fieldPassword
	fieldCount
)

var fieldNames = [fieldCount]string{"Label", "Server", "Port", "Username", "Password"}

// statusMsg carries a status transition from the controller.
type statusMsg tunnel.Status

// connectDoneMsg is sent when a submit returns.
type connectDoneMsg struct {
	text      string
	connected bool
}

// disconnectDoneMsg is sent when a disconnect returns.
type disconnectDoneMsg struct {
	text string
}

type model struct {
	ctx      context.Context
	version  string
	ctrl     Controller
	statuses <-chan tunnel.Status

	inputs  []textinput.Model
	focus   int
	spinner spinner.Model

	// busy is set while a submit or disconnect is in flight.
	busy      bool
	connected bool
	failed    bool
	status    string
	width     int
}

func newModel(ctx context.Context, version string, ctrl Controller, statuses <-chan tunnel.Status, d Defaults) model {
	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 256
		inputs[i] = ti
	}
	inputs[fieldLabel].Placeholder = "optional display name"
	inputs[fieldServer].Placeholder = "ssh.example.com"
	inputs[fieldPort].Placeholder = "22"
	inputs[fieldPort].CharLimit = 5
	inputs[fieldUsername].Placeholder = "user"
	inputs[fieldPassword].Placeholder = "empty for key-based auth"
	inputs[fieldPassword].EchoMode = textinput.EchoPassword
	inputs[fieldPassword].EchoCharacter = '•'

	inputs[fieldLabel].SetValue(d.Label)
	inputs[fieldServer].SetValue(d.Host)
	inputs[fieldPort].SetValue(d.Port)
	inputs[fieldUsername].SetValue(d.Username)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusBusyStyle

	m := model{
		ctx:      ctx,
		version:  version,
		ctrl:     ctrl,
		statuses: statuses,
		inputs:   inputs,
		spinner:  sp,
		status:   tunnel.StateIdle.String(),
	}
	m.inputs[m.focus].Focus()
	return m
}

// waitForStatus re-arms after every status; it returns nil once the
// channel is closed.
func waitForStatus(ch <-chan tunnel.Status) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(st)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForStatus(m.statuses))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		m.status = msg.Text
		m.connected = msg.Connected
		m.failed = isFailure(tunnel.Status(msg))
		return m, waitForStatus(m.statuses)

	case connectDoneMsg:
		m.busy = false
		m.status = msg.text
		m.connected = msg.connected
		m.failed = !msg.connected
		if msg.connected {
			// The password is only needed for the attempt that used it.
			m.inputs[fieldPassword].SetValue("")
		}
		return m, nil

	case disconnectDoneMsg:
		m.busy = false
		m.status = msg.text
		m.connected = false
		m.failed = false
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m.updateFocused(msg)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab", "down":
		return m.moveFocus(1)
	case "shift+tab", "up":
		return m.moveFocus(-1)
	case "enter":
		if m.focus < fieldCount-1 {
			return m.moveFocus(1)
		}
		return m.submit()
	case "ctrl+s":
		return m.submit()
	case "ctrl+d":
		return m.disconnect()
	}
	if m.busy {
		// The form is frozen while an attempt is in flight.
		return m, nil
	}
	return m.updateFocused(msg)
}

func (m model) moveFocus(delta int) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + fieldCount) % fieldCount
	return m, m.inputs[m.focus].Focus()
}

func (m model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.failed = false
	ctx, ctrl := m.ctx, m.ctrl
	label := m.inputs[fieldLabel].Value()
	host := m.inputs[fieldServer].Value()
	port := m.inputs[fieldPort].Value()
	user := m.inputs[fieldUsername].Value()
	password := m.inputs[fieldPassword].Value()

	connect := func() tea.Msg {
		text, connected := ctrl.Submit(ctx, label, host, port, user, password)
		return connectDoneMsg{text: text, connected: connected}
	}
	return m, tea.Batch(connect, m.spinner.Tick)
}

func (m model) disconnect() (tea.Model, tea.Cmd) {
	// Allowed while busy: it aborts an attempt in its grace period.
	m.busy = true
	ctrl := m.ctrl
	closeCmd := func() tea.Msg {
		text, _ := ctrl.Close()
		return disconnectDoneMsg{text: text}
	}
	return m, tea.Batch(closeCmd, m.spinner.Tick)
}

// isFailure reports whether a status line describes an error.
func isFailure(st tunnel.Status) bool {
	if st.Connected {
		return strings.HasPrefix(st.Text, "Tunnel unhealthy")
	}
	switch {
	case st.State == tunnel.StateConnecting, st.State == tunnel.StateDisconnecting:
		return false
	case st.Text == tunnel.StateIdle.String():
		return false
	}
	return true
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s v%s", common.AppName, m.version)))
	b.WriteString("\n")

	for i, in := range m.inputs {
		style := labelStyle
		if i == m.focus {
			style = focusedLabelStyle
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, style.Render(fieldNames[i]), " ", in.View()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.statusLine())

	help := "tab: next field • enter/ctrl+s: connect • ctrl+d: disconnect • esc: quit"
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(help))

	return boxStyle.Render(b.String()) + "\n"
}

func (m model) statusLine() string {
	switch {
	case m.busy:
		return m.spinner.View() + " " + statusBusyStyle.Render(m.status)
	case m.failed:
		return statusErrorStyle.Render("✗ " + m.status)
	case m.connected:
		return statusConnectedStyle.Render("● " + m.status)
	default:
		return statusIdleStyle.Render("○ " + m.status)
	}
}
