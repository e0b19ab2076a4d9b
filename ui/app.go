package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/tunnel"
)

// Controller is the front-end boundary of the tunnel controller.
type Controller interface {
	Submit(ctx context.Context, label, host, portText, username, password string) (string, bool)
	Close() (string, bool)
}

// Defaults prefill the form.
type Defaults struct {
	Label    string
	Host     string
	Port     string
	Username string
}

// App represents the terminal application.
type App struct {
	version string
	ctrl    Controller
	program *tea.Program
	cancel  context.CancelFunc
}

// New creates the application. statuses may be nil.
func New(ctx context.Context, version string, ctrl Controller, statuses <-chan tunnel.Status, defaults Defaults) *App {
	ctx, cancel := context.WithCancel(ctx)
	m := newModel(ctx, version, ctrl, statuses, defaults)
	return &App{
		version: version,
		ctrl:    ctrl,
		program: tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)),
		cancel:  cancel,
	}
}

// Run starts the TUI and blocks until it exits. The tunnel is always
// disconnected afterwards.
func (a *App) Run() error {
	common.LogInfo("Starting %s v%s (terminal UI)", common.AppName, a.version)
	_, err := a.program.Run()
	// Abort an attempt still in its grace period, then tear down.
	a.cancel()
	a.ctrl.Close()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
