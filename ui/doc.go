// Package ui provides the terminal user interface for MacProx.
//
// The interface is a single form with the connection fields (label,
// server, port, username and optional password) and a status line, built
// on bubbletea.
//
// # Architecture
//
//   - App: program lifecycle; disconnects the tunnel on exit
//   - model: the form state machine
//   - styles.go: lipgloss styles
//
// # Thread Safety
//
// Connect and disconnect block, so they never run inside Update. They are
// issued as tea.Cmds and their results come back as messages; status
// transitions from the controller arrive the same way through a
// tunnel.ChanSink.
package ui
