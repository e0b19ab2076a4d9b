// Package notify shows desktop notifications for tunnel events over the
// freedesktop D-Bus notification service.
package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/tunnel"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	method     = busName + ".Notify"

	// expireTimeout is in milliseconds.
	expireTimeout = int32(5000)
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

// icon returns the explicit icon or the default for the type.
func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case NotificationSuccess:
		return "network-vpn"
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// urgency maps the type to the freedesktop urgency hint.
func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return 2
	case NotificationWarning:
		return 1
	default:
		return 0
	}
}

// DBusNotifier sends notifications on the session bus. It implements
// common.Notifier.
type DBusNotifier struct {
	obj     dbus.BusObject
	appName string

	mu     sync.Mutex
	lastID uint32
}

var _ common.Notifier = (*DBusNotifier)(nil)

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", common.ErrUnsupported, err)
	}
	return &DBusNotifier{
		obj:     conn.Object(busName, dbus.ObjectPath(objectPath)),
		appName: common.AppName,
	}, nil
}

// Notify sends a notification with the default icon.
func (d *DBusNotifier) Notify(title, message string) error {
	return d.Show(Notification{Title: title, Message: message})
}

// NotifyWithIcon sends a notification with a custom icon.
func (d *DBusNotifier) NotifyWithIcon(title, message, icon string) error {
	return d.Show(Notification{Title: title, Message: message, Icon: icon})
}

// Show sends n, replacing the previous notification so a connect sequence
// does not stack popups.
func (d *DBusNotifier) Show(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(n.urgency()),
	}
	call := d.obj.Call(method, 0,
		d.appName, d.lastID, n.icon(), n.Title, n.Message,
		[]string{}, hints, expireTimeout)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	d.lastID = id
	return nil
}

// presenter is what the Sink needs from a notifier.
type presenter interface {
	Show(Notification) error
}

// notifierPresenter adapts a plain common.Notifier.
type notifierPresenter struct {
	n common.Notifier
}

func (p notifierPresenter) Show(n Notification) error {
	if n.Icon != "" {
		return p.n.NotifyWithIcon(n.Title, n.Message, n.Icon)
	}
	return p.n.Notify(n.Title, n.Message)
}

// Sink turns tunnel statuses into notifications. It implements
// tunnel.Reporter and delivers from a background goroutine.
type Sink struct {
	p presenter

	mu     sync.Mutex
	closed bool
	ch     chan Notification
	done   chan struct{}
}

// NewSink starts a Sink that shows notifications through n.
func NewSink(n common.Notifier) *Sink {
	var p presenter = notifierPresenter{n: n}
	if d, ok := n.(*DBusNotifier); ok {
		p = d
	}
	s := &Sink{
		p:    p,
		ch:   make(chan Notification, 8),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for n := range s.ch {
		if err := s.p.Show(n); err != nil {
			common.LogDebug("Error showing notification: %v", err)
		}
	}
}

// Report implements tunnel.Reporter.
func (s *Sink) Report(st tunnel.Status) {
	n, ok := FromStatus(st)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- n:
	default:
	}
}

// Close stops the sink after the queued notifications are shown.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}

// FromStatus picks the notification for a status, if it deserves one.
// Intermediate states are not shown.
func FromStatus(st tunnel.Status) (Notification, bool) {
	switch {
	case strings.HasPrefix(st.Text, "Tunnel healthy"):
		return Notification{}, false
	case strings.HasPrefix(st.Text, "Tunnel degraded"), strings.HasPrefix(st.Text, "Tunnel unhealthy"):
		return Notification{
			Title:   "Tunnel Health",
			Message: st.Text,
			Type:    NotificationWarning,
		}, true
	case st.Connected:
		return Notification{
			Title:   "Tunnel Connected",
			Message: st.Text,
			Type:    NotificationSuccess,
			Icon:    "network-vpn",
		}, true
	case st.State == tunnel.StateConnecting, st.State == tunnel.StateDisconnecting:
		return Notification{}, false
	case st.Text == tunnel.StateIdle.String():
		return Notification{
			Title:   "Tunnel Disconnected",
			Message: "Traffic is no longer routed through the tunnel",
			Type:    NotificationInfo,
			Icon:    "network-vpn-disconnected",
		}, true
	case strings.HasPrefix(st.Text, "Already connected"):
		return Notification{
			Title:   "Tunnel Active",
			Message: st.Text,
			Type:    NotificationWarning,
		}, true
	default:
		return Notification{
			Title:   "Connection Error",
			Message: st.Text,
			Type:    NotificationError,
			Icon:    "network-vpn-error",
		}, true
	}
}
