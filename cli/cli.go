// Package cli provides command-line interface functionality for MacProx.
// This allows users to bring a tunnel up from the terminal or a script
// without launching the terminal UI.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/history"
	"github.com/yllada/macprox/tunnel"
)

// Tunnel is the part of the controller the CLI drives.
type Tunnel interface {
	Connect(ctx context.Context, req tunnel.Request) tunnel.Outcome
	Disconnect()
	Info() tunnel.Info
}

// HistoryReader lists recorded events.
type HistoryReader interface {
	Recent(ctx context.Context, n int) ([]history.Event, error)
}

// ConnectOptions are the connect flags.
type ConnectOptions struct {
	Label    string
	Host     string
	Port     string
	Username string
	// PasswordStdin reads the password from the first line of stdin.
	PasswordStdin bool
	// AskPassword prompts on the terminal without echo.
	AskPassword bool
	// UseSaved takes the password from the credential store.
	UseSaved bool
	// SavePassword stores the password after a successful connect.
	SavePassword bool
}

// CLI represents the command-line interface.
type CLI struct {
	tunnel      Tunnel
	credentials common.CredentialStore
	history     HistoryReader
	statuses    <-chan tunnel.Status

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	// readSecret reads a password from the terminal.
	readSecret func() (string, error)
	now        func() time.Time
}

// Deps are the optional collaborators of a CLI.
type Deps struct {
	Credentials common.CredentialStore
	History     HistoryReader
	// Statuses delivers status transitions while Connect waits.
	Statuses <-chan tunnel.Status
}

// New creates a new CLI instance.
func New(t Tunnel, deps Deps) *CLI {
	return &CLI{
		tunnel:      t,
		credentials: deps.Credentials,
		history:     deps.History,
		statuses:    deps.Statuses,
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		readSecret:  readTerminalPassword,
		now:         time.Now,
	}
}

// Connect brings the tunnel up and blocks until ctx is done or the tunnel
// exits on its own. The tunnel is always disconnected before returning.
func (c *CLI) Connect(ctx context.Context, opts ConnectOptions) error {
	req := tunnel.NewRequest(opts.Label, opts.Host, opts.Port, opts.Username, "")
	if err := req.Validate(); err != nil {
		return err
	}

	password, err := c.resolvePassword(req, opts)
	if err != nil {
		return err
	}
	req.Password = password

	fmt.Fprintf(c.out, "Connecting to %s...\n", req.DisplayName())
	out := c.tunnel.Connect(ctx, req)
	if !out.Connected() {
		if out.Err != nil {
			return fmt.Errorf("%s: %w", out.Message(), out.Err)
		}
		return errors.New(out.Message())
	}
	fmt.Fprintf(c.out, "✓ %s\n", out.Message())

	if opts.SavePassword && req.HasPassword() {
		if err := c.savePassword(req.Key(), password); err != nil {
			fmt.Fprintf(c.errOut, "Warning: %v\n", err)
		}
	}

	fmt.Fprintln(c.out, "Press Ctrl+C to disconnect.")
	return c.waitAndDisconnect(ctx)
}

func (c *CLI) waitAndDisconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "Disconnecting...")
			c.tunnel.Disconnect()
			fmt.Fprintln(c.out, "✓ Disconnected")
			return nil
		case st, ok := <-c.statuses:
			if !ok {
				c.statuses = nil
				continue
			}
			if st.State == tunnel.StateIdle && strings.HasPrefix(st.Text, "Tunnel exited") {
				c.tunnel.Disconnect()
				return errors.New(st.Text)
			}
			// Health transitions.
			if st.State == tunnel.StateConnected && strings.HasPrefix(st.Text, "Tunnel ") {
				fmt.Fprintln(c.out, st.Text)
			}
		}
	}
}

// resolvePassword picks the password source from the flags. At most one
// source may be set; none means key-based authentication.
func (c *CLI) resolvePassword(req tunnel.Request, opts ConnectOptions) (string, error) {
	n := 0
	for _, set := range []bool{opts.PasswordStdin, opts.AskPassword, opts.UseSaved} {
		if set {
			n++
		}
	}
	if n > 1 {
		return "", errors.New("--password-stdin, --ask-password and --use-saved are mutually exclusive")
	}

	switch {
	case opts.PasswordStdin:
		line, err := bufio.NewReader(c.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password from stdin: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return "", errors.New("empty password on stdin")
		}
		return password, nil
	case opts.AskPassword:
		fmt.Fprintf(c.errOut, "Password for %s: ", req.Remote())
		password, err := c.readSecret()
		fmt.Fprintln(c.errOut)
		if err != nil {
			return "", err
		}
		return password, nil
	case opts.UseSaved:
		if c.credentials == nil {
			return "", common.ErrCredentialsNotFound
		}
		password, err := c.credentials.Get(req.Key())
		if err != nil {
			return "", fmt.Errorf("no saved password for %s: %w", req.Key(), err)
		}
		return password, nil
	}
	if c.credentials != nil && c.credentials.Exists(req.Key()) {
		fmt.Fprintf(c.errOut, "Note: a password is saved for %s; pass --use-saved to use it\n", req.Key())
	}
	return "", nil
}

func (c *CLI) savePassword(key, password string) error {
	if c.credentials == nil {
		return errors.New("no credential store available")
	}
	if err := c.credentials.Store(key, password); err != nil {
		return fmt.Errorf("could not save password: %w", err)
	}
	fmt.Fprintf(c.out, "Password saved for %s\n", key)
	return nil
}

// ForgetPassword removes a saved password.
func (c *CLI) ForgetPassword(opts ConnectOptions) error {
	req := tunnel.NewRequest(opts.Label, opts.Host, opts.Port, opts.Username, "")
	if err := req.Validate(); err != nil {
		return err
	}
	if c.credentials == nil {
		return errors.New("no credential store available")
	}
	if err := c.credentials.Delete(req.Key()); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Forgot password for %s\n", req.Key())
	return nil
}

// Status shows the most recent recorded tunnel event. Tunnels are owned by
// the process that started them, so this reads the history store.
func (c *CLI) Status(ctx context.Context) error {
	if info := c.tunnel.Info(); info.State == tunnel.StateConnected {
		fmt.Fprintf(c.out, "Connected to %s (PID %d, up %s)\n",
			info.Name, info.Pid, formatDuration(c.now().Sub(info.Since)))
		return nil
	}
	if c.history == nil {
		fmt.Fprintln(c.out, "No tunnel history available.")
		return nil
	}

	events, err := c.history.Recent(ctx, 1)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No tunnel activity recorded.")
		return nil
	}
	last := events[0]
	if last.Connected {
		fmt.Fprintf(c.out, "%s (up %s)\n", last.Text, formatDuration(c.now().Sub(last.Time)))
		return nil
	}
	fmt.Fprintf(c.out, "%s (%s)\n", last.Text, humanize.RelTime(last.Time, c.now(), "ago", "from now"))
	return nil
}

// History prints the last n recorded events.
func (c *CLI) History(ctx context.Context, n int) error {
	if c.history == nil {
		return errors.New("history is disabled")
	}
	events, err := c.history.Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No tunnel activity recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSTATE\tSTATUS")
	fmt.Fprintln(w, "----\t-----\t------")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			humanize.RelTime(e.Time, c.now(), "ago", "from now"), e.State, e.Text)
	}
	return w.Flush()
}

func readTerminalPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--ask-password needs a terminal; use --password-stdin instead")
	}
	b, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`MacProx - route all traffic through an SSH server with sshuttle

Usage:
  macprox [OPTIONS]

Options:
  --host HOST         SSH server to tunnel through
  --port PORT         SSH port (default 22)
  --user USER         SSH username
  --label NAME        Display name for the connection
  --password-stdin    Read the SSH password from the first line of stdin
  --ask-password      Prompt for the SSH password
  --use-saved         Use the password saved for user@host:port
  --save-password     Save the password after a successful connect
  --forget-password   Remove the saved password for user@host:port
  --status            Show the last tunnel status
  --history N         Show the last N tunnel events
  --tui               Launch the terminal UI (default without --host)
  --config PATH       Use an alternate configuration file
  --verbose           Enable verbose logging
  --version           Show version and exit
  --help              Show this help message

Examples:
  macprox --host example.com --user bob
  echo "$PW" | macprox --host example.com --user bob --password-stdin
  macprox --host example.com --user bob --use-saved
  macprox --history 20

Notes:
  - Connect stays in the foreground; press Ctrl+C to disconnect
  - Without a password, ssh uses your keys and agent
  - sshuttle needs sudo rights to change the firewall`)
}
