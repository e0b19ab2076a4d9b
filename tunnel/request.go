package tunnel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yllada/macprox/common"
)

// Request holds the parameters of one connect attempt.
type Request struct {
	// Label is an optional display name.
	Label    string
	Host     string
	Port     uint16
	Username string
	// Password is optional. When set, ssh is forced into password
	// authentication through the askpass helper.
	Password string
}

// NewRequest builds a Request from raw form fields. Label, host, port and
// username are trimmed; the password is kept verbatim.
func NewRequest(label, host, portText, username, password string) Request {
	return Request{
		Label:    strings.TrimSpace(label),
		Host:     strings.TrimSpace(host),
		Port:     ParsePort(portText),
		Username: strings.TrimSpace(username),
		Password: password,
	}
}

// ParsePort parses port text, falling back to 22 when it is empty, not a
// 16-bit unsigned integer, or zero.
func ParsePort(text string) uint16 {
	n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 16)
	if err != nil || n == 0 {
		return common.DefaultSSHPort
	}
	return uint16(n)
}

// Problem describes why the request cannot be used, or returns "" when it
// is valid.
func (r Request) Problem() string {
	host := strings.TrimSpace(r.Host)
	user := strings.TrimSpace(r.Username)

	if host == "" || user == "" {
		return "Server and Username required"
	}
	if strings.ContainsAny(host, " \t\r\n@") || strings.HasPrefix(host, "-") {
		return "Server contains invalid characters"
	}
	// Directory accounts such as user@corp are fine; ssh splits the
	// remote at the last '@'.
	if strings.ContainsAny(user, " \t\r\n") || strings.HasPrefix(user, "-") {
		return "Username contains invalid characters"
	}
	return ""
}

// Validate returns an error wrapping common.ErrValidation for unusable
// requests.
func (r Request) Validate() error {
	if p := r.Problem(); p != "" {
		return fmt.Errorf("%w: %s", common.ErrValidation, p)
	}
	return nil
}

// HasPassword reports whether password authentication was requested.
func (r Request) HasPassword() bool {
	return r.Password != ""
}

// Remote returns the sshuttle remote target, user@host.
func (r Request) Remote() string {
	return r.Username + "@" + r.Host
}

// Key identifies the endpoint as user@host:port. It is used for saved
// credentials and history rows.
func (r Request) Key() string {
	return fmt.Sprintf("%s@%s:%d", r.Username, r.Host, r.Port)
}

// DisplayName returns the label, or user@host:port when there is none.
func (r Request) DisplayName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Key()
}
