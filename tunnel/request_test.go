package tunnel

import (
	"errors"
	"testing"

	"github.com/yllada/macprox/common"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"22", 22},
		{" 2222 ", 2222},
		{"65535", 65535},
		{"", 22},
		{"abc", 22},
		{"0", 22},
		{"-1", 22},
		{"65536", 22},
		{"22.5", 22},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParsePort(tt.in); got != tt.want {
				t.Errorf("ParsePort(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewRequest_Trims(t *testing.T) {
	req := NewRequest(" Work ", " example.com\n", " 2200 ", "\tbob ", " pass word ")

	if req.Label != "Work" || req.Host != "example.com" || req.Port != 2200 || req.Username != "bob" {
		t.Errorf("NewRequest() = %+v", req)
	}
	if req.Password != " pass word " {
		t.Errorf("password must be kept verbatim, got %q", req.Password)
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid", NewRequest("", "example.com", "22", "bob", ""), true},
		{"ipv6 host", NewRequest("", "::1", "22", "bob", ""), true},
		{"missing host", NewRequest("", "", "22", "bob", ""), false},
		{"missing user", NewRequest("", "example.com", "22", "", ""), false},
		{"host with at", NewRequest("", "a@example.com", "22", "bob", ""), false},
		{"directory account", NewRequest("", "example.com", "22", "bob@corp", ""), true},
		{"user with space", NewRequest("", "example.com", "22", "bob smith", ""), false},
		{"user option", NewRequest("", "example.com", "22", "-lroot", ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, common.ErrValidation) {
				t.Errorf("Validate() = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRequest_DirectoryAccountRemote(t *testing.T) {
	req := NewRequest("", "example.com", "22", "bob@corp", "")
	if got := req.Remote(); got != "bob@corp@example.com" {
		t.Errorf("Remote() = %q", got)
	}
	if got := req.Key(); got != "bob@corp@example.com:22" {
		t.Errorf("Key() = %q", got)
	}
}

func TestRequest_Names(t *testing.T) {
	req := NewRequest("", "example.com", "2222", "bob", "x")

	if got := req.Remote(); got != "bob@example.com" {
		t.Errorf("Remote() = %q", got)
	}
	if got := req.Key(); got != "bob@example.com:2222" {
		t.Errorf("Key() = %q", got)
	}
	if got := req.DisplayName(); got != "bob@example.com:2222" {
		t.Errorf("DisplayName() = %q", got)
	}
	req.Label = "Office"
	if got := req.DisplayName(); got != "Office" {
		t.Errorf("DisplayName() with label = %q", got)
	}
	if !req.HasPassword() {
		t.Error("HasPassword() = false")
	}
}
