// Package askpass materializes the one-shot SSH_ASKPASS helper used for
// password authentication.
//
// The helper never contains the secret. It only names an environment
// variable, and the value is injected into the tunnel's environment at spawn
// time, so it never appears on a command line or in a file.
package askpass

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/yllada/macprox/common"
)

// FileMode is the only mode a helper ever has: owner read/write/execute.
const FileMode os.FileMode = 0700

var envVarPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Relay creates and erases helper scripts inside Dir.
type Relay struct {
	// Dir is where helpers are written. Empty means os.TempDir().
	Dir string
}

// Default is the relay used by the package-level functions.
var Default = &Relay{}

// Materialize writes a helper that prints the content of envVar to stdout.
// See Relay.Materialize.
func Materialize(envVar string) (string, error) {
	return Default.Materialize(envVar)
}

// Erase removes a helper. See Relay.Erase.
func Erase(path string) error {
	return Default.Erase(path)
}

// Script returns the helper body for envVar.
func Script(envVar string) string {
	return fmt.Sprintf("#!/bin/sh\nprintf '%%s' \"$%s\"\n", envVar)
}

// Materialize writes a fresh, uniquely named helper and returns its path.
// The file is created with FileMode from the start, so it is never readable
// by group or other. On any failure the partial file is removed and the
// returned error wraps common.ErrHelperCreation.
func (r *Relay) Materialize(envVar string) (string, error) {
	if !envVarPattern.MatchString(envVar) {
		return "", fmt.Errorf("%w: invalid variable name %q", common.ErrHelperCreation, envVar)
	}

	dir := r.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("%s-%d-%s.sh", common.AskpassPrefix, os.Getpid(), uuid.NewString())
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FileMode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrHelperCreation, err)
	}

	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", common.ErrHelperCreation, err)
	}

	if _, err := f.WriteString(Script(envVar)); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	// umask may only narrow the mode, but make the bits exact anyway.
	if err := f.Chmod(FileMode); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", common.ErrHelperCreation, err)
	}

	common.LogDebug("askpass: helper created at %s", path)
	return path, nil
}

// Erase removes the helper at path. An empty path or an already removed file
// is not an error, so Erase is safe to call on every teardown path.
func (r *Relay) Erase(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove askpass helper: %v", common.ErrTeardown, err)
	}
	common.LogDebug("askpass: helper erased")
	return nil
}
