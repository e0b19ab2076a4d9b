// Package common provides shared constants, types, utilities, and interfaces
// used throughout MacProx.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: tool names, askpass environment, timeouts, file names
//   - Errors: Sentinel errors, one per failure class of the tunnel lifecycle
//   - Interfaces: Abstractions for credential storage, notification and logging
//   - Logger: Leveled logging to stdout with an optional rotated file
//   - Utils: Common helpers for directories, IDs and log redaction
//
// # Usage
//
//	import "github.com/yllada/macprox/common"
//
//	common.LogInfo("Connecting to %s", displayName)
//
//	if errors.Is(err, common.ErrHelperCreation) {
//	    // Abort before spawning
//	}
package common
