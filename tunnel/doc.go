// Package tunnel supervises a single sshuttle tunnel on behalf of a front end.
//
// # Architecture
//
// The package is organized around a few types:
//
//   - Controller: runs the connect and disconnect sequences
//   - Handle: the exclusive-access slot holding the live process, the
//     askpass helper path and the lifecycle state
//   - Spawner/Process: the os/exec boundary, replaceable in tests
//   - Broadcaster: fans status transitions out to the front end, the
//     history store and desktop notifications
//   - HealthChecker: optional connectivity checks while connected
//
// # Connection Flow
//
//  1. Front end calls Controller.Connect with a Request
//  2. Controller claims the Handle, validates and cleans up leftovers
//  3. An askpass helper is materialized when a password is given
//  4. sshuttle is spawned and its process stored in the Handle
//  5. After a fixed grace period the process must still be running
//  6. The attempt is committed and "Connected" is reported
//
// The grace period is a heuristic: sshuttle has no readiness protocol, so a
// tool that is still alive after a few seconds is assumed to be tunneling.
// An optional TCP readiness probe can strengthen it.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The Handle's mutex
// is the only lock around tunnel state; a disconnect racing an in-flight
// connect wins by taking the resources first, and the loser finds nothing
// to act on.
package tunnel
