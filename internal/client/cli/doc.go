// Package cli provides the interactive Lockbox command-line client.
//
// It wires configuration, local storage, the state store, API services, and
// an interactive REPL. Typical flow: prompt for credentials (with a two-step
// continuation when the server demands one), start the background timeout
// sweep and periodic sync, and execute user commands.
//
// Key features:
//   - Login / Logout with two-step verification
//   - Lock / Unlock the vault
//   - Sync with the server
//   - Session status
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli