// Package tokenstore provides persistent key/value storage for authentication state.
//
// Supports four storage backends with different security and deployment tradeoffs:
//   - File: Local JSON file with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: Read-only environment variable access (requires external secret management)
//   - Memory: Process-local map, lost on exit
//
// Every backend writes a field-set atomically, so a reader never observes
// an access token without the domain it belongs to.
package tokenstore
