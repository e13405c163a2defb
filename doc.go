// Package qurl implements an ephemeral object-sharing backend: clients
// deposit a blob and receive an unguessable identifier that lets anyone
// holding it retrieve the blob according to a retention policy (expiry
// time, download budget, optional password gate), after which the blob
// is permanently and irrecoverably deleted.
//
// # Key Components
//
//   - Gate: per-request orchestration of lookup, policy evaluation,
//     password verification and post-read consequence application
//   - EntryStore: interface for entry persistence (filesystem, SQLite)
//   - Evaluate: the pure retention policy engine
//   - Sweeper: background reclamation of expired entries and secrets
//   - Vault: burn-after-read storage for encrypted one-time secrets
//   - LockTable: per-id mutual exclusion shared by Gate, Sweeper and Vault
//
// Storage backends live in the filesystem and sqlite subpackages, the
// HTTP surface in http, and the server binary in cmd/qurl.
package qurl
