// Package auth defines the identity boundary of the assistant platform.
//
// It owns user credentials, OAuth client records, and grant issuance so the
// gateway can rely on recorded token claims instead of re-implementing
// authorization rules.
//
// Subpackages:
//   - app: authorization server wiring and lifecycle
//   - oauth: OAuth 2.1 endpoints, grant storage, and token flows
//   - storage/sqlite: SQLite persistence with embedded migrations
package auth
