// Package migrations embeds the auth schema migration files.
package migrations

import "embed"

// FS exposes the bundled SQL migrations.
//
//go:embed *.sql
var FS embed.FS
