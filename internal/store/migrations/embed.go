// Package migrations embeds the relay's SQLite schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
