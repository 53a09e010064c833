// Package migrations embeds the SQL schema applied by database.Migrator.
package migrations

import "embed"

// FS holds the golang-migrate up/down files.
//
//go:embed *.sql
var FS embed.FS
