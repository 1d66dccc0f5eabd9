// Package migrations embeds the Postgres schema of the webhook subscriber store.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files.
//
//go:embed *.sql
var FS embed.FS
