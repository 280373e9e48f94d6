// Package migrations embeds the goose schema migrations for the SQL store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
