// Package migrations embeds the catalog schema migrations so they ship
// inside the binary and run through goose at startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
