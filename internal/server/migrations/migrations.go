// Package migrations embeds the escrow node's goose SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
