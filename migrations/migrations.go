// Package migrations embeds the schema migration files so the binary can
// apply them without a checkout.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
