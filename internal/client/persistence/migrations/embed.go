// Package migrations embeds the goose migrations for the client-side slice
// cache.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
