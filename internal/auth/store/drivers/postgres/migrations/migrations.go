// Package migrations embeds the postgres SQL migration files.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
