// Package migrations embeds the ordered SQL schema files applied by db.Migrate.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
