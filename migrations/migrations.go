// Package migrations embeds the SQL schema files applied by db.RunMigrations.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
