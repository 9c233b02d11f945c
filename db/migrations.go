// Package db embeds the SQL migrations so binaries can run them without
// shipping loose files.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
