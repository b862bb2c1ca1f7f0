// Package db embeds the SQL migrations so the server binary can apply them
// without a migrations directory on disk.
package db

import "embed"

// Migrations holds every *.sql file under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS
