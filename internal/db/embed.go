package db

import "embed"

// EmbedMigrations holds the state store schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
