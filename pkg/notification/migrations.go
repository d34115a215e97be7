package notification

import "embed"

// Migrations holds the goose SQL migrations for PostgresRepository.
//
//go:embed migrations/*.sql
var Migrations embed.FS
