package catalogue

import "embed"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations exposes the catalogue schema for database.RunMigrations.
func Migrations() embed.FS {
	return migrationsFS
}

// MigrationsDir is the directory passed alongside Migrations().
const MigrationsDir = "migrations"
