// Package migration applies versioned SQL schema changes to SQLite databases.
//
// Migration files are named {version}_{description}.sql (for example
// "001_initial_schema.sql") and are read from an fs.FS, usually an embedded
// directory. Applied versions and their checksums are tracked in the
// schema_migrations table; each file runs in its own transaction.
//
// Example usage:
//
//	db, err := migration.Open(migration.DefaultSQLiteConfig(path))
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
