package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// GetMigrations returns all database migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create dataset_schema table",
			Up: `
				CREATE TABLE IF NOT EXISTS dataset_schema (
					id TEXT PRIMARY KEY,
					filename TEXT NOT NULL,
					object_name TEXT NOT NULL UNIQUE,
					kind TEXT NOT NULL,
					columns_json TEXT NOT NULL,
					summary TEXT,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_dataset_created ON dataset_schema(created_at);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_dataset_created;
				DROP TABLE IF EXISTS dataset_schema;
			`,
		},
		{
			Version:     2,
			Description: "Create chat_history table",
			// The table exists for future conversational memory but is not
			// read or written anywhere yet.
			Up: `
				CREATE TABLE IF NOT EXISTS chat_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL,
					role TEXT NOT NULL,
					content TEXT,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_history_session ON chat_history(session_id);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_history_session;
				DROP TABLE IF EXISTS chat_history;
			`,
		},
	}
}

// RunMigrations applies all pending migrations to the given database.
func RunMigrations(db *sql.DB) error {
	if err := createMigrationsTable(db); err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range GetMigrations() {
		if m.Version <= current {
			continue
		}
		if _, err := db.Exec(m.Up); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", m.Version, m.Description); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
