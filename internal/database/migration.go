package database

import (
	"embed"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one versioned schema step, loaded from the embedded
// migrations directory. Files are named NNN_name.sql.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// RunMigrations applies every migration newer than the recorded version.
// Safe to call on every startup.
func RunMigrations(db DB) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	current := currentVersion(db)
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		log.Printf("📦 Applying migration %03d: %s", m.Version, m.Name)

		// Migrations are written in the SQLite flavor; rewrite the
		// schema keywords when the target is PostgreSQL.
		if _, err := db.Exec(translateSchema(m.Up, db.Dialect())); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			m.Version, m.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		log.Printf("✅ Migration %03d applied successfully", m.Version)
	}

	return nil
}

func createMigrationsTable(db DB) error {
	h := NewDialectHelper(db.Dialect())
	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at %s DEFAULT %s
		)`, h.DatetimeType(), h.CurrentTimestamp())

	_, err := db.Exec(createSQL)
	return err
}

// currentVersion returns the highest applied version, or 0 for a fresh
// database.
func currentVersion(db DB) int {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0
	}
	return version
}

func loadMigrations() ([]Migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, nil
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// 001_initial.sql -> version 1, name "initial". Anything that
		// does not fit the pattern is skipped.
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) != 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(parts[1], ".sql"),
			Up:      string(content),
		})
	}

	return migrations, nil
}

// translateSchema rewrites SQLite schema keywords for PostgreSQL. Only the
// constructs the TripGate schema uses are covered.
func translateSchema(sql string, dialect Dialect) string {
	if dialect != DialectPostgreSQL {
		return sql
	}
	sql = strings.ReplaceAll(sql, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
	sql = strings.ReplaceAll(sql, "DATETIME", "TIMESTAMP WITH TIME ZONE")
	return sql
}

// TableExists reports whether a table exists, dispatching on the concrete
// database type.
func TableExists(db DB, table string) (bool, error) {
	switch d := db.(type) {
	case *SQLiteDB:
		return d.TableExists(table)
	case *PostgreSQLDB:
		return d.TableExists(table)
	default:
		return false, fmt.Errorf("unsupported database type")
	}
}
