package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// SQLiteDB is the SQLite implementation of DB. This is the default backend:
// one file under .config/, no external service.
type SQLiteDB struct {
	*BaseDB
}

// NewSQLite opens (or creates) the SQLite database at cfg.URL.
func NewSQLite(cfg Config) (*SQLiteDB, error) {
	dbPath := cfg.URL
	if dbPath == "" {
		dbPath = ".config/tripgate.db"
	}

	// _busy_timeout waits out short lock contention instead of failing;
	// _txlock=immediate takes the write lock up front so quota read-modify-
	// write transactions cannot deadlock on upgrade.
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Single connection: every writer is serialized anyway, and a second
	// connection only adds SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	// WAL lets event reads proceed while a quota write is in flight.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Printf("⚠️ %s failed: %v", pragma, err)
		}
	}

	log.Printf("📦 SQLite database initialized: %s", dbPath)
	return &SQLiteDB{
		BaseDB: &BaseDB{
			DB:      db,
			dialect: DialectSQLite,
			helper:  NewDialectHelper(DialectSQLite),
		},
	}, nil
}

// TableExists reports whether a table exists in the database file.
func (db *SQLiteDB) TableExists(table string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		table,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
