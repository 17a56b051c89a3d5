package database

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) DB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tripgate-db-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := Config{
		Type: DialectSQLite,
		URL:  filepath.Join(tmpDir, "test.db"),
	}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestSQLiteConnection(t *testing.T) {
	db := newTestDB(t)

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if db.Dialect() != DialectSQLite {
		t.Errorf("Expected dialect SQLite, got %s", db.Dialect())
	}
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// Verify tables were created
	tables := []string{"client_store", "security_events", "schema_migrations"}
	for _, table := range tables {
		exists, err := TableExists(db, table)
		if err != nil {
			t.Errorf("Failed to check table %s: %v", table, err)
			continue
		}
		if !exists {
			t.Errorf("Table %s was not created", table)
		}
	}

	// Verify migration was recorded
	var version int
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		t.Fatalf("Failed to get migration version: %v", err)
	}
	if version < 1 {
		t.Errorf("Expected migration version >= 1, got %d", version)
	}

	// Running migrations again is a no-op
	if err := RunMigrations(db); err != nil {
		t.Fatalf("Re-running migrations failed: %v", err)
	}
}

func TestClientStoreTable(t *testing.T) {
	db := newTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// Insert a document
	_, err := db.Exec("INSERT INTO client_store (client_id, store_key, value) VALUES (?, ?, ?)",
		"203.0.113.7", "quota_state", `{"date":"2026-08-30"}`)
	if err != nil {
		t.Fatalf("Failed to insert document: %v", err)
	}

	// Read it back
	var value string
	err = db.QueryRow("SELECT value FROM client_store WHERE client_id = ? AND store_key = ?",
		"203.0.113.7", "quota_state").Scan(&value)
	if err != nil {
		t.Fatalf("Failed to read document: %v", err)
	}
	if value != `{"date":"2026-08-30"}` {
		t.Errorf("Unexpected value: %s", value)
	}

	// Update it
	_, err = db.Exec("UPDATE client_store SET value = ? WHERE client_id = ? AND store_key = ?",
		`{"date":"2026-08-31"}`, "203.0.113.7", "quota_state")
	if err != nil {
		t.Fatalf("Failed to update document: %v", err)
	}

	err = db.QueryRow("SELECT value FROM client_store WHERE client_id = ? AND store_key = ?",
		"203.0.113.7", "quota_state").Scan(&value)
	if err != nil {
		t.Fatalf("Failed to read updated document: %v", err)
	}
	if value != `{"date":"2026-08-31"}` {
		t.Errorf("Unexpected value after update: %s", value)
	}

	// The (client_id, store_key) pair is unique
	_, err = db.Exec("INSERT INTO client_store (client_id, store_key, value) VALUES (?, ?, ?)",
		"203.0.113.7", "quota_state", `{}`)
	if err == nil {
		t.Error("Expected duplicate key insert to fail")
	}

	// Delete all documents for the client
	_, err = db.Exec("DELETE FROM client_store WHERE client_id = ?", "203.0.113.7")
	if err != nil {
		t.Fatalf("Failed to delete documents: %v", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM client_store WHERE client_id = ?", "203.0.113.7").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count documents: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 documents, got %d", count)
	}
}

func TestSecurityEventsTable(t *testing.T) {
	db := newTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// Insert an event
	_, err := db.Exec(`
		INSERT INTO security_events (source, action, path, client_ip, severity, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		"path_guard", "blocked", "/wp-admin/setup.php", "198.51.100.4", "high", "suspicious path probe")
	if err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	// Read it back
	var source, severity string
	err = db.QueryRow("SELECT source, severity FROM security_events WHERE client_ip = ?",
		"198.51.100.4").Scan(&source, &severity)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if source != "path_guard" {
		t.Errorf("Expected source 'path_guard', got '%s'", source)
	}
	if severity != "high" {
		t.Errorf("Expected severity 'high', got '%s'", severity)
	}

	// created_at defaults to the current timestamp
	var createdAt string
	err = db.QueryRow("SELECT created_at FROM security_events WHERE client_ip = ?",
		"198.51.100.4").Scan(&createdAt)
	if err != nil {
		t.Fatalf("Failed to read created_at: %v", err)
	}
	if createdAt == "" {
		t.Error("Expected created_at to be populated")
	}
}

func TestTransaction(t *testing.T) {
	db := newTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// Test successful transaction
	err := Transaction(db, func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO client_store (client_id, store_key, value) VALUES (?, ?, ?)",
			"tx-client", "quota_state", `{}`)
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO client_store (client_id, store_key, value) VALUES (?, ?, ?)",
			"tx-client", "session_start", `{}`)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	// Verify both inserts were committed
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM client_store WHERE client_id = ?", "tx-client").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count documents: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 documents, got %d", count)
	}

	// Test failed transaction (rollback)
	err = Transaction(db, func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO client_store (client_id, store_key, value) VALUES (?, ?, ?)",
			"tx-client-2", "quota_state", `{}`)
		if err != nil {
			return err
		}
		// This should fail due to duplicate key
		_, err = tx.Exec("INSERT INTO client_store (client_id, store_key, value) VALUES (?, ?, ?)",
			"tx-client", "quota_state", `{}`)
		return err
	})
	if err == nil {
		t.Error("Expected transaction to fail due to duplicate key")
	}

	// Verify the first insert was NOT committed (rollback worked)
	err = db.QueryRow("SELECT COUNT(*) FROM client_store WHERE client_id = ?", "tx-client-2").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count documents: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 (rollback), got %d", count)
	}
}

func TestDialectHelper(t *testing.T) {
	sqliteHelper := NewDialectHelper(DialectSQLite)
	pgHelper := NewDialectHelper(DialectPostgreSQL)

	// Test placeholder
	if sqliteHelper.Placeholder(1) != "?" {
		t.Errorf("SQLite placeholder should be ?, got %s", sqliteHelper.Placeholder(1))
	}
	if pgHelper.Placeholder(1) != "$1" {
		t.Errorf("PostgreSQL placeholder should be $1, got %s", pgHelper.Placeholder(1))
	}
	if pgHelper.Placeholder(3) != "$3" {
		t.Errorf("PostgreSQL placeholder should be $3, got %s", pgHelper.Placeholder(3))
	}

	// Test auto-increment
	if sqliteHelper.AutoIncrementPK() != "INTEGER PRIMARY KEY AUTOINCREMENT" {
		t.Errorf("SQLite auto-increment mismatch")
	}
	if pgHelper.AutoIncrementPK() != "SERIAL PRIMARY KEY" {
		t.Errorf("PostgreSQL auto-increment mismatch")
	}

	// Test datetime type
	if sqliteHelper.DatetimeType() != "DATETIME" {
		t.Errorf("SQLite datetime mismatch")
	}
	if pgHelper.DatetimeType() != "TIMESTAMP WITH TIME ZONE" {
		t.Errorf("PostgreSQL datetime mismatch")
	}
}

func TestConvertPlaceholders(t *testing.T) {
	query := "SELECT value FROM client_store WHERE client_id = ? AND store_key = ?"

	// SQLite should remain unchanged
	sqliteResult := ConvertPlaceholders(query, DialectSQLite)
	if sqliteResult != query {
		t.Errorf("SQLite query should not change, got: %s", sqliteResult)
	}

	// PostgreSQL should convert to $1, $2
	expected := "SELECT value FROM client_store WHERE client_id = $1 AND store_key = $2"
	pgResult := ConvertPlaceholders(query, DialectPostgreSQL)
	if pgResult != expected {
		t.Errorf("PostgreSQL conversion failed.\nExpected: %s\nGot: %s", expected, pgResult)
	}
}
