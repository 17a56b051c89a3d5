package database

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLDB is the PostgreSQL implementation of DB. The admission state
// is tiny, so the pool is sized for a handful of concurrent quota writes,
// not bulk traffic.
type PostgreSQLDB struct {
	*BaseDB
}

// NewPostgreSQL opens a PostgreSQL connection and verifies it with a ping.
func NewPostgreSQL(cfg Config) (*PostgreSQLDB, error) {
	connStr := cfg.URL
	if connStr == "" {
		connStr = postgresConnString(cfg)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	log.Printf("📦 PostgreSQL database connected: %s", redactConnString(connStr))
	return &PostgreSQLDB{
		BaseDB: &BaseDB{
			DB:      db,
			dialect: DialectPostgreSQL,
			helper:  NewDialectHelper(DialectPostgreSQL),
		},
	}, nil
}

// postgresConnString assembles a keyword/value connection string from the
// individual config fields.
func postgresConnString(cfg Config) string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.SSLMode,
	)
	if cfg.Password != "" {
		connStr += " password=" + cfg.Password
	}
	return connStr
}

var connStringSecrets = regexp.MustCompile(`(password=)\S+|(://[^:/@]+:)[^@]+(@)`)

// redactConnString strips credentials before the string reaches the log.
// Handles both keyword/value and URL forms.
func redactConnString(connStr string) string {
	return connStringSecrets.ReplaceAllString(connStr, "$1$2****$3")
}

// TableExists reports whether a table exists in the connected database.
func (db *PostgreSQLDB) TableExists(table string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1",
		table,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
