package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavor of a connected database.
type Dialect string

const (
	DialectSQLite     Dialect = "sqlite"
	DialectPostgreSQL Dialect = "postgresql"
)

// Config selects the backend and how to reach it. URL alone is enough for
// SQLite (the file path); PostgreSQL can use either URL or the individual
// fields.
type Config struct {
	Type     Dialect
	URL      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// ConfigFromEnv reads the DATABASE_* and DB_* environment variables.
// SQLite with a file under .config/ is the default.
func ConfigFromEnv() Config {
	dbType := os.Getenv("DATABASE_TYPE")
	if dbType == "" {
		dbType = "sqlite"
	}

	cfg := Config{
		Type:     Dialect(dbType),
		URL:      os.Getenv("DATABASE_URL"),
		Host:     envOr("DB_HOST", "localhost"),
		Port:     envIntOr("DB_PORT", 5432),
		Name:     envOr("DB_NAME", "tripgate"),
		User:     envOr("DB_USER", "tripgate"),
		Password: os.Getenv("DB_PASSWORD"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}

	// Default SQLite path
	if cfg.Type == DialectSQLite && cfg.URL == "" {
		cfg.URL = ".config/tripgate.db"
	}

	return cfg
}

// DB abstracts the two storage backends. Callers write queries with ?
// placeholders; every method converts them for the active dialect.
type DB interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	Begin() (*Tx, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error)

	Dialect() Dialect
	Ping() error
	Close() error

	// Raw exposes the underlying *sql.DB for tooling that manages its
	// own placeholders.
	Raw() *sql.DB
}

// BaseDB carries the shared query plumbing for both backends.
type BaseDB struct {
	*sql.DB
	dialect Dialect
	helper  *DialectHelper
}

// New opens the backend named by cfg.Type.
func New(cfg Config) (DB, error) {
	switch cfg.Type {
	case DialectSQLite:
		return NewSQLite(cfg)
	case DialectPostgreSQL:
		return NewPostgreSQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// Dialect returns the active SQL dialect.
func (db *BaseDB) Dialect() Dialect {
	return db.dialect
}

// Raw returns the wrapped *sql.DB.
func (db *BaseDB) Raw() *sql.DB {
	return db.DB
}

// Helper returns the dialect helper for building schema fragments.
func (db *BaseDB) Helper() *DialectHelper {
	return db.helper
}

// The query methods below mirror database/sql, converting placeholders
// before delegating.

func (db *BaseDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.DB.Exec(ConvertPlaceholders(query, db.dialect), args...)
}

func (db *BaseDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.DB.ExecContext(ctx, ConvertPlaceholders(query, db.dialect), args...)
}

func (db *BaseDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.Query(ConvertPlaceholders(query, db.dialect), args...)
}

func (db *BaseDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, ConvertPlaceholders(query, db.dialect), args...)
}

func (db *BaseDB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRow(ConvertPlaceholders(query, db.dialect), args...)
}

func (db *BaseDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, ConvertPlaceholders(query, db.dialect), args...)
}

// Begin starts a transaction wrapped in a dialect-aware Tx.
func (db *BaseDB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, dialect: db.dialect}, nil
}

// BeginTx is Begin with context and options.
func (db *BaseDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, dialect: db.dialect}, nil
}

// Tx applies the same placeholder conversion inside a transaction.
type Tx struct {
	*sql.Tx
	dialect Dialect
}

func (tx *Tx) Exec(query string, args ...interface{}) (sql.Result, error) {
	return tx.Tx.Exec(ConvertPlaceholders(query, tx.dialect), args...)
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, ConvertPlaceholders(query, tx.dialect), args...)
}

func (tx *Tx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return tx.Tx.Query(ConvertPlaceholders(query, tx.dialect), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return tx.Tx.QueryContext(ctx, ConvertPlaceholders(query, tx.dialect), args...)
}

func (tx *Tx) QueryRow(query string, args ...interface{}) *sql.Row {
	return tx.Tx.QueryRow(ConvertPlaceholders(query, tx.dialect), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, ConvertPlaceholders(query, tx.dialect), args...)
}

// Transaction runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func Transaction(db DB, fn func(tx *Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

// ConvertPlaceholders rewrites ? placeholders as $1, $2, ... when the
// dialect is PostgreSQL. All queries in this codebase use the ? form, so
// no positional placeholders ever appear in the input.
func ConvertPlaceholders(query string, dialect Dialect) string {
	if dialect != DialectPostgreSQL || !strings.ContainsRune(query, '?') {
		return query
	}

	var out strings.Builder
	out.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
		} else {
			out.WriteByte(query[i])
		}
	}
	return out.String()
}
