// dbmigrate copies TripGate data between SQLite and PostgreSQL. Typical use
// is promoting a local SQLite file to a managed PostgreSQL instance:
//
//	dbmigrate --src-type sqlite --src-url .config/tripgate.db \
//	          --dst-type postgresql --dst-url "postgres://..."
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/voyago/tripgate/internal/database"
	_ "modernc.org/sqlite"
)

var (
	srcType   = flag.String("src-type", "sqlite", "Source database type: sqlite or postgresql")
	srcURL    = flag.String("src-url", ".config/tripgate.db", "Source database connection string")
	dstType   = flag.String("dst-type", "postgresql", "Destination database type: sqlite or postgresql")
	dstURL    = flag.String("dst-url", "", "Destination database connection string")
	dryRun    = flag.Bool("dry-run", false, "Print SQL without executing")
	tablesArg = flag.String("tables", "", "Comma-separated list of tables to copy (empty = all)")
)

// client_store before security_events so quota state lands first.
var migrationOrder = []string{
	"client_store",
	"security_events",
}

func main() {
	flag.Parse()

	if *dstURL == "" && !*dryRun {
		log.Fatal("--dst-url is required (or use --dry-run)")
	}

	srcDB, srcDialect, err := openDB(*srcType, *srcURL)
	if err != nil {
		log.Fatalf("Failed to open source database: %v", err)
	}
	defer srcDB.Close()

	tables := migrationOrder
	if *tablesArg != "" {
		tables = strings.Split(*tablesArg, ",")
		for i, t := range tables {
			tables[i] = strings.TrimSpace(t)
		}
	}

	if *dryRun {
		log.Println("=== DRY RUN MODE - SQL will be printed, not executed ===")
		dstDialect := database.Dialect(*dstType)
		if err := exportToSQL(srcDB, srcDialect, dstDialect, tables); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		return
	}

	dstDB, dstDialect, err := openDB(*dstType, *dstURL)
	if err != nil {
		log.Fatalf("Failed to open destination database: %v", err)
	}
	defer dstDB.Close()

	// The destination schema must exist before rows are copied.
	dstWrapper, err := wrapDB(dstDialect)
	if err != nil {
		log.Fatalf("Failed to wrap destination database: %v", err)
	}

	log.Println("Running schema migrations on destination database...")
	if err := database.RunMigrations(dstWrapper); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	for _, table := range tables {
		if err := copyTable(srcDB, dstDB, srcDialect, dstDialect, table); err != nil {
			log.Printf("Warning: Failed to copy table %s: %v", table, err)
		}
	}

	log.Println("Migration completed successfully!")
}

func openDB(dbType, url string) (*sql.DB, database.Dialect, error) {
	var driver string
	var dialect database.Dialect

	switch database.Dialect(dbType) {
	case database.DialectSQLite:
		driver = "sqlite"
		dialect = database.DialectSQLite
		if !strings.Contains(url, "?") {
			url += "?_busy_timeout=5000"
		}
	case database.DialectPostgreSQL:
		driver = "postgres"
		dialect = database.DialectPostgreSQL
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, "", err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", err
	}

	return db, dialect, nil
}

func wrapDB(dialect database.Dialect) (database.DB, error) {
	switch dialect {
	case database.DialectSQLite:
		return database.NewSQLite(database.Config{URL: *dstURL})
	case database.DialectPostgreSQL:
		return database.NewPostgreSQL(database.Config{
			Type: database.DialectPostgreSQL,
			URL:  *dstURL,
		})
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

func exportToSQL(srcDB *sql.DB, srcDialect, dstDialect database.Dialect, tables []string) error {
	for _, table := range tables {
		exists, err := tableExists(srcDB, srcDialect, table)
		if err != nil {
			return err
		}
		if !exists {
			log.Printf("Skipping table %s (does not exist in source)", table)
			continue
		}

		log.Printf("-- Exporting table: %s", table)

		rows, err := srcDB.Query(fmt.Sprintf("SELECT * FROM %s", table))
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", table, err)
		}

		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return err
		}

		count := 0
		for rows.Next() {
			values := make([]interface{}, len(cols))
			valuePtrs := make([]interface{}, len(cols))
			for i := range values {
				valuePtrs[i] = &values[i]
			}

			if err := rows.Scan(valuePtrs...); err != nil {
				rows.Close()
				return err
			}

			fmt.Println(buildInsertSQL(table, cols, values, dstDialect))
			count++
		}
		rows.Close()

		log.Printf("-- Exported %d rows from %s", count, table)
	}

	return nil
}

func copyTable(srcDB, dstDB *sql.DB, srcDialect, dstDialect database.Dialect, table string) error {
	exists, err := tableExists(srcDB, srcDialect, table)
	if err != nil {
		return err
	}
	if !exists {
		log.Printf("Skipping table %s (does not exist in source)", table)
		return nil
	}

	log.Printf("Copying table: %s", table)

	rows, err := srcDB.Query(fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	count := 0
	for rows.Next() {
		values := make([]interface{}, len(cols))
		valuePtrs := make([]interface{}, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		if err := insertRow(dstDB, dstDialect, table, cols, values); err != nil {
			log.Printf("Warning: Failed to insert row into %s: %v", table, err)
		} else {
			count++
		}
	}

	log.Printf("Copied %d rows to %s", count, table)
	return rows.Err()
}

func insertRow(db *sql.DB, dialect database.Dialect, table string, cols []string, values []interface{}) error {
	helper := database.NewDialectHelper(dialect)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = helper.Placeholder(i + 1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)

	_, err := db.Exec(query, values...)
	return err
}

func buildInsertSQL(table string, cols []string, values []interface{}, dialect database.Dialect) string {
	var valueStrs []string
	for _, v := range values {
		valueStrs = append(valueStrs, formatValue(v, dialect))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING;",
		table,
		strings.Join(cols, ", "),
		strings.Join(valueStrs, ", "),
	)
}

func formatValue(v interface{}, dialect database.Dialect) string {
	if v == nil {
		return "NULL"
	}

	switch val := v.(type) {
	case bool:
		if dialect == database.DialectPostgreSQL {
			if val {
				return "TRUE"
			}
			return "FALSE"
		}
		if val {
			return "1"
		}
		return "0"
	case int, int64, float64:
		return fmt.Sprintf("%v", val)
	case time.Time:
		if dialect == database.DialectPostgreSQL {
			return fmt.Sprintf("'%s'", val.Format("2006-01-02 15:04:05.999999-07:00"))
		}
		return fmt.Sprintf("'%s'", val.Format("2006-01-02 15:04:05"))
	case []byte:
		return fmt.Sprintf("'%s'", escapeString(string(val)))
	case string:
		return fmt.Sprintf("'%s'", escapeString(val))
	default:
		return fmt.Sprintf("'%s'", escapeString(fmt.Sprintf("%v", v)))
	}
}

func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func tableExists(db *sql.DB, dialect database.Dialect, table string) (bool, error) {
	var query string
	var args []interface{}

	switch dialect {
	case database.DialectSQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
		args = []interface{}{table}
	case database.DialectPostgreSQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1"
		args = []interface{}{table}
	}

	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
