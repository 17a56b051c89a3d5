// dbtool prunes old rows from the security_events audit table. The table is
// append-only at runtime, so retention is an offline concern. Dry-run by
// default; pass --apply to delete.
package main

import (
	"database/sql"
	"flag"
	"log"
	"strconv"

	_ "modernc.org/sqlite"
)

func main() {
	log.SetFlags(0)

	dbPath := flag.String("db", ".config/tripgate.db", "path to SQLite DB")
	days := flag.Int("days", 90, "delete events older than this many days")
	apply := flag.Bool("apply", false, "apply changes (default: dry-run)")
	limit := flag.Int("limit", 10, "sample rows to print in dry-run")
	flag.Parse()

	if *days <= 0 {
		log.Fatalf("--days must be positive, got %d", *days)
	}

	db, err := sql.Open("sqlite", *dbPath+"?_busy_timeout=5000")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	cutoff := cutoffExpr(*days)

	var candidates int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM security_events WHERE created_at < "+cutoff).Scan(&candidates); err != nil {
		log.Fatalf("count candidates: %v", err)
	}
	log.Printf("events older than %d days: %d", *days, candidates)

	if !*apply {
		if *limit > 0 && candidates > 0 {
			if err := printSamples(db, cutoff, *limit); err != nil {
				log.Fatalf("print samples: %v", err)
			}
		}
		log.Printf("dry-run complete (use --apply to delete)")
		return
	}

	if candidates == 0 {
		log.Printf("nothing to do")
		return
	}

	res, err := db.Exec("DELETE FROM security_events WHERE created_at < " + cutoff)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	deleted, _ := res.RowsAffected()
	log.Printf("deleted %d events", deleted)

	// Reclaim the freed pages.
	if _, err := db.Exec("VACUUM"); err != nil {
		log.Printf("vacuum failed: %v", err)
	}
}

// cutoffExpr builds the SQLite timestamp comparison expression. days comes
// from a validated flag, never from user input.
func cutoffExpr(days int) string {
	return "datetime('now', '-" + strconv.Itoa(days) + " days')"
}

func printSamples(db *sql.DB, cutoff string, limit int) error {
	rows, err := db.Query(
		"SELECT id, source, action, path, client_ip, severity, created_at FROM security_events WHERE created_at < "+cutoff+" ORDER BY id LIMIT ?", limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var source, action, path, clientIP, severity, createdAt string
		if err := rows.Scan(&id, &source, &action, &path, &clientIP, &severity, &createdAt); err != nil {
			return err
		}
		log.Printf("  #%d [%s] %s %s %s (%s) %s", id, severity, source, action, path, clientIP, createdAt)
	}
	return rows.Err()
}
