package database

import "strconv"

// DialectHelper renders the small set of SQL fragments that differ between
// the two supported dialects. Queries in this codebase are written in the
// SQLite flavor; the helper covers the pieces that cannot go through
// ConvertPlaceholders.
type DialectHelper struct {
	dialect Dialect
}

// NewDialectHelper creates a helper for the given dialect.
func NewDialectHelper(dialect Dialect) *DialectHelper {
	return &DialectHelper{dialect: dialect}
}

// Placeholder renders the nth query parameter (1-indexed).
func (h *DialectHelper) Placeholder(n int) string {
	if h.dialect == DialectPostgreSQL {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// AutoIncrementPK renders an auto-incrementing primary key column.
func (h *DialectHelper) AutoIncrementPK() string {
	if h.dialect == DialectPostgreSQL {
		return "SERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// DatetimeType renders the timestamp column type.
func (h *DialectHelper) DatetimeType() string {
	if h.dialect == DialectPostgreSQL {
		return "TIMESTAMP WITH TIME ZONE"
	}
	return "DATETIME"
}

// CurrentTimestamp renders the now() expression.
func (h *DialectHelper) CurrentTimestamp() string {
	if h.dialect == DialectPostgreSQL {
		return "NOW()"
	}
	return "CURRENT_TIMESTAMP"
}
