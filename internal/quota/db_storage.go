package quota

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/voyago/tripgate/internal/database"
)

// DBStorage persists per-client quota documents in the client_store table.
type DBStorage struct {
	db database.DB
}

// NewDBStorage creates a database-backed Persister.
func NewDBStorage(db database.DB) *DBStorage {
	return &DBStorage{db: db}
}

// Load returns the stored document for (clientID, key), or (nil, nil) when
// no record exists.
func (s *DBStorage) Load(clientID, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRow(`
		SELECT value FROM client_store
		WHERE client_id = ? AND store_key = ?
	`, clientID, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client store entry: %w", err)
	}
	return []byte(value), nil
}

// Save upserts the document for (clientID, key).
func (s *DBStorage) Save(clientID, key string, value []byte) error {
	result, err := s.db.Exec(`
		UPDATE client_store
		SET value = ?, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = ? AND store_key = ?
	`, string(value), clientID, key)
	if err != nil {
		return fmt.Errorf("failed to update client store entry: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		_, err = s.db.Exec(`
			INSERT INTO client_store (client_id, store_key, value)
			VALUES (?, ?, ?)
		`, clientID, key, string(value))
		if err != nil {
			return fmt.Errorf("failed to insert client store entry: %w", err)
		}
	}

	return nil
}

// Delete removes every stored document for a client.
func (s *DBStorage) Delete(clientID string) error {
	if _, err := s.db.Exec(`DELETE FROM client_store WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("failed to delete client store entries: %w", err)
	}
	return nil
}
