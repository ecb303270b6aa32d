package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

// UserPreferencesSchema is the table C3's database handler must create
// in every logical database a module names for its preferences.
var UserPreferencesSchema = struct {
	TableName string
	CreateSQL string
}{
	TableName: "user_preferences",
	CreateSQL: `CREATE TABLE IF NOT EXISTS user_preferences (
		module_id  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value_json TEXT NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (module_id, key, user_id)
	)`,
}

// DatabaseProvider resolves a logical database name to its open
// handle, mirroring C3's per-name SQLite files. Every Store call names
// its database explicitly; there is no hidden default.
type DatabaseProvider func(database string) *sql.DB

// Store persists user preference overrides.
type Store struct {
	databases DatabaseProvider
}

// NewStore returns a Store that resolves database handles via
// provider.
func NewStore(provider DatabaseProvider) *Store {
	return &Store{databases: provider}
}

func (s *Store) db(database string) (*sql.DB, error) {
	db := s.databases(database)
	if db == nil {
		return nil, kernelerrors.New(kernelerrors.CodeStorageError,
			"unknown settings database: "+database)
	}
	return db, nil
}

// Get returns every stored preference for moduleID/userID in database,
// as a flat key -> decoded-JSON-value map.
func (s *Store) Get(ctx context.Context, database, moduleID, userID string) (map[string]interface{}, error) {
	db, err := s.db(database)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT key, value_json FROM user_preferences WHERE module_id = ? AND user_id = ?`,
		moduleID, userID)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "query user preferences", err)
	}
	defer rows.Close()

	out := make(map[string]interface{})
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan user preference row", err)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "decode user preference value", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Set upserts one preference row on (module_id, key, user_id).
func (s *Store) Set(ctx context.Context, database, moduleID, key string, value interface{}, userID string) error {
	db, err := s.db(database)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeParameterInvalid, "encode preference value", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO user_preferences (module_id, key, value_json, user_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (module_id, key, user_id) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, moduleID, key, string(encoded), userID, time.Now().UTC())
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "upsert user preference", err)
	}
	return nil
}

// Clear deletes one preference row; the next resolution falls back to
// baseline.
func (s *Store) Clear(ctx context.Context, database, moduleID, key, userID string) error {
	db, err := s.db(database)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM user_preferences WHERE module_id = ? AND key = ? AND user_id = ?`,
		moduleID, key, userID)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "delete user preference", err)
	}
	return nil
}
