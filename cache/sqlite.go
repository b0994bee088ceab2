package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	createSnapshots = `CREATE TABLE IF NOT EXISTS snapshots (
		slot       TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`

	upsertSnapshot = `INSERT INTO snapshots (slot, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
)

// SQLiteStore keeps snapshots in a SQLite table, one row per slot.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite | %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("OpenSQLite | %w", err)
	}

	if _, err = db.Exec(createSnapshots); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("OpenSQLite | %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(userID, collection string) ([]byte, error) {
	var data []byte

	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE slot = ?`, SlotKey(userID, collection)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if data == nil {
		data = []byte{}
	}

	return data, nil
}

func (s *SQLiteStore) Save(userID, collection string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.Exec(upsertSnapshot, SlotKey(userID, collection), data, time.Now().UTC().Format(time.RFC3339Nano))

	return err
}

func (s *SQLiteStore) Delete(userID, collection string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE slot = ?`, SlotKey(userID, collection))

	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
