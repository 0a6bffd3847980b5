// Package store implements a durable, file-backed keystore.Store on top
// of an embedded SQLite database, reached through pocketbase's dbx query
// builder. It is a drop-in alternative to keystore.FileStore's
// JWE-sealed-JSON-blob approach: same namespaced key/value contract,
// backed by a single-table SQLite file instead of one sealed blob,
// useful wherever the host process already manages a SQLite file (or
// wants per-key reads without decrypting the whole map).
//
// Adapted from pocketbase's storage layer (its dbx-over-SQLite
// persistence), cut down from pocketbase's server-oriented record/collection
// model to the flat namespaced key/value table this core actually needs,
// and swapped from a cgo SQLite driver to the cgo-free modernc.org/sqlite
// so the core stays a pure-Go, cross-compilable client library rather
// than one that needs a C toolchain at build time.
package store

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/pocketbase/dbx"
	_ "modernc.org/sqlite"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/keystore"
)

const tableName = "session_core_kv"

// SQLStore is a dbx/SQLite-backed keystore.Store. The zero value is not
// usable; construct with Open.
type SQLStore struct {
	mu sync.Mutex
	db *dbx.DB
}

// Open opens (or creates) a SQLite database file at path and ensures the
// key/value table exists. path may be ":memory:" for a transient store.
func Open(path string) (*SQLStore, error) {
	db, err := dbx.Open("sqlite", path)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to open session store database", err)
	}
	s := &SQLStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema() error {
	_, err := s.db.NewQuery(`CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`).Execute()
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to initialize session store schema", err)
	}
	return nil
}

// Get never errors on a missing key (the keystore.Store contract):
// ok=false, err=nil.
func (s *SQLStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.NewQuery(`SELECT value FROM ` + tableName + ` WHERE key={:key}`).
		Bind(dbx.Params{"key": key}).
		Row(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, coreerr.New(coreerr.CodeInternal, "failed to read from session store", err)
	}
	return value, true, nil
}

// Set upserts key=value.
func (s *SQLStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NewQuery(`INSERT INTO `+tableName+` (key, value) VALUES ({:key}, {:value})
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`).
		Bind(dbx.Params{"key": key, "value": value}).
		Execute()
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to write to session store", err)
	}
	return nil
}

// Delete removes key, if present. Deleting an absent key is a no-op.
func (s *SQLStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NewQuery(`DELETE FROM `+tableName+` WHERE key={:key}`).
		Bind(dbx.Params{"key": key}).
		Execute()
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to delete from session store", err)
	}
	return nil
}

// Reset wipes every namespaced key (spec §4.2's emergency-wipe path).
func (s *SQLStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NewQuery(`DELETE FROM ` + tableName).Execute()
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to reset session store", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ keystore.Store = (*SQLStore)(nil)
