// Package store gives a SessionClient durable, crash-resistant storage
// for state that must survive a process restart: operations queued while
// disconnected, and the undo stack. It is the client-side counterpart
// to the server's document store — same SQLite shape, different table.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Kind distinguishes the two journals kept in the same table.
type Kind string

const (
	KindPending Kind = "pending" // an operation queued while disconnected
	KindUndo    Kind = "undo"    // an entry in the undo stack
)

// Entry is one journaled operation, in mdot wire JSON form.
type Entry struct {
	Seq       int64
	Document  string
	Kind      Kind
	Operation []byte // mdot wire JSON
}

// Store wraps a SQLite connection holding the pending-operation and
// undo journals. A nil *Store is valid and every method on it is a no-op
// returning zero values and a nil error — durability is optional, not required, for
// a SessionClient to function.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at uri (":memory:" for an
// ephemeral store, a file path for durability across restarts) and runs
// migrations.
func Open(uri string) (*Store, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Append journals one operation for document under kind, returning its
// assigned sequence number.
func (s *Store) Append(document string, kind Kind, operation []byte) (int64, error) {
	if s == nil {
		return 0, nil
	}
	result, err := s.db.Exec(
		`INSERT INTO journal (document, kind, operation) VALUES (?, ?, ?)`,
		document, string(kind), operation,
	)
	if err != nil {
		return 0, fmt.Errorf("store: append: %w", err)
	}
	return result.LastInsertId()
}

// List returns all journal entries for document and kind, oldest first.
func (s *Store) List(document string, kind Kind) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT seq, document, kind, operation FROM journal WHERE document = ? AND kind = ? ORDER BY seq ASC`,
		document, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kindStr string
		if err := rows.Scan(&e.Seq, &e.Document, &kindStr, &e.Operation); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		e.Kind = Kind(kindStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear deletes all journal entries for document and kind, typically
// once they've been successfully replayed or the undo history is reset.
func (s *Store) Clear(document string, kind Kind) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM journal WHERE document = ? AND kind = ?`, document, string(kind))
	if err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// DeleteSeq removes a single entry by its sequence number, used to drop
// one undo entry without clearing the whole stack.
func (s *Store) DeleteSeq(seq int64) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM journal WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("store: delete seq %d: %w", seq, err)
	}
	return nil
}
