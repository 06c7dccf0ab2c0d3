// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package factstore persists story facts with chapter validity windows in
// SQLite. Hard facts form the hard-state snapshot the writer must not
// contradict; every change is audited in fact_events.
// See docs/ARCHITECTURE § Fact Store.
package factstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the temporal fact database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the fact database at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening fact database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			entity_id INTEGER PRIMARY KEY AUTOINCREMENT,
			canonical_name TEXT UNIQUE NOT NULL,
			type TEXT,
			aliases TEXT,
			rename_events TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS facts (
			fact_id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object_value TEXT,
			qualifiers TEXT,
			valid_from_chapter INTEGER NOT NULL,
			valid_to_chapter INTEGER,
			source_chapter INTEGER NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			hard_flag INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_subject_predicate
			ON facts(subject, predicate)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_validity
			ON facts(valid_from_chapter, valid_to_chapter)`,
		`CREATE TABLE IF NOT EXISTS fact_events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			fact_id INTEGER REFERENCES facts(fact_id),
			chapter_num INTEGER NOT NULL,
			action TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}
