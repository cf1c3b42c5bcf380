// Package state persists per-source ingestion cursors: the last successfully
// processed timestamp plus a free-form metadata bag. A scheduler consults it
// to decide whether a source needs a full historical fetch (last timestamp 0)
// or an incremental one. Entries are created on first registration, updated
// after every run, and removed only by explicit reset.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound means no state entry exists for the source.
var ErrNotFound = errors.New("ingestor state not found")

// Entry is one source's cursor state. LastTimestamp of 0 means the source
// has never completed a run and needs a full fetch.
type Entry struct {
	SourceID      string         `json:"source_id"`
	LastTimestamp int64          `json:"last_timestamp"`
	Metadata      map[string]any `json:"additional_metadata,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Manager owns the cursor store. Conversation files are never touched here.
type Manager struct {
	db *sql.DB
}

// Open opens (or creates) the state database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Manager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state: empty database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}
	// A single connection keeps writes serialized and makes ":memory:"
	// databases behave: every pooled connection would otherwise get its own
	// empty in-memory database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: set busy timeout: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	return &Manager{db: db}, nil
}

func (m *Manager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Register creates the entry for a source if it does not exist yet and
// returns the current entry either way.
func (m *Manager) Register(ctx context.Context, sourceID string) (*Entry, error) {
	if sourceID == "" {
		return nil, errors.New("state: empty source id")
	}
	now := time.Now().Unix()
	meta := map[string]any{
		"registration_id": uuid.NewString(),
		"registered_at":   now,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("state: marshal metadata: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO ingestor_state (source_id, last_timestamp, metadata_json, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(source_id) DO NOTHING
	`, sourceID, string(metaJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("state: register %s: %w", sourceID, err)
	}
	return m.Get(ctx, sourceID)
}

// Get returns a source's entry, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, sourceID string) (*Entry, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT source_id, last_timestamp, metadata_json, created_at, updated_at
		FROM ingestor_state
		WHERE source_id = ?
	`, sourceID)
	return scanEntry(row)
}

// Set replaces a source's cursor state wholesale.
func (m *Manager) Set(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.SourceID == "" {
		return errors.New("state: entry requires a source id")
	}
	metaJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO ingestor_state (source_id, last_timestamp, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_timestamp = excluded.last_timestamp,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`, entry.SourceID, entry.LastTimestamp, metaJSON, now, now)
	if err != nil {
		return fmt.Errorf("state: set %s: %w", entry.SourceID, err)
	}
	return nil
}

// Update applies fn to a source's entry inside a transaction, so concurrent
// read-modify-write cycles on the same source never lose updates.
func (m *Manager) Update(ctx context.Context, sourceID string, fn func(*Entry) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT source_id, last_timestamp, metadata_json, created_at, updated_at
		FROM ingestor_state
		WHERE source_id = ?
	`, sourceID)
	entry, err := scanEntry(row)
	if err != nil {
		return err
	}

	if err := fn(entry); err != nil {
		return err
	}

	metaJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE ingestor_state
		SET last_timestamp = ?, metadata_json = ?, updated_at = ?
		WHERE source_id = ?
	`, entry.LastTimestamp, metaJSON, time.Now().Unix(), sourceID)
	if err != nil {
		return fmt.Errorf("state: update %s: %w", sourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Touch records a completed run without moving the cursor. Even a no-op run
// updates last_run bookkeeping.
func (m *Manager) Touch(ctx context.Context, sourceID string) error {
	return m.Update(ctx, sourceID, func(e *Entry) error {
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		e.Metadata["last_run"] = time.Now().Unix()
		return nil
	})
}

// Reset removes a source's entry entirely. The next run does a full fetch.
func (m *Manager) Reset(ctx context.Context, sourceID string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM ingestor_state WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("state: reset %s: %w", sourceID, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	return nil
}

// List returns every known source entry, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT source_id, last_timestamp, metadata_json, created_at, updated_at
		FROM ingestor_state
		ORDER BY updated_at DESC, source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("state: list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			metaJSON string
		)
		if err := rows.Scan(&e.SourceID, &e.LastTimestamp, &metaJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("state: scan entry: %w", err)
		}
		if err := unmarshalMetadata(metaJSON, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e        Entry
		metaJSON string
	)
	err := row.Scan(&e.SourceID, &e.LastTimestamp, &metaJSON, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: scan entry: %w", err)
	}
	if err := unmarshalMetadata(metaJSON, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("state: marshal metadata: %w", err)
	}
	return string(raw), nil
}

func unmarshalMetadata(metaJSON string, e *Entry) error {
	if metaJSON == "" || metaJSON == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
		return fmt.Errorf("state: parse metadata for %s: %w", e.SourceID, err)
	}
	return nil
}
