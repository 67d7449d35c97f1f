// Package store persists capture records and their binary payloads.
// Metadata lives in a sqlite database; payloads live as files under a
// content directory keyed by timestamp + record id. The durable write
// path (persist.go) ties the two together with bounded retry.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/glimpse/internal/record"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the sqlite-backed record datastore. Reads may run
// concurrently; writes are serialized through the mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("record store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			source_app TEXT NOT NULL DEFAULT '',
			window_title TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			payload_path TEXT NOT NULL DEFAULT '',
			extracted_text TEXT NOT NULL DEFAULT '',
			enrichment_state TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_records_state ON records(enrichment_state)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Insert writes a new record row.
func (s *Store) Insert(r record.CaptureRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO records
		(id, kind, created_at, source_app, window_title, source_url, payload_path, extracted_text, enrichment_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.CreatedAt.UnixMilli(), r.SourceApp, r.WindowTitle,
		r.SourceURL, r.PayloadPath, r.ExtractedText, string(r.EnrichmentState))
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	return nil
}

// Get returns a record by id.
func (s *Store) Get(id string) (record.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectCols+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.CaptureRecord{}, ErrNotFound
	}
	return r, err
}

// Delete removes a record row. Payload deletion is the caller's
// responsibility (see Writer.Delete in persist.go).
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnrichment stores the extracted text and final state for a record.
func (s *Store) SetEnrichment(id, text string, state record.EnrichmentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE records SET extracted_text = ?, enrichment_state = ? WHERE id = ?`,
		text, string(state), id)
	if err != nil {
		return fmt.Errorf("update enrichment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimOldestPending atomically transitions the oldest pending record to
// processing and returns it. A record claimed here is owned exclusively
// by the claiming worker until it reaches a final state.
// Returns ErrNotFound when nothing is pending.
func (s *Store) ClaimOldestPending() (record.CaptureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return record.CaptureRecord{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(selectCols + ` FROM records
		WHERE enrichment_state = 'pending'
		ORDER BY created_at ASC LIMIT 1`)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.CaptureRecord{}, ErrNotFound
	}
	if err != nil {
		return record.CaptureRecord{}, err
	}

	res, err := tx.Exec(`UPDATE records SET enrichment_state = 'processing'
		WHERE id = ? AND enrichment_state = 'pending'`, r.ID)
	if err != nil {
		return record.CaptureRecord{}, fmt.Errorf("claim %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return record.CaptureRecord{}, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return record.CaptureRecord{}, err
	}

	r.EnrichmentState = record.StateProcessing
	return r, nil
}

// ResetOrphanedProcessing moves every processing record back to pending.
// Called once at startup: any record still marked processing has no
// live owner and was orphaned by a previous shutdown.
func (s *Store) ResetOrphanedProcessing() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE records SET enrichment_state = 'pending'
		WHERE enrichment_state = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned processing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("reset orphaned processing records", "count", n)
	}
	return int(n), nil
}

// InRange returns records with created_at in [start, end], newest first.
func (s *Store) InRange(start, end time.Time) ([]record.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectCols+` FROM records
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the newest limit records.
func (s *Store) Recent(limit int) ([]record.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectCols+` FROM records
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SubstringSearch returns records where the query appears (case
// insensitive) in extracted text, window title, source app or source
// URL, newest first, capped at limit.
func (s *Store) SubstringSearch(query string, limit int) ([]record.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(selectCols+` FROM records
		WHERE extracted_text LIKE ? ESCAPE '\'
		   OR window_title LIKE ? ESCAPE '\'
		   OR source_app LIKE ? ESCAPE '\'
		   OR source_url LIKE ? ESCAPE '\'
		ORDER BY created_at DESC LIMIT ?`,
		pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ClipboardOverflow returns the oldest clipboard-kind records beyond
// the retained cap, oldest first. These are the eviction candidates.
func (s *Store) ClipboardOverflow(maxItems int) ([]record.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectCols+` FROM records
		WHERE kind IN ('clipboard_text', 'clipboard_image', 'clipboard_url', 'clipboard_file')
		ORDER BY created_at DESC LIMIT -1 OFFSET ?`, maxItems)
	if err != nil {
		return nil, fmt.Errorf("clipboard overflow query: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	// Returned newest-first beyond the cap; evict oldest first.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// OlderThan returns records created before the cutoff, oldest first.
func (s *Store) OlderThan(cutoff time.Time) ([]record.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectCols+` FROM records
		WHERE created_at < ? ORDER BY created_at ASC`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("older-than query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Counts returns record totals per kind and per enrichment state.
func (s *Store) Counts() (byKind map[record.Kind]int, byState map[record.EnrichmentState]int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind = make(map[record.Kind]int)
	byState = make(map[record.EnrichmentState]int)

	rows, err := s.db.Query(`SELECT kind, enrichment_state, COUNT(*) FROM records GROUP BY kind, enrichment_state`)
	if err != nil {
		return nil, nil, fmt.Errorf("counts query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, state string
		var n int
		if err := rows.Scan(&kind, &state, &n); err != nil {
			return nil, nil, err
		}
		byKind[record.Kind(kind)] += n
		byState[record.EnrichmentState(state)] += n
	}
	return byKind, byState, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectCols = `SELECT id, kind, created_at, source_app, window_title, source_url, payload_path, extracted_text, enrichment_state`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.CaptureRecord, error) {
	var r record.CaptureRecord
	var kind, state string
	var createdMS int64
	err := row.Scan(&r.ID, &kind, &createdMS, &r.SourceApp, &r.WindowTitle,
		&r.SourceURL, &r.PayloadPath, &r.ExtractedText, &state)
	if err != nil {
		return record.CaptureRecord{}, err
	}
	r.Kind = record.Kind(kind)
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	r.EnrichmentState = record.EnrichmentState(state)
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]record.CaptureRecord, error) {
	var recs []record.CaptureRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// escapeLike escapes LIKE metacharacters so user queries match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
