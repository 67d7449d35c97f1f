package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/glimpse/internal/record"
)

// WriteError marks a persistence failure that survived all retries.
// The record was dropped; the caller is responsible for surfacing it.
type WriteError struct {
	RecordID string
	Stage    string // "payload" or "metadata"
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("durable write failed for %s at %s stage: %v", e.RecordID, e.Stage, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

const (
	writeAttempts = 3
	writeBackoff  = 150 * time.Millisecond
)

// Writer is the durable write path: payload first, metadata second,
// each with bounded retry. A metadata row is never visible with a
// dangling payload path under normal completion.
type Writer struct {
	store    *Store
	payloads *PayloadStore
}

// NewWriter ties a record store and a payload store together.
func NewWriter(store *Store, payloads *PayloadStore) *Writer {
	return &Writer{store: store, payloads: payloads}
}

// Persist writes the payload (if any) and then the metadata record.
// payloadExt names the file extension for the payload ("png", "jpg").
// On payload failure the metadata write is skipped. Failures after all
// retries surface as *WriteError; the record is not silently lost.
func (w *Writer) Persist(r record.CaptureRecord, payload []byte, payloadExt string) (record.CaptureRecord, error) {
	if len(payload) > 0 {
		r.PayloadPath = w.payloads.PathFor(r.ID, r.CreatedAt, payloadExt)
		if err := retry(writeAttempts, writeBackoff, func() error {
			return w.payloads.Write(r.PayloadPath, payload)
		}); err != nil {
			return r, &WriteError{RecordID: r.ID, Stage: "payload", Err: err}
		}
	}

	if err := retry(writeAttempts, writeBackoff, func() error {
		return w.store.Insert(r)
	}); err != nil {
		// Metadata never landed; remove the payload so no unreferenced
		// file lingers. Best effort.
		if r.PayloadPath != "" {
			if derr := w.payloads.Delete(r.PayloadPath); derr != nil {
				slog.Warn("orphan payload cleanup failed", "record", r.ID, "path", r.PayloadPath, "error", derr)
			}
		}
		return r, &WriteError{RecordID: r.ID, Stage: "metadata", Err: err}
	}

	return r, nil
}

// EvictionFailure reports a partially failed deletion: one half
// (payload file or metadata row) could not be removed. The other half
// was still attempted.
type EvictionFailure struct {
	RecordID    string
	PayloadErr  error
	MetadataErr error
}

func (e *EvictionFailure) Error() string {
	return fmt.Sprintf("eviction of %s incomplete (payload: %v, metadata: %v)",
		e.RecordID, e.PayloadErr, e.MetadataErr)
}

// Delete removes a record and its payload. The two halves are not
// atomic: both are attempted regardless of the other's outcome, and a
// partial failure is logged and returned as *EvictionFailure. The
// metadata row is kept when its deletion fails, so the record stays
// queryable rather than leaving a dangling reference.
func (w *Writer) Delete(r record.CaptureRecord) error {
	var payloadErr, metaErr error

	if r.PayloadPath != "" {
		payloadErr = w.payloads.Delete(r.PayloadPath)
		if payloadErr != nil {
			slog.Warn("payload deletion failed", "record", r.ID, "path", r.PayloadPath, "error", payloadErr)
		}
	}

	metaErr = w.store.Delete(r.ID)
	if metaErr != nil && !errors.Is(metaErr, ErrNotFound) {
		slog.Warn("metadata deletion failed", "record", r.ID, "error", metaErr)
	} else if errors.Is(metaErr, ErrNotFound) {
		metaErr = nil
	}

	if payloadErr != nil || metaErr != nil {
		return &EvictionFailure{RecordID: r.ID, PayloadErr: payloadErr, MetadataErr: metaErr}
	}
	return nil
}

// retry runs fn up to attempts times with a fixed delay between tries.
func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
