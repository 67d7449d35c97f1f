// Package record defines the capture record model shared by every
// pipeline stage: one record per observed unit of activity (a screen
// frame, a clipboard entry, or a committed typed phrase).
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a record captured.
type Kind string

const (
	KindScreenshot     Kind = "screenshot"
	KindClipboardText  Kind = "clipboard_text"
	KindClipboardImage Kind = "clipboard_image"
	KindClipboardURL   Kind = "clipboard_url"
	KindClipboardFile  Kind = "clipboard_file"
	KindTypedText      Kind = "typed_text"
	KindAudio          Kind = "audio"
	KindVideo          Kind = "video"
)

// IsClipboard reports whether the kind counts against the clipboard cap.
func (k Kind) IsClipboard() bool {
	switch k {
	case KindClipboardText, KindClipboardImage, KindClipboardURL, KindClipboardFile:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindScreenshot, KindClipboardText, KindClipboardImage, KindClipboardURL,
		KindClipboardFile, KindTypedText, KindAudio, KindVideo:
		return true
	}
	return false
}

// EnrichmentState tracks a record's progress through the OCR pipeline.
type EnrichmentState string

const (
	StatePending        EnrichmentState = "pending"
	StateProcessing     EnrichmentState = "processing"
	StateDone           EnrichmentState = "done"
	StateFailedTerminal EnrichmentState = "failed_terminal"
)

// CanTransition reports whether moving from s to next is a legal step.
// The only backward edge is processing → pending, used by the startup
// sweep to re-queue records orphaned by a crash.
func (s EnrichmentState) CanTransition(next EnrichmentState) bool {
	switch s {
	case StatePending:
		return next == StateProcessing
	case StateProcessing:
		return next == StateDone || next == StateFailedTerminal || next == StatePending
	}
	return false
}

// CaptureRecord is one observed unit of activity. ID and CreatedAt are
// immutable after creation; ExtractedText and EnrichmentState are
// mutated only by the enrichment pipeline.
type CaptureRecord struct {
	ID          string
	Kind        Kind
	CreatedAt   time.Time
	SourceApp   string
	WindowTitle string
	SourceURL   string

	// PayloadPath locates the binary payload on disk, empty for records
	// without one (typed text, clipboard text/URL).
	PayloadPath string

	ExtractedText   string
	EnrichmentState EnrichmentState
}

// New creates a record with a fresh ID, the current timestamp and the
// initial enrichment state for its kind: kinds carrying an image payload
// start pending, everything else is already done (nothing to extract).
func New(kind Kind) CaptureRecord {
	state := StateDone
	switch kind {
	case KindScreenshot, KindClipboardImage:
		state = StatePending
	}
	return CaptureRecord{
		ID:              uuid.NewString(),
		Kind:            kind,
		CreatedAt:       time.Now().UTC(),
		EnrichmentState: state,
	}
}

// Validate checks structural invariants before persistence.
func (r *CaptureRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("record %s: unknown kind %q", r.ID, r.Kind)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("record %s: zero created_at", r.ID)
	}
	switch r.EnrichmentState {
	case StatePending, StateProcessing, StateDone, StateFailedTerminal:
	default:
		return fmt.Errorf("record %s: unknown enrichment state %q", r.ID, r.EnrichmentState)
	}
	return nil
}
