// Package textinput buffers keystroke events into typed-text records.
//
// Printable characters accumulate in a pending buffer tied to the focus
// context active when the buffer started. The buffer commits on
// Return/Enter, Tab, a focus change, an explicit stop, or after a quiet
// period; Escape discards it. Commits shorter than the minimum length
// are dropped silently.
package textinput

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

// Code identifies the non-printable key classes the aggregator reacts to.
type Code int

const (
	CodeChar Code = iota
	CodeReturn
	CodeTab
	CodeEscape
	CodeBackspace
)

// Focus describes the input destination at the time of a keystroke.
// Secure marks password-type fields; keystrokes there are never
// buffered. Detection is best effort, a filter rather than a security
// boundary.
type Focus struct {
	App         string
	WindowTitle string
	Secure      bool
}

// KeyEvent is one keystroke from the input collaborator. Rune carries
// the printable character when Code is CodeChar.
type KeyEvent struct {
	Rune  rune
	Code  Code
	Focus Focus
}

// Config controls the aggregator.
type Config struct {
	// Debounce is the quiet period after the last character before the
	// buffer commits on its own.
	Debounce time.Duration

	// MinLength is the shortest trimmed text worth recording.
	MinLength int
}

// DefaultConfig returns the built-in aggregator settings.
func DefaultConfig() Config {
	return Config{Debounce: 2 * time.Second, MinLength: 3}
}

// Aggregator turns keystroke streams into typed-text capture records.
type Aggregator struct {
	cfg      Config
	writer   *store.Writer
	eventBus *bus.EventBus

	mu      sync.Mutex
	enabled bool
	runes   []rune
	focus   Focus
	hasBuf  bool
	timer   *time.Timer
}

// NewAggregator wires the typed-text stage.
func NewAggregator(cfg Config, writer *store.Writer, eventBus *bus.EventBus) *Aggregator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 3
	}
	return &Aggregator{cfg: cfg, writer: writer, eventBus: eventBus}
}

// SetConfig replaces the debounce window and minimum length. Applies
// to the next buffer; a pending buffer keeps its current timer.
func (a *Aggregator) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.Debounce > 0 {
		a.cfg.Debounce = cfg.Debounce
	}
	if cfg.MinLength > 0 {
		a.cfg.MinLength = cfg.MinLength
	}
}

// Start enables keystroke buffering. No-op when already enabled.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return
	}
	a.enabled = true
	slog.Info("text aggregator started", "debounce", a.cfg.Debounce, "min_length", a.cfg.MinLength)
}

// Stop commits any pending buffer and disables buffering.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	a.enabled = false
	a.commitLocked()
	a.mu.Unlock()
	slog.Info("text aggregator stopped")
}

// IsEnabled reports whether keystrokes are being buffered.
func (a *Aggregator) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// HandleKey processes one keystroke. Safe for concurrent use.
func (a *Aggregator) HandleKey(ev KeyEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return
	}

	// A focus change commits whatever the previous context accumulated.
	if a.hasBuf && (ev.Focus.App != a.focus.App || ev.Focus.WindowTitle != a.focus.WindowTitle) {
		a.commitLocked()
	}

	switch ev.Code {
	case CodeReturn, CodeTab:
		a.commitLocked()
	case CodeEscape:
		a.discardLocked()
	case CodeBackspace:
		if len(a.runes) > 0 {
			a.runes = a.runes[:len(a.runes)-1]
			a.resetTimerLocked()
		}
	case CodeChar:
		if ev.Focus.Secure {
			return
		}
		if !unicode.IsPrint(ev.Rune) {
			return
		}
		if !a.hasBuf {
			// Focus context is captured when the buffer starts.
			a.hasBuf = true
			a.focus = ev.Focus
		}
		a.runes = append(a.runes, ev.Rune)
		a.resetTimerLocked()
	}
}

// Flush commits the pending buffer immediately.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commitLocked()
}

func (a *Aggregator) resetTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.cfg.Debounce, a.Flush)
}

func (a *Aggregator) discardLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.runes = nil
	a.hasBuf = false
}

// commitLocked records the buffer if it meets the minimum length.
// Callers hold a.mu.
func (a *Aggregator) commitLocked() {
	if !a.hasBuf {
		return
	}
	text := strings.TrimSpace(string(a.runes))
	focus := a.focus
	a.discardLocked()

	if len([]rune(text)) < a.cfg.MinLength {
		return
	}

	rec := record.New(record.KindTypedText)
	rec.ExtractedText = text
	rec.SourceApp = focus.App
	rec.WindowTitle = focus.WindowTitle

	persisted, err := a.writer.Persist(rec, nil, "")
	if err != nil {
		slog.Warn("typed text persist failed", "error", err)
		return
	}

	slog.Debug("typed text recorded", "record", persisted.ID, "chars", len(text), "app", focus.App)
	a.eventBus.Publish(bus.Event{Type: bus.EventRecordCreated, Record: persisted})
}
