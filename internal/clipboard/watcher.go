package clipboard

import (
	"bytes"
	"errors"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/fingerprint"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

const (
	// dedupeTTL bounds how long a clipboard value suppresses an
	// identical re-read across rapid polls.
	dedupeTTL = 30 * time.Second

	dedupeCacheSize = 128
)

// Config controls the clipboard watcher.
type Config struct {
	PollInterval time.Duration
	MaxItems     int
}

// Watcher polls the clipboard change counter, records new content and
// evicts the oldest clipboard records once the cap is exceeded.
type Watcher struct {
	cfg      Config
	source   Source
	st       *store.Store
	writer   *store.Writer
	eventBus *bus.EventBus

	// seen suppresses re-recording unchanged content across rapid
	// polls: text keyed by value, images keyed by perceptual hash.
	seen *expirable.LRU[string, struct{}]

	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	done        chan struct{}
	lastCounter int64
}

// NewWatcher wires the clipboard stage.
func NewWatcher(cfg Config, source Source, st *store.Store, writer *store.Writer, eventBus *bus.EventBus) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100
	}
	return &Watcher{
		cfg:      cfg,
		source:   source,
		st:       st,
		writer:   writer,
		eventBus: eventBus,
		seen:     expirable.NewLRU[string, struct{}](dedupeCacheSize, nil, dedupeTTL),
	}
}

// StartMonitoring begins the poll loop. No-op when already running.
func (w *Watcher) StartMonitoring() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true

	go w.loop()
	slog.Info("clipboard watcher started", "poll_interval", w.cfg.PollInterval, "max_items", w.cfg.MaxItems)
}

// StopMonitoring halts the poll loop; an in-flight read finishes
// naturally.
func (w *Watcher) StopMonitoring() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	done := w.done
	w.mu.Unlock()

	<-done
	slog.Info("clipboard watcher stopped")
}

// IsRunning reports whether the poll loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll checks the change counter and processes new content.
// Poll failures are absorbed: the clipboard may be busy.
func (w *Watcher) poll() {
	counter, err := w.source.ChangeCounter()
	if err != nil {
		slog.Debug("clipboard counter read failed", "error", err)
		return
	}

	w.mu.Lock()
	changed := counter != w.lastCounter
	w.mu.Unlock()

	if !changed {
		return
	}
	if err := w.CheckNow(); err != nil {
		// Counter stays unrecorded, so the next poll retries.
		slog.Warn("clipboard processing failed", "error", err)
		return
	}
	w.mu.Lock()
	w.lastCounter = counter
	w.mu.Unlock()
}

// CheckNow reads and records the current clipboard content once,
// regardless of the change counter. Deduplication still applies.
func (w *Watcher) CheckNow() error {
	payload, err := w.source.ReadContent()
	if err != nil {
		return err
	}

	kind, ok := Classify(payload)
	if !ok {
		return nil
	}

	key := w.dedupeKey(kind, payload)
	if _, dup := w.seen.Get(key); dup {
		slog.Debug("clipboard content unchanged, skipped", "kind", kind)
		return nil
	}

	rec := record.New(kind)
	var payloadBytes []byte
	ext := ""

	switch kind {
	case record.KindClipboardImage:
		var buf bytes.Buffer
		if err := png.Encode(&buf, payload.Image); err != nil {
			return err
		}
		payloadBytes = buf.Bytes()
		ext = "png"
	case record.KindClipboardFile:
		rec.ExtractedText = strings.Join(payload.Files, "\n")
	case record.KindClipboardURL:
		rec.SourceURL = strings.TrimSpace(payload.Text)
		rec.ExtractedText = rec.SourceURL
	case record.KindClipboardText:
		rec.ExtractedText = payload.Text
	}

	persisted, err := w.writer.Persist(rec, payloadBytes, ext)
	if err != nil {
		// Not marked as seen: a later poll retries this content.
		return err
	}
	w.seen.Add(key, struct{}{})

	slog.Debug("clipboard recorded", "record", persisted.ID, "kind", kind)
	w.eventBus.Publish(bus.Event{Type: bus.EventRecordCreated, Record: persisted})

	w.enforceCap()
	return nil
}

// dedupeKey builds the suppression key: images by perceptual hash
// (same digest as the screen dedup filter), everything else by value.
func (w *Watcher) dedupeKey(kind record.Kind, p Payload) string {
	switch kind {
	case record.KindClipboardImage:
		return "img:" + fingerprint.Compute(p.Image).String()
	case record.KindClipboardFile:
		return "files:" + strings.Join(p.Files, "\x00")
	default:
		return "text:" + p.Text
	}
}

// enforceCap evicts the oldest clipboard records beyond MaxItems.
// Partial deletion failures are logged; both halves were attempted.
func (w *Watcher) enforceCap() {
	over, err := w.st.ClipboardOverflow(w.cfg.MaxItems)
	if err != nil {
		slog.Warn("clipboard cap check failed", "error", err)
		return
	}

	for _, rec := range over {
		if err := w.writer.Delete(rec); err != nil {
			var ef *store.EvictionFailure
			if errors.As(err, &ef) {
				slog.Warn("clipboard eviction incomplete", "record", rec.ID, "error", err)
			} else {
				slog.Warn("clipboard eviction failed", "record", rec.ID, "error", err)
			}
			continue
		}
		slog.Debug("clipboard record evicted", "record", rec.ID, "kind", rec.Kind)
		w.eventBus.Publish(bus.Event{Type: bus.EventRecordDeleted, Record: rec})
	}
}
