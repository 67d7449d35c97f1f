// Package history assembles the full capture-and-enrichment pipeline
// behind one service: capture scheduler, clipboard watcher, typed-text
// aggregator, enrichment workers, retention sweep and retrieval.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/capture"
	"github.com/nextlevelbuilder/glimpse/internal/clipboard"
	"github.com/nextlevelbuilder/glimpse/internal/config"
	"github.com/nextlevelbuilder/glimpse/internal/enrich"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/retention"
	"github.com/nextlevelbuilder/glimpse/internal/search"
	"github.com/nextlevelbuilder/glimpse/internal/store"
	"github.com/nextlevelbuilder/glimpse/internal/textinput"
)

// Collaborators are the platform integrations the service cannot
// provide itself: the screen grabber, the OCR engine and the clipboard.
// A nil FrameSource disables screen capture, a nil Recognizer disables
// enrichment, a nil ClipboardSource falls back to the portable text
// clipboard.
type Collaborators struct {
	FrameSource     capture.FrameSource
	Recognizer      enrich.Recognizer
	ClipboardSource clipboard.Source
}

// Status is a point-in-time snapshot of the service.
type Status struct {
	CaptureState     capture.State
	ClipboardRunning bool
	TextEnabled      bool
	RecordsByKind    map[record.Kind]int
	RecordsByState   map[record.EnrichmentState]int
}

// Service owns the shared store and every pipeline stage.
type Service struct {
	cfg      *config.Config
	st       *store.Store
	payloads *store.PayloadStore
	writer   *store.Writer
	eventBus *bus.EventBus

	filter     *capture.DedupFilter
	scheduler  *capture.Scheduler
	pipeline   *enrich.Pipeline
	clipWatch  *clipboard.Watcher
	aggregator *textinput.Aggregator
	sweeper    *retention.Sweeper
	engine     *search.Engine
}

// New opens the store under cfg.DataDir and wires every stage. Nothing
// runs until Start.
func New(cfg *config.Config, collab Collaborators) (*Service, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	payloads, err := store.NewPayloadStore(cfg.PayloadDir())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open payload store: %w", err)
	}

	writer := store.NewWriter(st, payloads)
	eventBus := bus.New()

	s := &Service{
		cfg:      cfg,
		st:       st,
		payloads: payloads,
		writer:   writer,
		eventBus: eventBus,
		engine:   search.NewEngine(st),
	}

	if collab.FrameSource != nil {
		s.filter = capture.NewDedupFilter(cfg.Capture.SimilarityThreshold)
		s.scheduler = capture.NewScheduler(
			collab.FrameSource, s.filter, writer, eventBus, cfg.CaptureInterval(),
		)
	}

	if collab.Recognizer != nil {
		enrichCfg := enrich.DefaultConfig()
		enrichCfg.Workers = cfg.Enrich.Workers
		enrichCfg.MinConfidence = cfg.Enrich.MinConfidence
		enrichCfg.MaxImageSide = cfg.Enrich.MaxImageSide
		enrichCfg.Retry.MaxRetries = cfg.Enrich.MaxRetries
		s.pipeline = enrich.NewPipeline(enrichCfg, collab.Recognizer, st, payloads, eventBus)
	}

	clipSource := collab.ClipboardSource
	if clipSource == nil {
		clipSource = clipboard.NewSystemSource()
	}
	s.clipWatch = clipboard.NewWatcher(
		clipboard.Config{PollInterval: cfg.ClipboardPollInterval(), MaxItems: cfg.Clipboard.MaxItems},
		clipSource, st, writer, eventBus,
	)

	s.aggregator = textinput.NewAggregator(
		textinput.Config{Debounce: cfg.TextDebounce(), MinLength: cfg.Text.MinLength},
		writer, eventBus,
	)

	if cfg.Retention.Schedule != "" {
		s.sweeper = retention.NewSweeper(
			retention.Config{
				Schedule:          cfg.Retention.Schedule,
				MaxAgeDays:        cfg.Retention.MaxAgeDays,
				ClipboardMaxItems: cfg.Clipboard.MaxItems,
			},
			st, writer, eventBus,
		)
	}

	return s, nil
}

// Start launches every configured stage.
func (s *Service) Start() error {
	if s.pipeline != nil {
		if err := s.pipeline.Start(); err != nil {
			return fmt.Errorf("start enrichment: %w", err)
		}
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
	}
	s.clipWatch.StartMonitoring()
	s.aggregator.Start()
	if s.sweeper != nil {
		if err := s.sweeper.Start(); err != nil {
			return fmt.Errorf("start retention: %w", err)
		}
	}
	slog.Info("history service started", "data_dir", s.cfg.DataDir)
	return nil
}

// Close stops every stage and releases the store. Safe to call after a
// partial Start.
func (s *Service) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.aggregator.Stop()
	s.clipWatch.StopMonitoring()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	err := s.st.Close()
	slog.Info("history service closed")
	return err
}

// EventBus exposes the shared event stream for external observers.
func (s *Service) EventBus() *bus.EventBus { return s.eventBus }

// StartCapture resumes periodic screen capture.
func (s *Service) StartCapture() error {
	if s.scheduler == nil {
		return fmt.Errorf("no frame source configured")
	}
	return s.scheduler.Start()
}

// StopCapture halts the capture loop permanently.
func (s *Service) StopCapture() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// PauseCapture suspends ticks without losing the loop.
func (s *Service) PauseCapture() {
	if s.scheduler != nil {
		s.scheduler.Pause()
	}
}

// ResumeCapture continues after PauseCapture.
func (s *Service) ResumeCapture() {
	if s.scheduler != nil {
		s.scheduler.Resume()
	}
}

// CaptureOnce grabs a single frame on demand.
func (s *Service) CaptureOnce(ctx context.Context) (record.CaptureRecord, bool, error) {
	if s.scheduler == nil {
		return record.CaptureRecord{}, false, fmt.Errorf("no frame source configured")
	}
	return s.scheduler.CaptureOnce(ctx)
}

// StartClipboard enables clipboard monitoring.
func (s *Service) StartClipboard() { s.clipWatch.StartMonitoring() }

// StopClipboard disables clipboard monitoring.
func (s *Service) StopClipboard() { s.clipWatch.StopMonitoring() }

// StartTextCapture enables keystroke buffering.
func (s *Service) StartTextCapture() { s.aggregator.Start() }

// StopTextCapture commits any pending buffer and disables buffering.
func (s *Service) StopTextCapture() { s.aggregator.Stop() }

// HandleKey forwards one keystroke to the typed-text aggregator.
func (s *Service) HandleKey(ev textinput.KeyEvent) { s.aggregator.HandleKey(ev) }

// Search runs the two-pass retrieval over stored records.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return s.engine.Search(ctx, query, limit)
}

// RecordsInRange returns records captured in [start, end), oldest first.
func (s *Service) RecordsInRange(start, end time.Time) ([]record.CaptureRecord, error) {
	return s.st.InRange(start, end)
}

// RecentRecords returns the newest records, newest first.
func (s *Service) RecentRecords(limit int) ([]record.CaptureRecord, error) {
	return s.st.Recent(limit)
}

// GetRecord fetches one record by id.
func (s *Service) GetRecord(id string) (record.CaptureRecord, error) {
	return s.st.Get(id)
}

// DeleteRecord removes a record and its payload. Both deletions are
// attempted even if one fails.
func (s *Service) DeleteRecord(id string) error {
	rec, err := s.st.Get(id)
	if err != nil {
		return err
	}
	if err := s.writer.Delete(rec); err != nil {
		return err
	}
	s.eventBus.Publish(bus.Event{Type: bus.EventRecordDeleted, Record: rec})
	return nil
}

// SweepNow runs a retention pass immediately.
func (s *Service) SweepNow() {
	if s.sweeper != nil {
		s.sweeper.SweepNow()
	}
}

// ApplyConfig applies the settings that can change without a restart:
// the dedup similarity threshold and the typed-text debounce and
// minimum length. Cadences and worker counts need a restart.
func (s *Service) ApplyConfig(cfg *config.Config) {
	if s.filter != nil {
		s.filter.SetThreshold(cfg.Capture.SimilarityThreshold)
	}
	s.aggregator.SetConfig(textinput.Config{
		Debounce:  cfg.TextDebounce(),
		MinLength: cfg.Text.MinLength,
	})
	slog.Info("config applied",
		"similarity_threshold", cfg.Capture.SimilarityThreshold,
		"text_debounce", cfg.TextDebounce(), "text_min_length", cfg.Text.MinLength)
}

// Status reports the current state of every stage and the store counts.
func (s *Service) Status() (Status, error) {
	byKind, byState, err := s.st.Counts()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		CaptureState:     capture.StateIdle,
		ClipboardRunning: s.clipWatch.IsRunning(),
		TextEnabled:      s.aggregator.IsEnabled(),
		RecordsByKind:    byKind,
		RecordsByState:   byState,
	}
	if s.scheduler != nil {
		st.CaptureState = s.scheduler.State()
	}
	return st, nil
}
