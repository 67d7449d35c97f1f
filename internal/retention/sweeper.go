// Package retention runs the scheduled cleanup pass: age-based record
// deletion and re-assertion of the clipboard cap.
package retention

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

// Config controls the retention sweep.
type Config struct {
	// Schedule is a cron expression for when the sweep runs.
	Schedule string

	// MaxAgeDays deletes records older than this many days. Zero
	// disables age-based deletion.
	MaxAgeDays int

	// ClipboardMaxItems re-asserts the clipboard cap during the sweep.
	// Zero skips the check.
	ClipboardMaxItems int
}

// Sweeper schedules and runs retention passes.
type Sweeper struct {
	cfg      Config
	st       *store.Store
	writer   *store.Writer
	eventBus *bus.EventBus

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	nextRun  time.Time
}

// NewSweeper wires the retention stage.
func NewSweeper(cfg Config, st *store.Store, writer *store.Writer, eventBus *bus.EventBus) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 4 * * *"
	}
	return &Sweeper{cfg: cfg, st: st, writer: writer, eventBus: eventBus}
}

// Start launches the schedule loop. No-op when already running.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	next, err := gronx.NextTick(s.cfg.Schedule, false)
	if err != nil {
		return err
	}
	s.nextRun = next
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop()
	slog.Info("retention sweeper started",
		"schedule", s.cfg.Schedule, "max_age_days", s.cfg.MaxAgeDays, "next_run", next)
	return nil
}

// Stop halts the schedule loop; an in-flight sweep finishes.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	slog.Info("retention sweeper stopped")
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			due := !now.Before(s.nextRun)
			s.mu.Unlock()
			if !due {
				continue
			}

			s.SweepNow()

			next, err := gronx.NextTick(s.cfg.Schedule, false)
			if err != nil {
				slog.Warn("retention schedule evaluation failed", "error", err)
				next = now.Add(24 * time.Hour)
			}
			s.mu.Lock()
			s.nextRun = next
			s.mu.Unlock()
		}
	}
}

// SweepNow runs one retention pass immediately: age-based deletion,
// then the clipboard cap. Per-record failures are logged and do not
// abort the pass.
func (s *Sweeper) SweepNow() {
	start := time.Now()
	deleted := 0

	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
		old, err := s.st.OlderThan(cutoff)
		if err != nil {
			slog.Warn("retention age query failed", "error", err)
		} else {
			deleted += s.deleteAll(old)
		}
	}

	if s.cfg.ClipboardMaxItems > 0 {
		over, err := s.st.ClipboardOverflow(s.cfg.ClipboardMaxItems)
		if err != nil {
			slog.Warn("retention clipboard cap query failed", "error", err)
		} else {
			deleted += s.deleteAll(over)
		}
	}

	slog.Info("retention sweep finished", "deleted", deleted, "elapsed", time.Since(start))
}

func (s *Sweeper) deleteAll(recs []record.CaptureRecord) int {
	deleted := 0
	for _, rec := range recs {
		if err := s.writer.Delete(rec); err != nil {
			var ef *store.EvictionFailure
			if errors.As(err, &ef) {
				slog.Warn("retention eviction incomplete", "record", rec.ID, "error", err)
			} else {
				slog.Warn("retention eviction failed", "record", rec.ID, "error", err)
			}
			continue
		}
		deleted++
		s.eventBus.Publish(bus.Event{Type: bus.EventRecordDeleted, Record: rec})
	}
	return deleted
}
