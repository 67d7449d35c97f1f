package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// deniedSurfaceInterval rate-limits user-visible CaptureDenied events:
// permission loss surfaces once, not on every attempt.
const deniedSurfaceInterval = 5 * time.Minute

// Scheduler triggers one capture per tick. Capture, dedup decision and
// persistence for tick N complete before tick N+1's frame is requested;
// the loop is a single goroutine and never holds a lock across a
// collaborator call.
type Scheduler struct {
	source   FrameSource
	filter   *DedupFilter
	writer   *store.Writer
	eventBus *bus.EventBus
	interval time.Duration

	deniedLimiter *rate.Limiter

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires the capture loop. It starts in Idle.
func NewScheduler(source FrameSource, filter *DedupFilter, writer *store.Writer, eventBus *bus.EventBus, interval time.Duration) *Scheduler {
	return &Scheduler{
		source:        source,
		filter:        filter,
		writer:        writer,
		eventBus:      eventBus,
		interval:      interval,
		deniedLimiter: rate.NewLimiter(rate.Every(deniedSurfaceInterval), 1),
		state:         StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the tick loop. No-op when already running or paused;
// returns an error after Stop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning, StatePaused:
		return nil
	case StateStopped:
		return fmt.Errorf("capture scheduler is stopped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	s.filter.Reset()

	go s.loop(ctx)

	slog.Info("capture scheduler started", "interval", s.interval)
	return nil
}

// Pause suspends ticking without tearing down the loop. Reversible.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StatePaused
		slog.Info("capture scheduler paused")
	}
}

// Resume continues ticking after a Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePaused {
		s.state = StateRunning
		slog.Info("capture scheduler resumed")
	}
}

// Stop terminates the loop. Terminal: the scheduler cannot be
// restarted. An in-flight tick finishes naturally before the loop
// exits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil && prev != StateIdle {
		<-done
	}
	slog.Info("capture scheduler stopped")
}

// CaptureOnce performs a single capture outside the tick cadence.
// Allowed in any state except Stopped.
func (s *Scheduler) CaptureOnce(ctx context.Context) (record.CaptureRecord, bool, error) {
	s.mu.Lock()
	stopped := s.state == StateStopped
	s.mu.Unlock()
	if stopped {
		return record.CaptureRecord{}, false, fmt.Errorf("capture scheduler is stopped")
	}
	return s.tick(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			st := s.state
			s.mu.Unlock()

			if st != StateRunning {
				if st == StateStopped {
					return
				}
				continue // paused
			}

			if _, _, err := s.tick(ctx); err != nil {
				if errors.Is(err, ErrCaptureDenied) {
					s.onDenied(err)
					return
				}
				// Transient failure: absorbed, next tick retries at the
				// configured cadence.
				slog.Warn("capture tick failed", "error", err)
			}
		}
	}
}

// tick requests one frame, runs the dedup decision and persists the
// accepted frame. Returns (record, accepted, error); a rejected frame
// is (zero, false, nil).
func (s *Scheduler) tick(ctx context.Context) (record.CaptureRecord, bool, error) {
	frame, err := s.source.CaptureFrame(ctx)
	if err != nil {
		return record.CaptureRecord{}, false, err
	}

	if !s.filter.ShouldAccept(frame.Image) {
		slog.Debug("frame rejected as near-duplicate")
		return record.CaptureRecord{}, false, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame.Image); err != nil {
		return record.CaptureRecord{}, false, fmt.Errorf("encode frame: %w", err)
	}

	r := record.New(record.KindScreenshot)
	r.SourceApp = frame.SourceApp
	r.WindowTitle = frame.WindowTitle
	r.SourceURL = frame.SourceURL

	persisted, err := s.writer.Persist(r, buf.Bytes(), "png")
	if err != nil {
		return record.CaptureRecord{}, false, err
	}

	slog.Debug("frame captured", "record", persisted.ID, "app", persisted.SourceApp)
	s.eventBus.Publish(bus.Event{Type: bus.EventRecordCreated, Record: persisted})
	return persisted, true, nil
}

// onDenied handles a permission failure: surface once (rate-limited)
// and idle rather than retrying in a hot loop. Start() brings the
// scheduler back once permission is restored.
func (s *Scheduler) onDenied(err error) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if s.deniedLimiter.Allow() {
		slog.Warn("capture denied, scheduler idling", "error", err)
		s.eventBus.Publish(bus.Event{Type: bus.EventCaptureDenied, Err: err})
	}
}
