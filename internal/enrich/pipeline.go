package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

// Config controls the enrichment worker pool.
type Config struct {
	Workers       int
	MinConfidence float64
	MaxImageSide  int
	Retry         RetryConfig

	// PollInterval is how long an idle worker sleeps when no record is
	// pending.
	PollInterval time.Duration
}

// DefaultConfig returns the built-in pipeline settings.
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		MinConfidence: 0.3,
		MaxImageSide:  1600,
		Retry:         DefaultRetryConfig(),
		PollInterval:  500 * time.Millisecond,
	}
}

// Pipeline is the background OCR stage. Workers claim pending records
// oldest first via an exclusive pending→processing transition, so a
// record is never processed by two workers at once. Completion order
// across the pool is not guaranteed.
type Pipeline struct {
	cfg        Config
	recognizer Recognizer
	st         *store.Store
	payloads   *store.PayloadStore
	eventBus   *bus.EventBus

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewPipeline wires the enrichment stage.
func NewPipeline(cfg Config, recognizer Recognizer, st *store.Store, payloads *store.PayloadStore, eventBus *bus.EventBus) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Pipeline{
		cfg:        cfg,
		recognizer: recognizer,
		st:         st,
		payloads:   payloads,
		eventBus:   eventBus,
	}
}

// Start sweeps orphaned processing records back to pending (crash
// recovery) and launches the worker pool.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if _, err := p.st.ResetOrphanedProcessing(); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)
	p.running = true

	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		p.group.Go(func() error {
			p.workerLoop(ctx, worker)
			return nil
		})
	}

	slog.Info("enrichment pipeline started", "workers", p.cfg.Workers)
	return nil
}

// Stop halts the pool. In-flight jobs finish their current record
// before the workers exit, so Stop never strands a processing record.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	cancel()
	group.Wait()
	slog.Info("enrichment pipeline stopped")
}

func (p *Pipeline) workerLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err := p.st.ClaimOldestPending()
		if errors.Is(err, store.ErrNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			slog.Warn("enrichment claim failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.process(ctx, worker, rec)
	}
}

// process runs one record to a final state. Failures land in
// FailedTerminal; they never block the pipeline or escape to the
// scheduler.
func (p *Pipeline) process(ctx context.Context, worker int, rec record.CaptureRecord) {
	img, err := p.loadImage(rec)
	if err != nil {
		// Unreadable payload is permanent: no amount of retry will fix
		// a missing or corrupt file.
		slog.Warn("enrichment payload unreadable", "record", rec.ID, "error", err)
		p.finish(rec, "", record.StateFailedTerminal)
		return
	}

	img = p.downsize(img)

	frags, attempts, err := executeWithRetry(ctx, p.cfg.Retry, func() ([]Fragment, error) {
		return p.recognizer.RecognizeText(ctx, img)
	})
	if err != nil {
		// Shutdown interrupted the job, not the recognizer failing:
		// requeue so the next start picks it up again. FailedTerminal is
		// reserved for exhausted recognition retries.
		if ctx.Err() != nil {
			p.requeue(rec)
			return
		}
		slog.Warn("recognition failed terminally",
			"record", rec.ID, "worker", worker, "attempts", attempts, "error", err)
		p.finish(rec, "", record.StateFailedTerminal)
		return
	}

	text := p.joinFragments(frags)
	// No fragment above the confidence floor is still success: absence
	// of text is not a failure.
	p.finish(rec, text, record.StateDone)

	slog.Debug("record enriched", "record", rec.ID, "worker", worker, "chars", len(text))
}

// requeue returns an interrupted record to pending without publishing
// an enriched event.
func (p *Pipeline) requeue(rec record.CaptureRecord) {
	if err := p.st.SetEnrichment(rec.ID, "", record.StatePending); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("enrichment requeue failed", "record", rec.ID, "error", err)
		}
		return
	}
	slog.Debug("enrichment interrupted, record requeued", "record", rec.ID)
}

func (p *Pipeline) finish(rec record.CaptureRecord, text string, state record.EnrichmentState) {
	if err := p.st.SetEnrichment(rec.ID, text, state); err != nil {
		// Record may have been deleted mid-enrichment; nothing to update.
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("enrichment result write failed", "record", rec.ID, "error", err)
		}
		return
	}
	rec.ExtractedText = text
	rec.EnrichmentState = state
	p.eventBus.Publish(bus.Event{Type: bus.EventRecordEnriched, Record: rec})
}

func (p *Pipeline) loadImage(rec record.CaptureRecord) (image.Image, error) {
	if rec.PayloadPath == "" {
		return nil, fmt.Errorf("record %s has no payload", rec.ID)
	}
	data, err := p.payloads.Read(rec.PayloadPath)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", rec.PayloadPath, err)
	}
	return img, nil
}

// downsize bounds recognition latency on large frames.
func (p *Pipeline) downsize(img image.Image) image.Image {
	if p.cfg.MaxImageSide <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= p.cfg.MaxImageSide && b.Dy() <= p.cfg.MaxImageSide {
		return img
	}
	return imaging.Fit(img, p.cfg.MaxImageSide, p.cfg.MaxImageSide, imaging.Lanczos)
}

// joinFragments drops fragments below the confidence floor and joins
// the survivors with newlines.
func (p *Pipeline) joinFragments(frags []Fragment) string {
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		if f.Confidence < p.cfg.MinConfidence {
			continue
		}
		if t := strings.TrimSpace(f.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
