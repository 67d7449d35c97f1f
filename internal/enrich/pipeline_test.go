package enrich

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

// fakeRecognizer returns canned fragments, failing the first failures calls.
type fakeRecognizer struct {
	mu       sync.Mutex
	frags    []Fragment
	failures int
	calls    int
}

func (f *fakeRecognizer) RecognizeText(ctx context.Context, img image.Image) ([]Fragment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("recognizer unavailable")
	}
	return f.frags, nil
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	st       *store.Store
	payloads *store.PayloadStore
	writer   *store.Writer
	eb       *bus.EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	p, err := store.NewPayloadStore(filepath.Join(dir, "payloads"))
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{st: st, payloads: p, writer: store.NewWriter(st, p), eb: bus.New()}
}

// insertPendingScreenshot persists a record with a real PNG payload.
func (e *testEnv) insertPendingScreenshot(t *testing.T) record.CaptureRecord {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	rec, err := e.writer.Persist(record.New(record.KindScreenshot), buf.Bytes(), "png")
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func fastConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Retry = RetryConfig{MaxRetries: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	return cfg
}

func waitForState(t *testing.T, st *store.Store, id string, want record.EnrichmentState) record.CaptureRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.EnrichmentState == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := st.Get(id)
	t.Fatalf("record %s state = %s, want %s", id, rec.EnrichmentState, want)
	return record.CaptureRecord{}
}

func TestPipeline_EnrichesPendingRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := env.insertPendingScreenshot(t)

	rz := &fakeRecognizer{frags: []Fragment{
		{Text: "hello", Confidence: 0.9},
		{Text: "noise", Confidence: 0.1},
		{Text: "world", Confidence: 0.8},
	}}

	pl := NewPipeline(fastConfig(1), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl.Stop()

	got := waitForState(t, env.st, rec.ID, record.StateDone)
	// The 0.1-confidence fragment falls below the 0.3 floor.
	if got.ExtractedText != "hello\nworld" {
		t.Errorf("extracted = %q, want %q", got.ExtractedText, "hello\nworld")
	}
}

func TestPipeline_EmptyTextStillDone(t *testing.T) {
	env := newTestEnv(t)
	rec := env.insertPendingScreenshot(t)

	// Everything below the confidence floor: still Done, just empty.
	rz := &fakeRecognizer{frags: []Fragment{{Text: "blur", Confidence: 0.05}}}

	pl := NewPipeline(fastConfig(1), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl.Stop()

	got := waitForState(t, env.st, rec.ID, record.StateDone)
	if got.ExtractedText != "" {
		t.Errorf("extracted = %q, want empty", got.ExtractedText)
	}
}

func TestPipeline_RetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	rec := env.insertPendingScreenshot(t)

	rz := &fakeRecognizer{failures: 2, frags: []Fragment{{Text: "recovered", Confidence: 0.9}}}

	pl := NewPipeline(fastConfig(1), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl.Stop()

	got := waitForState(t, env.st, rec.ID, record.StateDone)
	if got.ExtractedText != "recovered" {
		t.Errorf("extracted = %q", got.ExtractedText)
	}
	if rz.callCount() != 3 {
		t.Errorf("recognizer called %d times, want 3", rz.callCount())
	}
}

func TestPipeline_TerminalFailure(t *testing.T) {
	env := newTestEnv(t)
	rec := env.insertPendingScreenshot(t)

	// Always fails: exhausts retries, lands in FailedTerminal.
	rz := &fakeRecognizer{failures: 1 << 30}

	var mu sync.Mutex
	var enriched []bus.Event
	env.eb.Subscribe("test", func(ev bus.Event) {
		if ev.Type == bus.EventRecordEnriched {
			mu.Lock()
			enriched = append(enriched, ev)
			mu.Unlock()
		}
	})

	pl := NewPipeline(fastConfig(1), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl.Stop()

	got := waitForState(t, env.st, rec.ID, record.StateFailedTerminal)
	if got.ExtractedText != "" {
		t.Errorf("extracted = %q, want empty", got.ExtractedText)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(enriched) != 1 || enriched[0].Record.EnrichmentState != record.StateFailedTerminal {
		t.Errorf("enriched events = %+v", enriched)
	}
}

// blockingRecognizer holds every call until its context is canceled.
type blockingRecognizer struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingRecognizer) RecognizeText(ctx context.Context, img image.Image) ([]Fragment, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipeline_StopRequeuesInFlightRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := env.insertPendingScreenshot(t)

	rz := &blockingRecognizer{started: make(chan struct{})}
	pl := NewPipeline(fastConfig(1), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-rz.started:
	case <-time.After(3 * time.Second):
		t.Fatal("recognizer never claimed the record")
	}

	pl.Stop()

	// A shutdown-interrupted job goes back to pending, never terminal.
	got, err := env.st.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EnrichmentState != record.StatePending {
		t.Fatalf("state after Stop = %s, want %s", got.EnrichmentState, record.StatePending)
	}

	// A restarted pipeline picks the record up again.
	rz2 := &fakeRecognizer{frags: []Fragment{{Text: "resumed", Confidence: 0.9}}}
	pl2 := NewPipeline(fastConfig(1), rz2, env.st, env.payloads, env.eb)
	if err := pl2.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl2.Stop()

	got = waitForState(t, env.st, rec.ID, record.StateDone)
	if got.ExtractedText != "resumed" {
		t.Errorf("extracted = %q", got.ExtractedText)
	}
}

func TestPipeline_StartupSweepReclaimsOrphans(t *testing.T) {
	env := newTestEnv(t)
	rec := env.insertPendingScreenshot(t)

	// Simulate a crash: record claimed but never finished.
	if _, err := env.st.ClaimOldestPending(); err != nil {
		t.Fatal(err)
	}
	got, _ := env.st.Get(rec.ID)
	if got.EnrichmentState != record.StateProcessing {
		t.Fatalf("setup: state = %s", got.EnrichmentState)
	}

	rz := &fakeRecognizer{frags: []Fragment{{Text: "after crash", Confidence: 0.9}}}
	pl := NewPipeline(fastConfig(1), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl.Stop()

	got = waitForState(t, env.st, rec.ID, record.StateDone)
	if got.ExtractedText != "after crash" {
		t.Errorf("extracted = %q", got.ExtractedText)
	}
}

func TestPipeline_ParallelWorkersDrainOldestFirst(t *testing.T) {
	env := newTestEnv(t)

	var recs []record.CaptureRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, env.insertPendingScreenshot(t))
	}

	rz := &fakeRecognizer{frags: []Fragment{{Text: "ok", Confidence: 0.9}}}
	pl := NewPipeline(fastConfig(3), rz, env.st, env.payloads, env.eb)
	if err := pl.Start(); err != nil {
		t.Fatal(err)
	}
	defer pl.Stop()

	for _, r := range recs {
		waitForState(t, env.st, r.ID, record.StateDone)
	}

	_, byState, err := env.st.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if byState[record.StateDone] != 6 {
		t.Errorf("done = %d, want 6", byState[record.StateDone])
	}
}
