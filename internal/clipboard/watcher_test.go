package clipboard

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

type fakeClipboard struct {
	mu      sync.Mutex
	counter int64
	payload Payload
}

func (f *fakeClipboard) set(p Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	f.payload = p
}

func (f *fakeClipboard) ChangeCounter() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter, nil
}

func (f *fakeClipboard) ReadContent() (Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, nil
}

func newTestWatcher(t *testing.T, maxItems int) (*Watcher, *fakeClipboard, *store.Store, *store.PayloadStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	payloads, err := store.NewPayloadStore(filepath.Join(dir, "payloads"))
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeClipboard{}
	w := NewWatcher(
		Config{PollInterval: 10 * time.Millisecond, MaxItems: maxItems},
		src, st, store.NewWriter(st, payloads), bus.New(),
	)
	return w, src, st, payloads
}

func clipboardRecords(t *testing.T, st *store.Store) []record.CaptureRecord {
	t.Helper()
	recs, err := st.Recent(100)
	if err != nil {
		t.Fatal(err)
	}
	var out []record.CaptureRecord
	for _, r := range recs {
		if r.Kind.IsClipboard() {
			out = append(out, r)
		}
	}
	return out
}

func TestWatcher_RecordsNewText(t *testing.T) {
	w, src, st, _ := newTestWatcher(t, 10)

	src.set(Payload{Text: "copied once"})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}

	recs := clipboardRecords(t, st)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Kind != record.KindClipboardText || recs[0].ExtractedText != "copied once" {
		t.Errorf("record = %+v", recs[0])
	}
	if recs[0].EnrichmentState != record.StateDone {
		t.Errorf("state = %s, want done", recs[0].EnrichmentState)
	}
}

func TestWatcher_IdenticalTextDeduped(t *testing.T) {
	w, src, st, _ := newTestWatcher(t, 10)

	src.set(Payload{Text: "same thing"})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}
	// Copied again, identical content.
	src.set(Payload{Text: "same thing"})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}

	if recs := clipboardRecords(t, st); len(recs) != 1 {
		t.Errorf("records = %d, want 1", len(recs))
	}
}

func TestWatcher_URLGetsSourceURL(t *testing.T) {
	w, src, st, _ := newTestWatcher(t, 10)

	src.set(Payload{Text: "https://example.com/doc"})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}

	recs := clipboardRecords(t, st)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Kind != record.KindClipboardURL || recs[0].SourceURL != "https://example.com/doc" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestWatcher_ImageStartsPendingWithPayload(t *testing.T) {
	w, src, st, payloads := newTestWatcher(t, 10)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 16), uint8(y * 16), 0, 255})
		}
	}
	src.set(Payload{Image: img})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}

	recs := clipboardRecords(t, st)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Kind != record.KindClipboardImage {
		t.Errorf("kind = %s", rec.Kind)
	}
	if rec.EnrichmentState != record.StatePending {
		t.Errorf("state = %s, want pending", rec.EnrichmentState)
	}
	if !payloads.Exists(rec.PayloadPath) {
		t.Errorf("payload %s missing", rec.PayloadPath)
	}
}

func TestWatcher_CapEvictsOldest(t *testing.T) {
	w, src, st, _ := newTestWatcher(t, 2)

	for _, text := range []string{"first", "second", "third"} {
		src.set(Payload{Text: text})
		if err := w.CheckNow(); err != nil {
			t.Fatal(err)
		}
		// Distinct created_at millis keep eviction order deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	recs := clipboardRecords(t, st)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	// Recent returns newest first; "first" must be gone.
	if recs[0].ExtractedText != "third" || recs[1].ExtractedText != "second" {
		t.Errorf("surviving = %q, %q", recs[0].ExtractedText, recs[1].ExtractedText)
	}
}

func TestWatcher_CapEvictionRemovesPayload(t *testing.T) {
	w, src, st, payloads := newTestWatcher(t, 1)

	// Checkerboards with opposite phase hash to opposite fingerprints;
	// uniform fills would collide under the mean-threshold hash.
	mkImage := func(invert bool) image.Image {
		img := image.NewRGBA(image.Rect(0, 0, 16, 16))
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				on := (x/4+y/4)%2 == 0
				if invert {
					on = !on
				}
				if on {
					img.Set(x, y, color.White)
				} else {
					img.Set(x, y, color.Black)
				}
			}
		}
		return img
	}

	src.set(Payload{Image: mkImage(false)})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}
	first := clipboardRecords(t, st)[0]
	time.Sleep(2 * time.Millisecond)

	src.set(Payload{Image: mkImage(true)})
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}

	recs := clipboardRecords(t, st)
	if len(recs) != 1 || recs[0].ID == first.ID {
		t.Fatalf("surviving = %+v", recs)
	}
	if payloads.Exists(first.PayloadPath) {
		t.Errorf("evicted payload %s still on disk", first.PayloadPath)
	}
}

func TestWatcher_FailedPersistRetriesOnNextPoll(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	payloadRoot := filepath.Join(dir, "payloads")
	payloads, err := store.NewPayloadStore(payloadRoot)
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeClipboard{}
	w := NewWatcher(
		Config{PollInterval: 10 * time.Millisecond, MaxItems: 10},
		src, st, store.NewWriter(st, payloads), bus.New(),
	)

	// A plain file where the day directory belongs makes every payload
	// write fail.
	dayDir := filepath.Join(payloadRoot, time.Now().UTC().Format("20060102"))
	if err := os.WriteFile(dayDir, []byte("in the way"), 0o644); err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 16), uint8(y * 16), 0, 255})
		}
	}
	src.set(Payload{Image: img})
	if err := w.CheckNow(); err == nil {
		t.Fatal("expected persist failure")
	}
	if recs := clipboardRecords(t, st); len(recs) != 0 {
		t.Fatalf("records after failed persist = %d, want 0", len(recs))
	}

	// Failed content must not be remembered as seen: once the payload
	// directory is usable again the same content gets recorded.
	if err := os.Remove(dayDir); err != nil {
		t.Fatal(err)
	}
	if err := w.CheckNow(); err != nil {
		t.Fatal(err)
	}
	if recs := clipboardRecords(t, st); len(recs) != 1 {
		t.Errorf("records after retry = %d, want 1", len(recs))
	}
}

func TestWatcher_PollLoopPicksUpChanges(t *testing.T) {
	w, src, st, _ := newTestWatcher(t, 10)

	w.StartMonitoring()
	defer w.StopMonitoring()

	src.set(Payload{Text: "via poll"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(clipboardRecords(t, st)) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("poll loop never recorded the change")
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	w, _, _, _ := newTestWatcher(t, 10)

	w.StartMonitoring()
	w.StartMonitoring()
	if !w.IsRunning() {
		t.Error("not running after Start")
	}
	w.StopMonitoring()
	w.StopMonitoring()
	if w.IsRunning() {
		t.Error("still running after Stop")
	}
}
