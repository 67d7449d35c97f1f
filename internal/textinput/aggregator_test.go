package textinput

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/glimpse/internal/bus"
	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

func newTestAggregator(t *testing.T, debounce time.Duration) (*Aggregator, *store.Store) {
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

	a := NewAggregator(
		Config{Debounce: debounce, MinLength: 3},
		store.NewWriter(st, payloads), bus.New(),
	)
	a.Start()
	t.Cleanup(a.Stop)
	return a, st
}

func typeText(a *Aggregator, focus Focus, s string) {
	for _, r := range s {
		a.HandleKey(KeyEvent{Rune: r, Code: CodeChar, Focus: focus})
	}
}

func typedRecords(t *testing.T, st *store.Store) []record.CaptureRecord {
	t.Helper()
	recs, err := st.Recent(100)
	if err != nil {
		t.Fatal(err)
	}
	var out []record.CaptureRecord
	for _, r := range recs {
		if r.Kind == record.KindTypedText {
			out = append(out, r)
		}
	}
	return out
}

func waitForTyped(t *testing.T, st *store.Store, want int) []record.CaptureRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs := typedRecords(t, st); len(recs) >= want {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never reached %d typed records", want)
	return nil
}

func TestAggregator_DebounceCommit(t *testing.T) {
	a, st := newTestAggregator(t, 30*time.Millisecond)
	focus := Focus{App: "editor", WindowTitle: "notes.txt"}

	typeText(a, focus, "hello")

	recs := waitForTyped(t, st, 1)
	if recs[0].ExtractedText != "hello" {
		t.Errorf("text = %q, want %q", recs[0].ExtractedText, "hello")
	}
	if recs[0].SourceApp != "editor" || recs[0].WindowTitle != "notes.txt" {
		t.Errorf("focus = %q / %q", recs[0].SourceApp, recs[0].WindowTitle)
	}
	if recs[0].EnrichmentState != record.StateDone {
		t.Errorf("state = %s, want done", recs[0].EnrichmentState)
	}
}

func TestAggregator_ShortBufferDiscarded(t *testing.T) {
	a, st := newTestAggregator(t, 20*time.Millisecond)

	typeText(a, Focus{App: "editor"}, "hi")
	time.Sleep(100 * time.Millisecond)

	if recs := typedRecords(t, st); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestAggregator_ReturnCommitsImmediately(t *testing.T) {
	a, st := newTestAggregator(t, time.Hour)
	focus := Focus{App: "terminal"}

	typeText(a, focus, "make test")
	a.HandleKey(KeyEvent{Code: CodeReturn, Focus: focus})

	recs := typedRecords(t, st)
	if len(recs) != 1 || recs[0].ExtractedText != "make test" {
		t.Errorf("records = %+v", recs)
	}
}

func TestAggregator_EscapeCancels(t *testing.T) {
	a, st := newTestAggregator(t, 20*time.Millisecond)
	focus := Focus{App: "editor"}

	typeText(a, focus, "never mind this")
	a.HandleKey(KeyEvent{Code: CodeEscape, Focus: focus})
	time.Sleep(100 * time.Millisecond)

	if recs := typedRecords(t, st); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestAggregator_FocusChangeCommitsPrevious(t *testing.T) {
	a, st := newTestAggregator(t, time.Hour)

	typeText(a, Focus{App: "editor", WindowTitle: "a.txt"}, "first window")
	typeText(a, Focus{App: "browser", WindowTitle: "search"}, "second")
	a.HandleKey(KeyEvent{Code: CodeReturn, Focus: Focus{App: "browser", WindowTitle: "search"}})

	recs := typedRecords(t, st)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	// Each record keeps the focus captured at its buffer start.
	byText := map[string]record.CaptureRecord{}
	for _, r := range recs {
		byText[r.ExtractedText] = r
	}
	if byText["first window"].SourceApp != "editor" {
		t.Errorf("first record app = %q", byText["first window"].SourceApp)
	}
	if byText["second"].SourceApp != "browser" {
		t.Errorf("second record app = %q", byText["second"].SourceApp)
	}
}

func TestAggregator_SecureFieldSkipped(t *testing.T) {
	a, st := newTestAggregator(t, 20*time.Millisecond)

	typeText(a, Focus{App: "browser", Secure: true}, "hunter2hunter2")
	time.Sleep(100 * time.Millisecond)

	if recs := typedRecords(t, st); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestAggregator_BackspaceEdits(t *testing.T) {
	a, st := newTestAggregator(t, time.Hour)
	focus := Focus{App: "editor"}

	typeText(a, focus, "helloo")
	a.HandleKey(KeyEvent{Code: CodeBackspace, Focus: focus})
	a.HandleKey(KeyEvent{Code: CodeReturn, Focus: focus})

	recs := typedRecords(t, st)
	if len(recs) != 1 || recs[0].ExtractedText != "hello" {
		t.Errorf("records = %+v", recs)
	}
}

func TestAggregator_StopCommitsPending(t *testing.T) {
	a, st := newTestAggregator(t, time.Hour)

	typeText(a, Focus{App: "editor"}, "pending on stop")
	a.Stop()

	recs := typedRecords(t, st)
	if len(recs) != 1 || recs[0].ExtractedText != "pending on stop" {
		t.Errorf("records = %+v", recs)
	}
}
