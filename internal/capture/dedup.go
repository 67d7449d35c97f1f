package capture

import (
	"image"
	"sync"

	"github.com/nextlevelbuilder/glimpse/internal/fingerprint"
)

// DedupFilter suppresses frames that are near-identical to the
// immediately preceding accepted frame. It is greedy and stateful: only
// the last accepted fingerprint is kept, trading recall of
// "similar-to-something-earlier" duplicates for O(1) memory and O(1)
// comparison per frame.
type DedupFilter struct {
	threshold float64

	mu      sync.Mutex
	last    fingerprint.Fingerprint
	hasLast bool
}

// NewDedupFilter creates a filter that accepts a frame iff its
// similarity to the previous accepted frame is below threshold.
// The caller is expected to pass an already-clamped threshold.
func NewDedupFilter(threshold float64) *DedupFilter {
	return &DedupFilter{threshold: threshold}
}

// SetThreshold replaces the similarity threshold. Takes effect on the
// next frame.
func (d *DedupFilter) SetThreshold(threshold float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
}

// ShouldAccept decides whether img is new enough to keep. The first
// frame of a session is always accepted. On acceptance the stored
// fingerprint is replaced.
func (d *DedupFilter) ShouldAccept(img image.Image) bool {
	fp := fingerprint.Compute(img)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasLast && fingerprint.Similarity(fp, d.last) >= d.threshold {
		return false
	}

	d.last = fp
	d.hasLast = true
	return true
}

// Reset forgets the last accepted fingerprint, so the next frame is
// accepted unconditionally. Used when capture restarts after an idle
// period.
func (d *DedupFilter) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasLast = false
}
