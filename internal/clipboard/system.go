package clipboard

import (
	"hash/fnv"

	"github.com/atotto/clipboard"
)

// SystemSource reads the OS clipboard. The portable clipboard API is
// text-only, so images and file lists never appear here; platform
// sources that expose richer pasteboard types can replace it. The OS
// offers no portable change counter either, so one is derived from a
// hash of the current content.
type SystemSource struct{}

// NewSystemSource returns the portable text clipboard source.
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// ChangeCounter hashes the current clipboard text: any content change
// yields a different counter value.
func (s *SystemSource) ChangeCounter() (int64, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	return int64(h.Sum64()), nil
}

// ReadContent returns the current clipboard text.
func (s *SystemSource) ReadContent() (Payload, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return Payload{}, err
	}
	return Payload{Text: text}, nil
}
