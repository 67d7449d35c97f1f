// Package platform resolves the OS-specific capture collaborators.
//
// Screen grabbing and OCR are native integrations supplied per
// platform; where no backend is linked in, the corresponding stage
// stays disabled and the rest of the pipeline runs normally.
package platform

import (
	"github.com/nextlevelbuilder/glimpse/internal/history"
)

// Collaborators returns the integrations available on this build.
// A nil ClipboardSource selects the portable text clipboard.
func Collaborators() history.Collaborators {
	return history.Collaborators{
		FrameSource:     nil,
		Recognizer:      nil,
		ClipboardSource: nil,
	}
}
