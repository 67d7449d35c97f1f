// Package clipboard watches the system clipboard for changes,
// classifies new content and records it through the durable write
// path, enforcing a retention cap on clipboard-kind records.
package clipboard

import (
	"image"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/glimpse/internal/record"
)

// Payload is one clipboard read. At most one field group is meaningful;
// classification priority is image > files > URL-shaped text > text.
type Payload struct {
	Image image.Image
	Files []string
	Text  string
}

// Source is the platform clipboard collaborator. ChangeCounter
// increments whenever clipboard content changes; ReadContent returns
// the current content.
type Source interface {
	ChangeCounter() (int64, error)
	ReadContent() (Payload, error)
}

// Classify maps a payload to its record kind. Empty payloads return
// ("", false).
func Classify(p Payload) (record.Kind, bool) {
	if p.Image != nil {
		return record.KindClipboardImage, true
	}
	if len(p.Files) > 0 {
		return record.KindClipboardFile, true
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return "", false
	}
	if isURL(text) {
		return record.KindClipboardURL, true
	}
	return record.KindClipboardText, true
}

// isURL reports whether s is a single URL-shaped string: a parseable
// absolute URL with a web-ish scheme and a host.
func isURL(s string) bool {
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}
