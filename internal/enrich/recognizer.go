// Package enrich runs the asynchronous OCR stage: background workers
// pull pending records, hand their payload bitmap to the text
// recognition collaborator, and write the extracted text back.
package enrich

import (
	"context"
	"image"
)

// Fragment is one recognized text run with its confidence in [0,1].
type Fragment struct {
	Text       string
	Confidence float64
}

// Recognizer is the external text recognition engine. Implementations
// live outside the core.
type Recognizer interface {
	RecognizeText(ctx context.Context, img image.Image) ([]Fragment, error)
}
