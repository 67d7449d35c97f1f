// Package capture drives the periodic screen capture loop: a scheduler
// ticks on a fixed cadence, requests one frame from the platform frame
// source, runs it through the perceptual dedup filter, and hands
// accepted frames to the durable write path.
package capture

import (
	"context"
	"errors"
	"image"
)

// ErrCaptureDenied signals that the frame source cannot capture,
// typically because the screen-recording permission was revoked.
// Sources wrap this sentinel so the scheduler can idle instead of
// retrying in a hot loop.
var ErrCaptureDenied = errors.New("capture denied")

// Frame is one captured bitmap plus its capture-time context.
type Frame struct {
	Image       image.Image
	SourceApp   string
	WindowTitle string
	SourceURL   string
}

// FrameSource is the platform collaborator that produces bitmaps on
// request. Implementations live outside the core.
type FrameSource interface {
	CaptureFrame(ctx context.Context) (Frame, error)
}
