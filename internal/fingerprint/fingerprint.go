// Package fingerprint computes compact perceptual digests of bitmaps
// for cheap near-duplicate detection. A fingerprint is a 64-bit average
// hash: the image is downsampled to an 8x8 grayscale grid and each cell
// becomes one bit (1 if at or above the grid mean).
package fingerprint

import (
	"fmt"
	"image"
	"math/bits"

	"github.com/disintegration/imaging"
)

// gridSide is the downsample grid dimension. 8x8 = 64 bits.
const gridSide = 8

// Bits is the fingerprint length in bits.
const Bits = gridSide * gridSide

// Fingerprint is an ordered 64-bit sequence. The zero value is a valid
// fingerprint (an all-dark frame hashes to zero), so presence must be
// tracked separately by callers.
type Fingerprint uint64

// Compute derives the perceptual fingerprint of img.
func Compute(img image.Image) Fingerprint {
	small := imaging.Grayscale(imaging.Resize(img, gridSide, gridSide, imaging.Lanczos))

	var lum [Bits]uint32
	var sum uint64
	for y := 0; y < gridSide; y++ {
		for x := 0; x < gridSide; x++ {
			// Grayscale output has R==G==B; any channel is the luminance.
			r, _, _, _ := small.At(x, y).RGBA()
			lum[y*gridSide+x] = r
			sum += uint64(r)
		}
	}
	mean := uint32(sum / Bits)

	var fp Fingerprint
	for i, v := range lum {
		if v >= mean {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Similarity normalizes the Hamming distance to [0,1]: 1.0 means the
// fingerprints are identical. Symmetric in its arguments.
func Similarity(a, b Fingerprint) float64 {
	return 1.0 - float64(Distance(a, b))/float64(Bits)
}

// String returns the fingerprint as 16 hex digits, usable as a dedupe key.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}
