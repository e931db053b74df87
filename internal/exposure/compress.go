package exposure

import (
	"fmt"
	"math"
)

// ClipAndMask clips fp to the exposure's bounding box and removes every pixel
// that has any of the bits in bitmask set, or whose variance is not a
// positive finite number.
func ClipAndMask(fp *Footprint, e *Exposure, bitmask MaskPixel) *Footprint {
	clipped := fp.Clip(e.BBox)
	spans := make([]Span, 0, len(clipped.Spans))
	for _, s := range clipped.Spans {
		start := -1
		for x := s.X0; x <= s.X1; x++ {
			if usable(e, e.Index(x, s.Y), bitmask) {
				if start < 0 {
					start = x
				}
				continue
			}
			if start >= 0 {
				spans = append(spans, Span{Y: s.Y, X0: start, X1: x - 1})
				start = -1
			}
		}
		if start >= 0 {
			spans = append(spans, Span{Y: s.Y, X0: start, X1: s.X1})
		}
	}
	return NewFootprint(spans)
}

func usable(e *Exposure, i int, bitmask MaskPixel) bool {
	if e.Mask[i]&bitmask != 0 {
		return false
	}
	v := e.Variance[i]
	return v > 0 && !math.IsInf(v, 0)
}

// Compress copies the image and variance pixels covered by fp into data and
// variance, in footprint order. Both destinations must hold exactly
// fp.Npix() values and fp must lie inside the exposure.
func Compress(fp *Footprint, e *Exposure, data, variance []float64) error {
	if len(data) != fp.Npix() || len(variance) != fp.Npix() {
		return fmt.Errorf("compress %s: destination holds %d/%d pixels, footprint has %d",
			e.ID, len(data), len(variance), fp.Npix())
	}
	var outside bool
	fp.ForEach(func(i, x, y int) {
		if !e.Contains(x, y) {
			outside = true
			return
		}
		k := e.Index(x, y)
		data[i] = e.Image[k]
		variance[i] = e.Variance[k]
	})
	if outside {
		return fmt.Errorf("compress %s: footprint extends outside %v", e.ID, e.BBox)
	}
	return nil
}
