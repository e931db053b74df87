package exposure

import (
	"image"
	"math"
)

// Span is a horizontal run of pixels on row Y covering X0..X1 inclusive.
type Span struct {
	Y  int `json:"y"`
	X0 int `json:"x0"`
	X1 int `json:"x1"`
}

// Len returns the number of pixels in the span.
func (s Span) Len() int {
	return s.X1 - s.X0 + 1
}

// Footprint is a set of pixels stored as row-ordered spans. Pixel order
// (span order, then increasing x) defines the layout of compressed buffers.
type Footprint struct {
	Spans []Span `json:"spans"`
	npix  int
}

// NewFootprint builds a footprint from spans, dropping empty ones.
func NewFootprint(spans []Span) *Footprint {
	fp := &Footprint{Spans: make([]Span, 0, len(spans))}
	for _, s := range spans {
		if s.X1 < s.X0 {
			continue
		}
		fp.Spans = append(fp.Spans, s)
		fp.npix += s.Len()
	}
	return fp
}

// NewCircularFootprint returns the pixels inside bounds whose centers lie
// within radius of center. A negative or non-finite radius or center gives
// an empty footprint.
func NewCircularFootprint(center Point, radius float64, bounds image.Rectangle) *Footprint {
	if bounds.Empty() || !(radius >= 0) || math.IsInf(radius, 0) || !center.finite() {
		return NewFootprint(nil)
	}
	// Clamp in float space so huge radii never reach an int conversion.
	y0 := max(math.Ceil(center.Y-radius), float64(bounds.Min.Y))
	y1 := min(math.Floor(center.Y+radius), float64(bounds.Max.Y-1))
	if y1 < y0 {
		return NewFootprint(nil)
	}
	spans := make([]Span, 0, int(y1-y0)+1)
	for y := int(y0); y <= int(y1); y++ {
		dy := float64(y) - center.Y
		half := math.Sqrt(math.Max(0, radius*radius-dy*dy))
		x0 := max(math.Ceil(center.X-half), float64(bounds.Min.X))
		x1 := min(math.Floor(center.X+half), float64(bounds.Max.X-1))
		if x1 < x0 {
			continue
		}
		spans = append(spans, Span{Y: y, X0: int(x0), X1: int(x1)})
	}
	return NewFootprint(spans)
}

// NewBoxFootprint covers every pixel of a rectangle.
func NewBoxFootprint(r image.Rectangle) *Footprint {
	spans := make([]Span, 0, r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		spans = append(spans, Span{Y: y, X0: r.Min.X, X1: r.Max.X - 1})
	}
	return NewFootprint(spans)
}

// Npix returns the number of pixels in the footprint.
func (fp *Footprint) Npix() int {
	return fp.npix
}

// BBox returns the smallest rectangle containing the footprint.
func (fp *Footprint) BBox() image.Rectangle {
	if len(fp.Spans) == 0 {
		return image.Rectangle{}
	}
	r := image.Rect(fp.Spans[0].X0, fp.Spans[0].Y, fp.Spans[0].X1+1, fp.Spans[0].Y+1)
	for _, s := range fp.Spans[1:] {
		r = r.Union(image.Rect(s.X0, s.Y, s.X1+1, s.Y+1))
	}
	return r
}

// ForEach calls fn for every pixel in buffer order. i is the position of the
// pixel in a compressed buffer.
func (fp *Footprint) ForEach(fn func(i, x, y int)) {
	i := 0
	for _, s := range fp.Spans {
		for x := s.X0; x <= s.X1; x++ {
			fn(i, x, s.Y)
			i++
		}
	}
}

// Clip returns the part of the footprint inside r.
func (fp *Footprint) Clip(r image.Rectangle) *Footprint {
	spans := make([]Span, 0, len(fp.Spans))
	for _, s := range fp.Spans {
		if s.Y < r.Min.Y || s.Y >= r.Max.Y {
			continue
		}
		spans = append(spans, Span{
			Y:  s.Y,
			X0: max(s.X0, r.Min.X),
			X1: min(s.X1, r.Max.X-1),
		})
	}
	return NewFootprint(spans)
}
