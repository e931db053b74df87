package exposure

import (
	"errors"
	"fmt"
	"image"
)

// ErrShape is returned when an exposure's planes do not match its bounding box.
var ErrShape = errors.New("exposure plane size does not match bounding box")

// Exposure is one calibrated image: data, variance and mask planes over a
// pixel bounding box, plus the PSF and WCS that describe how the sky maps
// onto it.
type Exposure struct {
	ID       string
	Filter   int
	BBox     image.Rectangle
	Image    []float64
	Variance []float64
	Mask     []MaskPixel
	PSF      *PSF
	WCS      WCS
}

// New allocates an exposure with zeroed planes.
func New(bbox image.Rectangle, psf *PSF, wcs WCS) *Exposure {
	n := bbox.Dx() * bbox.Dy()
	return &Exposure{
		BBox:     bbox,
		Image:    make([]float64, n),
		Variance: make([]float64, n),
		Mask:     make([]MaskPixel, n),
		PSF:      psf,
		WCS:      wcs,
	}
}

// Validate checks that every plane covers the bounding box.
func (e *Exposure) Validate() error {
	n := e.BBox.Dx() * e.BBox.Dy()
	if len(e.Image) != n || len(e.Variance) != n || len(e.Mask) != n {
		return fmt.Errorf("%w: %s has %d/%d/%d pixels, want %d",
			ErrShape, e.ID, len(e.Image), len(e.Variance), len(e.Mask), n)
	}
	if e.PSF == nil || e.WCS == nil {
		return fmt.Errorf("exposure %s: missing PSF or WCS", e.ID)
	}
	return nil
}

// Index returns the offset of pixel (x, y) into the planes.
func (e *Exposure) Index(x, y int) int {
	return (y-e.BBox.Min.Y)*e.BBox.Dx() + (x - e.BBox.Min.X)
}

// Contains reports whether (x, y) lies inside the bounding box.
func (e *Exposure) Contains(x, y int) bool {
	return image.Pt(x, y).In(e.BBox)
}
