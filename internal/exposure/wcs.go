package exposure

import (
	"errors"
	"math"
)

// Point is a 2D coordinate, either on the sky or on a pixel grid.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Jacobian is the 2x2 matrix of partial derivatives d(pixel)/d(sky).
// Jacobian[i][j] = d pixel_i / d sky_j.
type Jacobian [2][2]float64

// Det returns the determinant of the Jacobian.
func (j Jacobian) Det() float64 {
	return j[0][0]*j[1][1] - j[0][1]*j[1][0]
}

// WCS maps sky coordinates onto an exposure's pixel grid.
type WCS interface {
	SkyToPixel(sky Point) Point
	PixelToSky(pix Point) Point
	// SkyToPixelJacobian linearizes SkyToPixel at the given sky position.
	SkyToPixelJacobian(sky Point) Jacobian
}

// ErrSingularWCS is returned when a CD matrix cannot be inverted.
var ErrSingularWCS = errors.New("singular CD matrix")

// AffineWCS is a linear sky/pixel mapping: sky = CRVal + CD * (pix - CRPix).
type AffineWCS struct {
	CRPix Point         `json:"crpix"`
	CRVal Point         `json:"crval"`
	CD    [2][2]float64 `json:"cd"`

	inv Jacobian
}

// NewAffineWCS builds an affine mapping and precomputes its inverse.
func NewAffineWCS(crpix, crval Point, cd [2][2]float64) (*AffineWCS, error) {
	w := &AffineWCS{CRPix: crpix, CRVal: crval, CD: cd}
	if err := w.init(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *AffineWCS) init() error {
	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return ErrSingularWCS
	}
	w.inv = Jacobian{
		{w.CD[1][1] / det, -w.CD[0][1] / det},
		{-w.CD[1][0] / det, w.CD[0][0] / det},
	}
	return nil
}

// SkyToPixel implements WCS.
func (w *AffineWCS) SkyToPixel(sky Point) Point {
	dx := sky.X - w.CRVal.X
	dy := sky.Y - w.CRVal.Y
	return Point{
		X: w.CRPix.X + w.inv[0][0]*dx + w.inv[0][1]*dy,
		Y: w.CRPix.Y + w.inv[1][0]*dx + w.inv[1][1]*dy,
	}
}

// PixelToSky implements WCS.
func (w *AffineWCS) PixelToSky(pix Point) Point {
	dx := pix.X - w.CRPix.X
	dy := pix.Y - w.CRPix.Y
	return Point{
		X: w.CRVal.X + w.CD[0][0]*dx + w.CD[0][1]*dy,
		Y: w.CRVal.Y + w.CD[1][0]*dx + w.CD[1][1]*dy,
	}
}

// SkyToPixelJacobian implements WCS. The mapping is affine so the result
// does not depend on position.
func (w *AffineWCS) SkyToPixelJacobian(Point) Jacobian {
	return w.inv
}
