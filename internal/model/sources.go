package model

import (
	"fmt"
	"image"
	"math"

	"github.com/cwbudde/multifit/internal/exposure"
)

// footprintSigmas is the footprint radius in units of the convolved width.
const footprintSigmas = 5.0

// profile is the circular Gaussian a source reduces to once convolved with
// a Gaussian PSF.
type profile struct {
	flux   float64
	center exposure.Point // sky
	radius float64        // intrinsic sigma in sky units, 0 for a point
	sized  bool           // radius is a free parameter
}

type profiled interface {
	Model
	profile() profile
}

// PointSource is an unresolved source: linear [flux], nonlinear [x, y].
type PointSource struct {
	linear    [1]float64
	nonlinear [2]float64
}

// NewPointSource creates a point source at sky position (x, y).
func NewPointSource(flux, x, y float64) *PointSource {
	return &PointSource{linear: [1]float64{flux}, nonlinear: [2]float64{x, y}}
}

func (p *PointSource) Kind() Kind { return KindPointSource }
func (p *PointSource) LinearParameterSize() int { return len(p.linear) }
func (p *PointSource) NonlinearParameterSize() int { return len(p.nonlinear) }
func (p *PointSource) LinearParameters() []float64 { return append([]float64(nil), p.linear[:]...) }
func (p *PointSource) NonlinearParameters() []float64 { return append([]float64(nil), p.nonlinear[:]...) }
func (p *PointSource) ParameterNames() []string { return []string{"flux", "x", "y"} }

func (p *PointSource) SetLinearParameters(v []float64) error {
	return setParams(p.linear[:], v, "linear")
}

func (p *PointSource) SetNonlinearParameters(v []float64) error {
	return setParams(p.nonlinear[:], v, "nonlinear")
}

func (p *PointSource) Clone() Model {
	c := *p
	return &c
}

func (p *PointSource) profile() profile {
	return profile{
		flux:   p.linear[0],
		center: exposure.Point{X: p.nonlinear[0], Y: p.nonlinear[1]},
	}
}

func (p *PointSource) ProjectFootprint(psf *exposure.PSF, wcs exposure.WCS, bounds image.Rectangle) *exposure.Footprint {
	return projectFootprint(p.profile(), psf, wcs, bounds)
}

func (p *PointSource) MakeProjection(psf *exposure.PSF, wcs exposure.WCS, fp *exposure.Footprint) (Projection, error) {
	return newGaussianProjection(p, psf, wcs, fp)
}

// Gaussian is an extended source with a circular Gaussian light profile:
// linear [flux], nonlinear [x, y, radius].
type Gaussian struct {
	linear    [1]float64
	nonlinear [3]float64
}

// NewGaussian creates an extended source with intrinsic width radius (sky units).
func NewGaussian(flux, x, y, radius float64) *Gaussian {
	return &Gaussian{linear: [1]float64{flux}, nonlinear: [3]float64{x, y, radius}}
}

func (g *Gaussian) Kind() Kind { return KindGaussian }
func (g *Gaussian) LinearParameterSize() int { return len(g.linear) }
func (g *Gaussian) NonlinearParameterSize() int { return len(g.nonlinear) }
func (g *Gaussian) LinearParameters() []float64 { return append([]float64(nil), g.linear[:]...) }
func (g *Gaussian) NonlinearParameters() []float64 { return append([]float64(nil), g.nonlinear[:]...) }
func (g *Gaussian) ParameterNames() []string { return []string{"flux", "x", "y", "radius"} }

func (g *Gaussian) SetLinearParameters(v []float64) error {
	return setParams(g.linear[:], v, "linear")
}

func (g *Gaussian) SetNonlinearParameters(v []float64) error {
	return setParams(g.nonlinear[:], v, "nonlinear")
}

func (g *Gaussian) Clone() Model {
	c := *g
	return &c
}

func (g *Gaussian) profile() profile {
	return profile{
		flux:   g.linear[0],
		center: exposure.Point{X: g.nonlinear[0], Y: g.nonlinear[1]},
		radius: g.nonlinear[2],
		sized:  true,
	}
}

func (g *Gaussian) ProjectFootprint(psf *exposure.PSF, wcs exposure.WCS, bounds image.Rectangle) *exposure.Footprint {
	return projectFootprint(g.profile(), psf, wcs, bounds)
}

func (g *Gaussian) MakeProjection(psf *exposure.PSF, wcs exposure.WCS, fp *exposure.Footprint) (Projection, error) {
	if r := g.nonlinear[2]; !(r >= 0) || math.IsInf(r, 0) {
		return nil, fmt.Errorf("%s projection: radius must be finite and non-negative, got %g", g.Kind(), r)
	}
	return newGaussianProjection(g, psf, wcs, fp)
}

// pixelScale2 is the squared linear scale (pixels per sky unit) of a Jacobian.
func pixelScale2(j exposure.Jacobian) float64 {
	return math.Abs(j.Det())
}

func projectFootprint(p profile, psf *exposure.PSF, wcs exposure.WCS, bounds image.Rectangle) *exposure.Footprint {
	center := wcs.SkyToPixel(p.center)
	v := psf.Variance() + p.radius*p.radius*pixelScale2(wcs.SkyToPixelJacobian(p.center))
	radius := math.Max(1, footprintSigmas*math.Sqrt(v))
	return exposure.NewCircularFootprint(center, radius, bounds)
}
