package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/multifit/internal/exposure"
	"github.com/cwbudde/multifit/internal/pixbuf"
)

var errNoBuffers = errors.New("projection buffers not set")

// gaussianProjection realizes a profiled source on one exposure. It reads the
// source's parameters at recompute time, so it never goes stale with respect
// to the model it was made from.
type gaussianProjection struct {
	source    profiled
	psf       *exposure.PSF
	wcs       exposure.WCS
	footprint *exposure.Footprint

	modelImage []float64
	linear     pixbuf.Block
	nonlinear  pixbuf.Block
	bound      bool
}

func newGaussianProjection(src profiled, psf *exposure.PSF, wcs exposure.WCS, fp *exposure.Footprint) (*gaussianProjection, error) {
	if psf == nil || wcs == nil || fp == nil {
		return nil, fmt.Errorf("%s projection: nil PSF, WCS or footprint", src.Kind())
	}
	if psf.Sigma <= 0 {
		return nil, fmt.Errorf("%s projection: PSF sigma must be positive, got %g", src.Kind(), psf.Sigma)
	}
	return &gaussianProjection{source: src, psf: psf, wcs: wcs, footprint: fp}, nil
}

func (p *gaussianProjection) Footprint() *exposure.Footprint { return p.footprint }

func (p *gaussianProjection) PixelCount() int { return p.footprint.Npix() }

func (p *gaussianProjection) SetBuffers(modelImage []float64, linear, nonlinear pixbuf.Block) error {
	n := p.PixelCount()
	if len(modelImage) != n || linear.Rows != n || nonlinear.Rows != n {
		return fmt.Errorf("projection buffers hold %d/%d/%d pixels, footprint has %d",
			len(modelImage), linear.Rows, nonlinear.Rows, n)
	}
	if linear.Cols != p.source.LinearParameterSize() || nonlinear.Cols != p.source.NonlinearParameterSize() {
		return fmt.Errorf("projection derivative buffers have %d+%d columns, model has %d+%d parameters",
			linear.Cols, nonlinear.Cols, p.source.LinearParameterSize(), p.source.NonlinearParameterSize())
	}
	p.modelImage = modelImage
	p.linear = linear
	p.nonlinear = nonlinear
	p.bound = true
	return nil
}

// geometry is the pixel-space state shared by all pixels of one recompute.
type geometry struct {
	flux     float64
	center   exposure.Point    // pixels
	jacobian exposure.Jacobian // d pixel / d sky
	variance float64           // convolved, pixels^2
	dVdR     float64           // d variance / d radius
	sized    bool
}

func (p *gaussianProjection) geometry() geometry {
	prof := p.source.profile()
	jac := p.wcs.SkyToPixelJacobian(prof.center)
	k2 := pixelScale2(jac)
	return geometry{
		flux:     prof.flux,
		center:   p.wcs.SkyToPixel(prof.center),
		jacobian: jac,
		variance: p.psf.Variance() + prof.radius*prof.radius*k2,
		dVdR:     2 * prof.radius * k2,
		sized:    prof.sized,
	}
}

// unit returns the flux-normalized profile at pixel (x, y) and the offsets from center.
func (g geometry) unit(x, y int) (value, dx, dy float64) {
	dx = float64(x) - g.center.X
	dy = float64(y) - g.center.Y
	value = math.Exp(-(dx*dx+dy*dy)/(2*g.variance)) / (2 * math.Pi * g.variance)
	return value, dx, dy
}

func (p *gaussianProjection) RecomputeModelImage() error {
	if !p.bound {
		return errNoBuffers
	}
	g := p.geometry()
	p.footprint.ForEach(func(i, x, y int) {
		v, _, _ := g.unit(x, y)
		p.modelImage[i] = g.flux * v
	})
	return nil
}

func (p *gaussianProjection) RecomputeLinearDerivative() error {
	if !p.bound {
		return errNoBuffers
	}
	g := p.geometry()
	p.footprint.ForEach(func(i, x, y int) {
		v, _, _ := g.unit(x, y)
		p.linear.Set(i, 0, v)
	})
	return nil
}

func (p *gaussianProjection) RecomputeNonlinearDerivative() error {
	if !p.bound {
		return errNoBuffers
	}
	g := p.geometry()
	j := g.jacobian
	p.footprint.ForEach(func(i, x, y int) {
		v, dx, dy := g.unit(x, y)
		f := g.flux * v
		// Derivatives with respect to the pixel-space center
		dcx := f * dx / g.variance
		dcy := f * dy / g.variance
		p.nonlinear.Set(i, 0, dcx*j[0][0]+dcy*j[1][0])
		p.nonlinear.Set(i, 1, dcx*j[0][1]+dcy*j[1][1])
		if g.sized {
			r2 := dx*dx + dy*dy
			dV := f * (r2/(2*g.variance*g.variance) - 1/g.variance)
			p.nonlinear.Set(i, 2, dV*g.dVdR)
		}
	})
	return nil
}
