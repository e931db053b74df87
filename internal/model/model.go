// Package model defines the parametric source models fitted by multifit and
// their realization ("projection") on the pixel grid of one exposure.
package model

import (
	"errors"
	"fmt"
	"image"

	"github.com/cwbudde/multifit/internal/exposure"
	"github.com/cwbudde/multifit/internal/pixbuf"
)

// Kind identifies a model variant.
type Kind string

const (
	KindPointSource Kind = "point"
	KindGaussian    Kind = "gaussian"
)

// ErrParameterSize is returned when a parameter slice has the wrong length.
var ErrParameterSize = errors.New("wrong number of parameters")

// Model is an abstract source that can realize itself on any exposure.
//
// Parameters are split into a linear segment (fluxes) and a nonlinear
// segment (position and shape). The segment sizes never change.
type Model interface {
	Kind() Kind
	LinearParameterSize() int
	NonlinearParameterSize() int
	LinearParameters() []float64
	NonlinearParameters() []float64
	SetLinearParameters(p []float64) error
	SetNonlinearParameters(p []float64) error
	ParameterNames() []string

	// ProjectFootprint returns the pixels inside bounds the model covers on
	// an exposure with the given PSF and WCS.
	ProjectFootprint(psf *exposure.PSF, wcs exposure.WCS, bounds image.Rectangle) *exposure.Footprint

	// MakeProjection binds the model to one exposure's pixels.
	MakeProjection(psf *exposure.PSF, wcs exposure.WCS, fp *exposure.Footprint) (Projection, error)

	// Clone returns an independent copy with the same parameters.
	Clone() Model
}

// Projection evaluates a model on the footprint of one exposure. It writes
// into buffers it does not own; SetBuffers must be called before any
// Recompute method.
type Projection interface {
	Footprint() *exposure.Footprint
	PixelCount() int
	SetBuffers(modelImage []float64, linear, nonlinear pixbuf.Block) error
	RecomputeModelImage() error
	RecomputeLinearDerivative() error
	RecomputeNonlinearDerivative() error
}

// New builds a model of the given kind from its parameter segments.
func New(kind Kind, linear, nonlinear []float64) (Model, error) {
	var m Model
	switch kind {
	case KindPointSource:
		m = &PointSource{}
	case KindGaussian:
		m = &Gaussian{}
	default:
		return nil, fmt.Errorf("unknown model kind: %q", kind)
	}
	if err := m.SetLinearParameters(linear); err != nil {
		return nil, err
	}
	if err := m.SetNonlinearParameters(nonlinear); err != nil {
		return nil, err
	}
	return m, nil
}

func setParams(dst, src []float64, segment string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s segment needs %d, got %d", ErrParameterSize, segment, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}
