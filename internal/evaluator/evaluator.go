// Package evaluator evaluates a model jointly over several exposures.
//
// An Evaluator binds a model to a list of exposures, keeps the contributing
// pixels of all exposures in flat buffers, and lazily computes the whitened
// model image and parameter derivatives for the current parameters.
//
// An Evaluator is not safe for concurrent use. Rebinding exposures while a
// fit driven by the same Evaluator is running is not allowed.
package evaluator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/multifit/internal/exposure"
	"github.com/cwbudde/multifit/internal/model"
	"github.com/cwbudde/multifit/internal/pixbuf"
	"gonum.org/v1/gonum/mat"
)

// ErrParameterSize is returned when a parameter segment has the wrong length.
var ErrParameterSize = model.ErrParameterSize

// product is a bit in the validity mask of derived products.
type product uint8

const (
	modelImageProduct product = 1 << iota
	linearDerivativeProduct
	nonlinearDerivativeProduct

	allProducts = modelImageProduct | linearDerivativeProduct | nonlinearDerivativeProduct
)

// Evaluator computes a model over the pixels of several exposures.
type Evaluator struct {
	model   model.Model
	nMinPix int
	badMask exposure.MaskPixel

	frames  []*Frame
	buffers *pixbuf.Buffers
	sigma   []float64
	weights []float64 // weighted data

	valid               product
	modelImage          []float64
	linearDerivative    *mat.Dense
	nonlinearDerivative *mat.Dense
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithNMinPix sets the pixel threshold: an exposure contributes only if more
// than n of its pixels survive clipping and masking.
func WithNMinPix(n int) Option {
	return func(e *Evaluator) { e.nMinPix = n }
}

// WithBadPixelMask replaces the mask planes that exclude pixels.
func WithBadPixelMask(bits exposure.MaskPixel) Option {
	return func(e *Evaluator) { e.badMask = bits }
}

// New creates an evaluator for m. It has no pixels until SetExposureList is called.
func New(m model.Model, opts ...Option) (*Evaluator, error) {
	if m == nil {
		return nil, errors.New("evaluator: nil model")
	}
	e := &Evaluator{
		model:   m,
		badMask: exposure.BadPixelMask(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.nMinPix < 0 {
		return nil, fmt.Errorf("evaluator: nMinPix must be non-negative, got %d", e.nMinPix)
	}
	empty, _ := pixbuf.NewLayout(nil)
	e.buffers = pixbuf.Allocate(empty, m.LinearParameterSize(), m.NonlinearParameterSize())
	return e, nil
}

// SetExposureList binds the evaluator to a new list of exposures.
//
// For each exposure the model's footprint is computed, clipped to the
// exposure and stripped of bad pixels. Exposures keeping more than NMinPix
// pixels get a projection and a contiguous slice of the shared buffers, in
// list order. The operation is atomic: on error the previous binding is kept.
// A list where no exposure qualifies is valid and leaves the evaluator with
// zero pixels.
func (e *Evaluator) SetExposureList(exposures []*exposure.Exposure) error {
	nLinear := e.model.LinearParameterSize()
	nNonlinear := e.model.NonlinearParameterSize()

	var frames []*Frame
	var counts []int
	for i, exp := range exposures {
		if exp == nil {
			return fmt.Errorf("exposure %d: nil exposure", i)
		}
		if err := exp.Validate(); err != nil {
			return fmt.Errorf("exposure %d: %w", i, err)
		}
		projected := e.model.ProjectFootprint(exp.PSF, exp.WCS, exp.BBox)
		fp := exposure.ClipAndMask(projected, exp, e.badMask)
		if fp.Npix() <= e.nMinPix {
			slog.Debug("Exposure rejected", "exposure", i, "id", exp.ID, "pixels", fp.Npix(), "nMinPix", e.nMinPix)
			continue
		}
		proj, err := e.model.MakeProjection(exp.PSF, exp.WCS, fp)
		if err != nil {
			return fmt.Errorf("exposure %d: failed to make projection: %w", i, err)
		}
		frames = append(frames, &Frame{
			Index:         len(frames),
			ExposureIndex: i,
			Filter:        exp.Filter,
			Exposure:      exp,
			Projection:    proj,
		})
		counts = append(counts, fp.Npix())
	}

	layout, err := pixbuf.NewLayout(counts)
	if err != nil {
		return err
	}
	buffers := pixbuf.Allocate(layout, nLinear, nNonlinear)
	sigma := make([]float64, layout.Total)

	for i, f := range frames {
		view := buffers.View(i)
		f.PixelOffset, f.PixelCount = layout.Offsets[i], layout.Counts[i]
		if err := exposure.Compress(f.Projection.Footprint(), f.Exposure, view.Data, view.Variance); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := f.Projection.SetBuffers(view.ModelImage, view.LinearDerivative, view.NonlinearDerivative); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		f.sigma = sigma[f.PixelOffset : f.PixelOffset+f.PixelCount : f.PixelOffset+f.PixelCount]
	}

	for i, v := range buffers.Variance {
		sigma[i] = math.Sqrt(v)
	}
	weights := make([]float64, layout.Total)
	copy(weights, buffers.Data)
	for _, f := range frames {
		f.ApplyWeights(weights)
	}

	e.frames = frames
	e.buffers = buffers
	e.sigma = sigma
	e.weights = weights
	e.invalidate()

	slog.Debug("Exposure list bound",
		"exposures", len(exposures),
		"frames", len(frames),
		"pixels", layout.Total,
	)
	return nil
}

func (e *Evaluator) invalidate() {
	e.valid &^= allProducts
	e.modelImage = nil
	e.linearDerivative = nil
	e.nonlinearDerivative = nil
}

// Model returns the bound model. Its parameters track the evaluator's;
// change them through SetLinearParameters and SetNonlinearParameters so the
// cached products are invalidated.
func (e *Evaluator) Model() model.Model { return e.model }

// Frames returns the accepted frames in buffer order.
func (e *Evaluator) Frames() []*Frame { return e.frames }

// NPixels returns the total number of contributing pixels.
func (e *Evaluator) NPixels() int { return e.buffers.Layout.Total }

// NMinPix returns the pixel threshold used by SetExposureList.
func (e *Evaluator) NMinPix() int { return e.nMinPix }

// LinearParameterSize returns the length of the linear segment.
func (e *Evaluator) LinearParameterSize() int { return e.model.LinearParameterSize() }

// NonlinearParameterSize returns the length of the nonlinear segment.
func (e *Evaluator) NonlinearParameterSize() int { return e.model.NonlinearParameterSize() }

// LinearParameters returns a copy of the current linear parameters.
func (e *Evaluator) LinearParameters() []float64 { return e.model.LinearParameters() }

// NonlinearParameters returns a copy of the current nonlinear parameters.
func (e *Evaluator) NonlinearParameters() []float64 { return e.model.NonlinearParameters() }

// SetLinearParameters replaces the linear parameters and invalidates every
// derived product.
func (e *Evaluator) SetLinearParameters(p []float64) error {
	if len(p) != e.LinearParameterSize() {
		return fmt.Errorf("%w: linear segment needs %d, got %d", ErrParameterSize, e.LinearParameterSize(), len(p))
	}
	if err := e.model.SetLinearParameters(p); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

// SetNonlinearParameters replaces the nonlinear parameters and invalidates
// every derived product.
func (e *Evaluator) SetNonlinearParameters(p []float64) error {
	if len(p) != e.NonlinearParameterSize() {
		return fmt.Errorf("%w: nonlinear segment needs %d, got %d", ErrParameterSize, e.NonlinearParameterSize(), len(p))
	}
	if err := e.model.SetNonlinearParameters(p); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

// Data returns the raw compressed data of all frames.
func (e *Evaluator) Data() []float64 { return e.buffers.Data }

// Variance returns the raw compressed variance of all frames.
func (e *Evaluator) Variance() []float64 { return e.buffers.Variance }

// Sigma returns the per-pixel noise, the square root of the variance.
func (e *Evaluator) Sigma() []float64 { return e.sigma }

// WeightedData returns data divided by sigma.
func (e *Evaluator) WeightedData() []float64 { return e.weights }

// ComputeModelImage returns the whitened model image of all frames,
// recomputing it only if the parameters changed since the last call.
// The slice is the evaluator's cache and must be treated as read-only.
func (e *Evaluator) ComputeModelImage() ([]float64, error) {
	if e.valid&modelImageProduct == 0 {
		for _, f := range e.frames {
			if err := f.Projection.RecomputeModelImage(); err != nil {
				return nil, fmt.Errorf("frame %d: failed to compute model image: %w", f.Index, err)
			}
		}
		img := append([]float64(nil), e.buffers.ModelImage...)
		for _, f := range e.frames {
			f.ApplyWeights(img)
		}
		e.modelImage = img
		e.valid |= modelImageProduct
	}
	return e.modelImage, nil
}

// ComputeLinearParameterDerivative returns the whitened derivative of the
// model image with respect to the linear parameters, one row per pixel. The
// result is nil when there are no pixels or no linear parameters. The
// matrix is cached and must be treated as read-only.
func (e *Evaluator) ComputeLinearParameterDerivative() (*mat.Dense, error) {
	if e.valid&linearDerivativeProduct == 0 {
		for _, f := range e.frames {
			if err := f.Projection.RecomputeLinearDerivative(); err != nil {
				return nil, fmt.Errorf("frame %d: failed to compute linear derivative: %w", f.Index, err)
			}
		}
		e.linearDerivative = e.whiten(e.buffers.LinearDerivative)
		e.valid |= linearDerivativeProduct
	}
	return e.linearDerivative, nil
}

// ComputeNonlinearParameterDerivative returns the whitened derivative of the
// model image with respect to the nonlinear parameters, one row per pixel.
// The result is nil when there are no pixels or no nonlinear parameters.
// The matrix is cached and must be treated as read-only.
func (e *Evaluator) ComputeNonlinearParameterDerivative() (*mat.Dense, error) {
	if e.valid&nonlinearDerivativeProduct == 0 {
		for _, f := range e.frames {
			if err := f.Projection.RecomputeNonlinearDerivative(); err != nil {
				return nil, fmt.Errorf("frame %d: failed to compute nonlinear derivative: %w", f.Index, err)
			}
		}
		e.nonlinearDerivative = e.whiten(e.buffers.NonlinearDerivative)
		e.valid |= nonlinearDerivativeProduct
	}
	return e.nonlinearDerivative, nil
}

func (e *Evaluator) whiten(b pixbuf.Block) *mat.Dense {
	d := b.Dense()
	if d == nil {
		return nil
	}
	for _, f := range e.frames {
		f.ApplyMatrixWeights(d)
	}
	return d
}
