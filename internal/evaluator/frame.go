package evaluator

import (
	"github.com/cwbudde/multifit/internal/exposure"
	"github.com/cwbudde/multifit/internal/model"
	"gonum.org/v1/gonum/mat"
)

// Frame is one accepted exposure: its place in the shared buffers and the
// projection that fills them.
type Frame struct {
	// Index is the position of the frame among accepted exposures.
	Index int
	// ExposureIndex is the position of the exposure in the list passed to
	// SetExposureList.
	ExposureIndex int
	// Filter is the band identifier of the exposure.
	Filter int

	PixelOffset int
	PixelCount  int

	Exposure   *exposure.Exposure
	Projection model.Projection

	sigma []float64
}

// ApplyWeights divides every value of the frame's segment of v by the
// per-pixel noise. v spans all frames.
func (f *Frame) ApplyWeights(v []float64) {
	seg := v[f.PixelOffset : f.PixelOffset+f.PixelCount]
	for i, s := range f.sigma {
		seg[i] /= s
	}
}

// ApplyMatrixWeights divides every row of the frame's segment of m by the
// per-pixel noise. m has one row per pixel of all frames.
func (f *Frame) ApplyMatrixWeights(m *mat.Dense) {
	_, cols := m.Dims()
	for i, s := range f.sigma {
		row := m.RawRowView(f.PixelOffset + i)
		for j := 0; j < cols; j++ {
			row[j] /= s
		}
	}
}
