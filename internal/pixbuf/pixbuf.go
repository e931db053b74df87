// Package pixbuf allocates the flat buffers shared by every projection of a
// model evaluator.
//
// Pixels from all frames are concatenated in frame order. Vectors hold one
// value per pixel; derivative matrices are row-major with one row per pixel
// and one column per parameter, so the rows of a frame form a contiguous
// slice of the arena.
package pixbuf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Layout records where each frame's pixels live in the shared buffers.
type Layout struct {
	Offsets []int
	Counts  []int
	Total   int
}

// NewLayout assigns consecutive, non-overlapping ranges to the given pixel counts.
func NewLayout(counts []int) (Layout, error) {
	l := Layout{
		Offsets: make([]int, len(counts)),
		Counts:  make([]int, len(counts)),
	}
	for i, n := range counts {
		if n < 0 {
			return Layout{}, fmt.Errorf("frame %d: negative pixel count %d", i, n)
		}
		l.Offsets[i] = l.Total
		l.Counts[i] = n
		l.Total += n
	}
	return l, nil
}

// Len returns the number of frames.
func (l Layout) Len() int {
	return len(l.Counts)
}

// Range returns the half-open pixel range [start, end) of frame i.
func (l Layout) Range(i int) (start, end int) {
	return l.Offsets[i], l.Offsets[i] + l.Counts[i]
}

// Block is a row-major pixel-by-parameter matrix view into an arena.
type Block struct {
	Data []float64
	Rows int
	Cols int
}

// NewBlock allocates a zeroed rows x cols block.
func NewBlock(rows, cols int) Block {
	return Block{Data: make([]float64, rows*cols), Rows: rows, Cols: cols}
}

// At returns the derivative of pixel row with respect to parameter col.
func (b Block) At(row, col int) float64 {
	return b.Data[row*b.Cols+col]
}

// Set stores the derivative of pixel row with respect to parameter col.
func (b Block) Set(row, col int, v float64) {
	b.Data[row*b.Cols+col] = v
}

// RowView returns the rows [start, end) as a block sharing storage with b.
func (b Block) RowView(start, end int) Block {
	lo, hi := start*b.Cols, end*b.Cols
	return Block{Data: b.Data[lo:hi:hi], Rows: end - start, Cols: b.Cols}
}

// Empty reports whether the block has no elements.
func (b Block) Empty() bool {
	return b.Rows == 0 || b.Cols == 0
}

// Dense copies the block into a new gonum matrix. It returns nil for an
// empty block, since gonum has no zero-sized matrices.
func (b Block) Dense() *mat.Dense {
	if b.Empty() {
		return nil
	}
	return mat.NewDense(b.Rows, b.Cols, append([]float64(nil), b.Data...))
}

// Buffers is the arena owned by a model evaluator.
type Buffers struct {
	Layout              Layout
	Data                []float64
	Variance            []float64
	ModelImage          []float64
	LinearDerivative    Block
	NonlinearDerivative Block
}

// Allocate builds buffers for the given layout and parameter counts.
func Allocate(layout Layout, nLinear, nNonlinear int) *Buffers {
	return &Buffers{
		Layout:              layout,
		Data:                make([]float64, layout.Total),
		Variance:            make([]float64, layout.Total),
		ModelImage:          make([]float64, layout.Total),
		LinearDerivative:    NewBlock(layout.Total, nLinear),
		NonlinearDerivative: NewBlock(layout.Total, nNonlinear),
	}
}

// FrameView is the slice of every buffer that belongs to one frame.
type FrameView struct {
	Data                []float64
	Variance            []float64
	ModelImage          []float64
	LinearDerivative    Block
	NonlinearDerivative Block
}

// View returns the buffers of frame i. Slices are capped so that appends
// cannot spill into the next frame.
func (b *Buffers) View(i int) FrameView {
	start, end := b.Layout.Range(i)
	return FrameView{
		Data:                b.Data[start:end:end],
		Variance:            b.Variance[start:end:end],
		ModelImage:          b.ModelImage[start:end:end],
		LinearDerivative:    b.LinearDerivative.RowView(start, end),
		NonlinearDerivative: b.NonlinearDerivative.RowView(start, end),
	}
}
