// Package preview renders per-frame stamps of a fitted evaluator: whitened
// data, whitened model and residual side by side.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/cwbudde/multifit/internal/evaluator"
	xdraw "golang.org/x/image/draw"
)

// residualClip is the residual, in units of sigma, drawn at full color.
const residualClip = 5.0

var background = color.NRGBA{R: 32, G: 32, B: 32, A: 255}

// Stamp renders frame f of ev as three panels: data, model and residual.
// data and model span all frames and are in whitened units. The result is
// upscaled by scale with nearest-neighbor sampling.
func Stamp(f *evaluator.Frame, data, model []float64, scale int) *image.NRGBA {
	if scale < 1 {
		scale = 1
	}
	fp := f.Projection.Footprint()
	box := fp.BBox()
	w, h := box.Dx(), box.Dy()
	gap := 1

	canvas := image.NewNRGBA(image.Rect(0, 0, 3*w+2*gap, h))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	seg := func(v []float64) []float64 { return v[f.PixelOffset : f.PixelOffset+f.PixelCount] }
	d, m := seg(data), seg(model)
	lo, hi := stretch(d)

	fp.ForEach(func(i, x, y int) {
		px, py := x-box.Min.X, y-box.Min.Y
		canvas.SetNRGBA(px, py, gray(d[i], lo, hi))
		canvas.SetNRGBA(px+w+gap, py, gray(m[i], lo, hi))
		canvas.SetNRGBA(px+2*(w+gap), py, diverging(d[i]-m[i]))
	})

	if scale == 1 {
		return canvas
	}
	b := canvas.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), canvas, b, xdraw.Src, nil)
	return out
}

func stretch(v []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if !(hi > lo) {
		hi = lo + 1
	}
	return lo, hi
}

func gray(v, lo, hi float64) color.NRGBA {
	t := math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
	c := uint8(math.Round(255 * t))
	return color.NRGBA{R: c, G: c, B: c, A: 255}
}

// diverging maps negative residuals to blue and positive ones to red.
func diverging(r float64) color.NRGBA {
	t := math.Max(-1, math.Min(1, r/residualClip))
	fade := uint8(math.Round(255 * (1 - math.Abs(t))))
	if t >= 0 {
		return color.NRGBA{R: 255, G: fade, B: fade, A: 255}
	}
	return color.NRGBA{R: fade, G: fade, B: 255, A: 255}
}

// WriteFrames writes frame-<n>.png for every frame of ev into dir and
// returns the written paths.
func WriteFrames(dir string, ev *evaluator.Evaluator, scale int) ([]string, error) {
	img, err := ev.ComputeModelImage()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}

	var paths []string
	for _, f := range ev.Frames() {
		path := filepath.Join(dir, fmt.Sprintf("frame-%d.png", f.Index))
		if err := writePNG(path, Stamp(f, ev.WeightedData(), img, scale)); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	slog.Debug("Previews written", "dir", dir, "frames", len(paths))
	return paths, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
