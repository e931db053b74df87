// Package scene reads and writes fitting scenes: a model with its starting
// parameters and the exposures to fit it to.
package scene

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/cwbudde/multifit/internal/exposure"
	"github.com/cwbudde/multifit/internal/model"
)

// Scene is a decoded scene file.
type Scene struct {
	Model     model.Model
	Errors    []float64
	Truth     model.Model // nil unless the scene was simulated
	Exposures []*exposure.Exposure
}

// ModelSpec is the serialized form of a model.
type ModelSpec struct {
	Kind      model.Kind `json:"kind"`
	Linear    []float64  `json:"linear"`
	Nonlinear []float64  `json:"nonlinear"`
	Errors    []float64  `json:"errors,omitempty"`
}

// WCSSpec is the serialized form of an affine WCS.
type WCSSpec struct {
	CRPix [2]float64    `json:"crpix"`
	CRVal [2]float64    `json:"crval"`
	CD    [2][2]float64 `json:"cd"`
}

// ExposureSpec is the serialized form of an exposure. BBox is
// [minX, minY, maxX, maxY) and the planes are row-major.
type ExposureSpec struct {
	ID       string    `json:"id"`
	Filter   int       `json:"filter"`
	BBox     [4]int    `json:"bbox"`
	PSFSigma float64   `json:"psfSigma"`
	WCS      WCSSpec   `json:"wcs"`
	Image    []float64 `json:"image"`
	Variance []float64 `json:"variance"`
	Mask     []uint16  `json:"mask,omitempty"`
}

// File is the on-disk scene document.
type File struct {
	Model     ModelSpec      `json:"model"`
	Truth     *ModelSpec     `json:"truth,omitempty"`
	Exposures []ExposureSpec `json:"exposures"`
}

// Load reads a scene file from path.
func Load(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scene: %w", err)
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	return s, nil
}

// Decode reads a scene document from r.
func Decode(r io.Reader) (*Scene, error) {
	var file File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode scene: %w", err)
	}
	return file.Scene()
}

// Scene converts the document into models and exposures.
func (f *File) Scene() (*Scene, error) {
	m, err := f.Model.build()
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	s := &Scene{Model: m, Errors: f.Model.Errors}
	if f.Truth != nil {
		if s.Truth, err = f.Truth.build(); err != nil {
			return nil, fmt.Errorf("truth: %w", err)
		}
	}
	for i, spec := range f.Exposures {
		exp, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("exposure %d: %w", i, err)
		}
		s.Exposures = append(s.Exposures, exp)
	}
	return s, nil
}

func (m ModelSpec) build() (model.Model, error) {
	return model.New(m.Kind, m.Linear, m.Nonlinear)
}

func (e ExposureSpec) build() (*exposure.Exposure, error) {
	wcs, err := exposure.NewAffineWCS(
		exposure.Point{X: e.WCS.CRPix[0], Y: e.WCS.CRPix[1]},
		exposure.Point{X: e.WCS.CRVal[0], Y: e.WCS.CRVal[1]},
		e.WCS.CD,
	)
	if err != nil {
		return nil, err
	}
	bbox := image.Rect(e.BBox[0], e.BBox[1], e.BBox[2], e.BBox[3])
	exp := exposure.New(bbox, exposure.NewPSF(e.PSFSigma), wcs)
	exp.ID = e.ID
	exp.Filter = e.Filter
	exp.Image = e.Image
	exp.Variance = e.Variance
	if e.Mask != nil {
		exp.Mask = make([]exposure.MaskPixel, len(e.Mask))
		for i, v := range e.Mask {
			exp.Mask[i] = exposure.MaskPixel(v)
		}
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return exp, nil
}

// Encode converts a scene into its document form. Only affine WCSs can be
// serialized.
func Encode(s *Scene) (*File, error) {
	file := &File{Model: specOf(s.Model)}
	file.Model.Errors = s.Errors
	if s.Truth != nil {
		truth := specOf(s.Truth)
		file.Truth = &truth
	}
	for _, exp := range s.Exposures {
		wcs, ok := exp.WCS.(*exposure.AffineWCS)
		if !ok {
			return nil, fmt.Errorf("exposure %s: cannot serialize WCS of type %T", exp.ID, exp.WCS)
		}
		spec := ExposureSpec{
			ID:       exp.ID,
			Filter:   exp.Filter,
			BBox:     [4]int{exp.BBox.Min.X, exp.BBox.Min.Y, exp.BBox.Max.X, exp.BBox.Max.Y},
			PSFSigma: exp.PSF.Sigma,
			WCS: WCSSpec{
				CRPix: [2]float64{wcs.CRPix.X, wcs.CRPix.Y},
				CRVal: [2]float64{wcs.CRVal.X, wcs.CRVal.Y},
				CD:    wcs.CD,
			},
			Image:    exp.Image,
			Variance: exp.Variance,
		}
		if hasMask(exp) {
			spec.Mask = make([]uint16, len(exp.Mask))
			for i, v := range exp.Mask {
				spec.Mask[i] = uint16(v)
			}
		}
		file.Exposures = append(file.Exposures, spec)
	}
	return file, nil
}

func specOf(m model.Model) ModelSpec {
	return ModelSpec{
		Kind:      m.Kind(),
		Linear:    m.LinearParameters(),
		Nonlinear: m.NonlinearParameters(),
	}
}

func hasMask(exp *exposure.Exposure) bool {
	for _, v := range exp.Mask {
		if v != 0 {
			return true
		}
	}
	return false
}

// Save writes the scene to path atomically.
func Save(path string, s *Scene) error {
	file, err := Encode(s)
	if err != nil {
		return err
	}
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal scene: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write scene: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename scene: %w", err)
	}
	return nil
}
