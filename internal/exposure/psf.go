package exposure

import "math"

// PSF is a circular Gaussian point-spread function in pixel units.
type PSF struct {
	Sigma float64 `json:"sigma"`
}

// NewPSF creates a Gaussian PSF with the given width in pixels.
func NewPSF(sigma float64) *PSF {
	return &PSF{Sigma: sigma}
}

// Value returns the normalized PSF at offset (dx, dy) from its center.
func (p *PSF) Value(dx, dy float64) float64 {
	v := p.Sigma * p.Sigma
	return math.Exp(-(dx*dx+dy*dy)/(2*v)) / (2 * math.Pi * v)
}

// Variance returns the second moment of the PSF (sigma squared).
func (p *PSF) Variance() float64 {
	return p.Sigma * p.Sigma
}
