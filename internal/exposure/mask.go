package exposure

import (
	"errors"
	"fmt"
)

// MaskPixel holds the bit flags of one mask plane pixel.
type MaskPixel uint16

// Mask plane names understood by PlaneBitMask.
const (
	PlaneBad         = "BAD"
	PlaneSaturated   = "SAT"
	PlaneInterpolate = "INTRP"
	PlaneCosmicRay   = "CR"
	PlaneEdge        = "EDGE"
	PlaneDetected    = "DETECTED"
)

var maskPlanes = map[string]uint{
	PlaneBad:         0,
	PlaneSaturated:   1,
	PlaneInterpolate: 2,
	PlaneCosmicRay:   3,
	PlaneEdge:        4,
	PlaneDetected:    5,
}

// ErrUnknownMaskPlane is returned when a mask plane name is not registered.
var ErrUnknownMaskPlane = errors.New("unknown mask plane")

// PlaneBitMask returns the OR of the bits for the named planes.
func PlaneBitMask(names ...string) (MaskPixel, error) {
	var bits MaskPixel
	for _, name := range names {
		bit, ok := maskPlanes[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMaskPlane, name)
		}
		bits |= 1 << bit
	}
	return bits, nil
}

// BadPixelMask is the set of planes that exclude a pixel from fitting.
func BadPixelMask() MaskPixel {
	bits, _ := PlaneBitMask(PlaneBad, PlaneInterpolate, PlaneSaturated, PlaneCosmicRay, PlaneEdge)
	return bits
}
