package exposure

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExposure(t *testing.T) *Exposure {
	t.Helper()
	wcs, err := NewAffineWCS(Point{}, Point{}, [2][2]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)

	e := New(image.Rect(0, 0, 4, 3), NewPSF(1), wcs)
	e.ID = "test"
	for i := range e.Image {
		e.Image[i] = float64(i)
		e.Variance[i] = 2
	}
	return e
}

func TestPlaneBitMask(t *testing.T) {
	bits, err := PlaneBitMask(PlaneBad, PlaneEdge)
	require.NoError(t, err)
	assert.Equal(t, MaskPixel(1|1<<4), bits)

	_, err = PlaneBitMask("NOPE")
	assert.ErrorIs(t, err, ErrUnknownMaskPlane)

	bad := BadPixelMask()
	det, _ := PlaneBitMask(PlaneDetected)
	assert.Zero(t, bad&det, "DETECTED must not exclude pixels")
}

func TestClipAndMaskRemovesBadPixels(t *testing.T) {
	e := newTestExposure(t)
	cr, _ := PlaneBitMask(PlaneCosmicRay)
	det, _ := PlaneBitMask(PlaneDetected)
	e.Mask[e.Index(1, 1)] = cr
	e.Mask[e.Index(2, 1)] = det // not a bad plane
	e.Variance[e.Index(3, 2)] = 0
	e.Variance[e.Index(0, 2)] = math.NaN()

	fp := ClipAndMask(NewBoxFootprint(image.Rect(-1, -1, 5, 4)), e, BadPixelMask())

	// 12 pixels in the box, minus CR, zero variance and NaN variance
	require.Equal(t, 9, fp.Npix())
	fp.ForEach(func(_, x, y int) {
		assert.True(t, e.Contains(x, y))
		assert.False(t, x == 1 && y == 1)
	})
}

func TestCompress(t *testing.T) {
	e := newTestExposure(t)
	fp := NewFootprint([]Span{{Y: 1, X0: 1, X1: 2}, {Y: 2, X0: 0, X1: 0}})

	data := make([]float64, 3)
	variance := make([]float64, 3)
	require.NoError(t, Compress(fp, e, data, variance))
	assert.Equal(t, []float64{5, 6, 8}, data)
	assert.Equal(t, []float64{2, 2, 2}, variance)

	assert.Error(t, Compress(fp, e, data[:2], variance))

	outside := NewFootprint([]Span{{Y: 5, X0: 0, X1: 2}})
	assert.Error(t, Compress(outside, e, data, variance))
}

func TestValidate(t *testing.T) {
	e := newTestExposure(t)
	require.NoError(t, e.Validate())

	e.Mask = e.Mask[:3]
	assert.ErrorIs(t, e.Validate(), ErrShape)
}

func TestAffineWCSRoundTrip(t *testing.T) {
	wcs, err := NewAffineWCS(Point{X: 10, Y: 20}, Point{X: 1, Y: 2}, [2][2]float64{{0.5, 0.1}, {-0.1, 0.5}})
	require.NoError(t, err)

	sky := Point{X: 3.3, Y: -1.2}
	back := wcs.PixelToSky(wcs.SkyToPixel(sky))
	assert.InDelta(t, sky.X, back.X, 1e-12)
	assert.InDelta(t, sky.Y, back.Y, 1e-12)

	jac := wcs.SkyToPixelJacobian(sky)
	assert.InDelta(t, 1/(0.25+0.01), jac.Det(), 1e-12)

	_, err = NewAffineWCS(Point{}, Point{}, [2][2]float64{{1, 1}, {1, 1}})
	assert.ErrorIs(t, err, ErrSingularWCS)
}
