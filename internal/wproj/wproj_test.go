package wproj

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	monitoring.SetLogger(nil)
}

const arcmin = math.Pi / 180 / 60

func testParams() Params {
	ws := make([]float64, 0, 41)
	for i := -20; i <= 20; i++ {
		ws = append(ws, float64(i)*100)
	}
	return Params{
		Ws:      ws,
		MaxFreq: 1e9,
		NX:      16, NY: 16,
		CellX: 10 * arcmin, CellY: 10 * arcmin,
		Planes:  3,
		Workers: 2,
	}
}

// -----------------------------------------------------------------------------
// Spheroidal function
// -----------------------------------------------------------------------------

func TestGrdsf(t *testing.T) {
	t.Parallel()
	assert.Greater(t, Grdsf(0), Grdsf(0.5))
	assert.Greater(t, Grdsf(0.5), Grdsf(0.9))
	assert.Greater(t, Grdsf(0.9), 0.0)
	assert.Zero(t, Grdsf(1.2))
	assert.Equal(t, Grdsf(0.3), Grdsf(-0.3))
	// The two rational pieces meet at nu = 0.75.
	assert.InDelta(t, Grdsf(0.7499999), Grdsf(0.75), 1e-4)

	tp := taper(8)
	assert.InDelta(t, 1.0, tp[4], 1e-12)
	assert.Less(t, tp[0], tp[2])
}

func TestCorrection(t *testing.T) {
	t.Parallel()
	c := Correction(4, 6)
	require.Len(t, c, 24)
	assert.InDelta(t, 1.0, c[3*4+2], 1e-12)
	for _, v := range c {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

// -----------------------------------------------------------------------------
// Sizing
// -----------------------------------------------------------------------------

func TestNearestComposite(t *testing.T) {
	t.Parallel()
	tests := map[int]int{1: 2, 2: 2, 64: 64, 97: 96, 100: 100, 130: 128, 1000: 1000}
	for in, want := range tests {
		assert.Equal(t, want, nearestComposite(in), "n=%d", in)
	}
}

func TestConvSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 64, ConvSize(Params{NX: 16, NY: 8}))
	assert.Equal(t, 128, ConvSize(Params{NX: 16, NY: 16, Padding: 2}))

	// 64 MiB over 4 channels caps the size at sqrt(64/8·2^20/512/4) = 64.
	capped := ConvSize(Params{NX: 1024, NY: 1024, MemTotalKiB: 64 << 10, NChan: 4})
	assert.Equal(t, 64, capped)
}

func TestMaxW(t *testing.T) {
	t.Parallel()
	scale := 1e9 / speedOfLight
	assert.InDelta(t, 100*scale, MaxW([]float64{1, -1, 1, 1, -100}, 1e9), 1e-9)

	ws := make([]float64, 100)
	for i := range ws {
		ws[i] = 1
	}
	ws[99] = 1000
	// rms = sqrt((99 + 1e6)/100) ≈ 100.05, so 4·rms wins over max|w|.
	rms := math.Sqrt((99 + 1e6) / 100)
	assert.InDelta(t, 4*rms*scale, MaxW(ws, 1e9), 1e-6)
	assert.Zero(t, MaxW(nil, 1e9))
}

func TestPlaneCount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2, PlaneCount(10, 64, 64, 1e-5, 1e-5))
	assert.Equal(t, 512, PlaneCount(1e9, 4096, 4096, 1e-3, 1e-3))
	// sin(0.01·100/2) ≈ 0.479 → int(1000·0.479)+1 = 480
	assert.Equal(t, 480, PlaneCount(1000, 100, 50, 0.01, -0.005))
}

// -----------------------------------------------------------------------------
// Kernels
// -----------------------------------------------------------------------------

func TestBuildNormalisesPlaneZero(t *testing.T) {
	cf, err := Build(context.Background(), testParams())
	require.NoError(t, err)
	require.Equal(t, 3, cf.Planes)
	require.Len(t, cf.Support, 3)
	assert.Equal(t, 64, cf.ConvSize)
	assert.Equal(t, 2*(cf.MaxSupport+1)*cf.Oversampling+1, cf.Size)
	assert.Len(t, cf.Data, cf.Planes*cf.Size*cf.Size)
	assert.Equal(t, Correction(16, 16), cf.Correction)

	for iw, s := range cf.Support {
		assert.GreaterOrEqual(t, s, 1, "plane %d", iw)
		assert.LessOrEqual(t, s, cf.MaxSupport)
	}
	assert.GreaterOrEqual(t, cf.Support[2], cf.Support[0])

	sum := complex128(0)
	s0 := cf.Support[0]
	for iy := -s0; iy <= s0; iy++ {
		for ix := -s0; ix <= s0; ix++ {
			sum += complex128(cf.At(0, ix*cf.Oversampling, iy*cf.Oversampling))
		}
	}
	assert.InDelta(t, 1.0, real(sum), 1e-4)

	// The w=0 kernel is symmetric about its centre.
	centre := cmplx.Abs(complex128(cf.At(0, 0, 0)))
	for _, d := range []int{1, 3, 5} {
		a := cmplx.Abs(complex128(cf.At(0, d, 0)))
		b := cmplx.Abs(complex128(cf.At(0, -d, 0)))
		assert.InDelta(t, a, b, 1e-2*centre, "offset %d", d)
	}
	assert.Zero(t, cf.At(0, cf.Size, 0))
}

func TestBuildDerivesPlanesAndIndexes(t *testing.T) {
	p := testParams()
	p.Planes = 0
	cf, err := Build(context.Background(), p)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cf.Planes, 2)

	assert.Equal(t, 0, cf.PlaneFor(0, 1e9))
	maxWm := cf.MaxW * speedOfLight / 1e9
	assert.Equal(t, cf.Planes-1, cf.PlaneFor(maxWm, 1e9))
	assert.Equal(t, cf.Planes-1, cf.PlaneFor(-10*maxWm, 1e9))
	assert.Equal(t, cf.PlaneFor(300, 1e9), cf.PlaneFor(-300, 1e9))
}

func TestBuildTooSmallHasNoSupport(t *testing.T) {
	p := testParams()
	p.NX, p.NY = 2, 2
	_, err := Build(context.Background(), p)
	assert.ErrorIs(t, err, ErrNoSupport)
}

func TestBuildValidation(t *testing.T) {
	p := testParams()
	p.MaxFreq = 0
	_, err := Build(context.Background(), p)
	assert.Error(t, err)

	p = testParams()
	p.CellX = 0
	_, err = Build(context.Background(), p)
	assert.Error(t, err)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, testParams())
	assert.ErrorIs(t, err, context.Canceled)
}
