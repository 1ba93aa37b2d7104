// Package wproj synthesises w-projection convolution kernels: for each of a
// set of w-planes, the Fourier transform of the Fresnel phase screen
// exp(2πi·w·(sqrt(1-l²-m²)-1)) tapered by a prolate spheroidal function,
// oversampled in the uv plane, trimmed to the widest support and normalised
// so the w=0 kernel sums to one.
package wproj

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"

	"github.com/banshee-data/uvbin/internal/monitoring"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const speedOfLight = 299792458.0

// supportThreshold is the kernel amplitude, relative to the w=0 peak, below
// which samples are outside the support.
const supportThreshold = 1e-3

// ErrNoSupport is returned when a plane has no usable support.
var ErrNoSupport = errors.New("convolution function has no support; should not be using w-projection")

// Params describe the grid and data the kernels are built for. Cell sizes
// are radians.
type Params struct {
	Ws           []float64 // w of every row, meters
	MaxFreq      float64   // Hz
	NX, NY       int
	CellX, CellY float64
	Planes       int
	Oversampling int
	Padding      float64
	NChan        int
	MemTotalKiB  uint64
	Workers      int
}

func (p *Params) defaults() {
	if p.Oversampling <= 0 {
		p.Oversampling = 4
	}
	if p.Padding <= 0 {
		p.Padding = 1
	}
	if p.NChan <= 0 {
		p.NChan = 1
	}
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	if p.MemTotalKiB == 0 {
		p.MemTotalKiB = 8 << 20
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.NX <= 0 || p.NY <= 0 {
		return fmt.Errorf("grid shape %d×%d must be positive", p.NX, p.NY)
	}
	if p.CellX == 0 || p.CellY == 0 {
		return fmt.Errorf("cell sizes must be non-zero")
	}
	if p.MaxFreq <= 0 {
		return fmt.Errorf("max frequency %g must be positive", p.MaxFreq)
	}
	return nil
}

// ConvFunc is a set of trimmed, oversampled kernels, one per w-plane. Data is
// laid out [plane][y][x] with Size samples per axis, centred at Center.
type ConvFunc struct {
	Oversampling int
	Size         int
	Center       int
	Planes       int
	WScale       float64
	MaxW         float64 // wavelengths
	ConvSize     int     // untrimmed samples per axis
	Support      []int
	MaxSupport   int
	Data         []complex64
	// Correction is the taper-only image correction for the NX × NY grid,
	// laid out [y][x].
	Correction []float64
}

// MaxW estimates the w extent in wavelengths: the largest |w|, unless four
// times the rms is smaller, in which case that is used.
func MaxW(ws []float64, maxFreq float64) float64 {
	if len(ws) == 0 {
		return 0
	}
	abs := make([]float64, len(ws))
	for i, w := range ws {
		abs[i] = math.Abs(w)
	}
	maxAbs := floats.Max(abs)
	sq := make([]float64, len(ws))
	for i, w := range ws {
		sq[i] = w * w
	}
	rms := math.Sqrt(stat.Mean(sq, nil))
	scale := maxFreq / speedOfLight
	if 4*rms < maxAbs {
		return 4 * rms * scale
	}
	return maxAbs * scale
}

// PlaneCount derives the number of w-planes from the field of view, clamped
// to [2, 512].
func PlaneCount(maxW float64, nx, ny int, cellX, cellY float64) int {
	cell := math.Max(math.Abs(cellX), math.Abs(cellY))
	n := float64(max(nx, ny))
	planes := int(maxW*math.Abs(math.Sin(cell*n/2))) + 1
	return min(max(planes, 2), 512)
}

// ConvSize returns the untrimmed kernel size: max(nx,ny)·padding·oversampling,
// capped by host memory and rounded to the nearest even 2^a·3^b·5^c.
func ConvSize(p Params) int {
	p.defaults()
	size := int(float64(max(p.NX, p.NY))*p.Padding) * p.Oversampling
	memMiB := float64(p.MemTotalKiB) / 1024
	limit := int(math.Sqrt(memMiB / 8 * 1024 * 1024 / 512 / float64(p.NChan)))
	if size > limit {
		monitoring.Logf("[WProj] convolution size %d capped at %d by memory", size, limit)
		size = limit
	}
	return nearestComposite(size)
}

// nearestComposite returns the even 2^a·3^b·5^c closest to n (ties go up).
func nearestComposite(n int) int {
	if n <= 2 {
		return 2
	}
	best, bestDiff := 2, math.MaxInt
	limit := 2 * n
	for p2 := 2; p2 <= limit; p2 *= 2 {
		for p3 := p2; p3 <= limit; p3 *= 3 {
			for p5 := p3; p5 <= limit; p5 *= 5 {
				d := p5 - n
				if d < 0 {
					d = -d
				}
				if d < bestDiff || (d == bestDiff && p5 > best) {
					best, bestDiff = p5, d
				}
			}
		}
	}
	return best
}

// Build synthesises the kernels. Planes are computed concurrently, one
// goroutine per plane up to p.Workers; each writes only its own plane.
func Build(ctx context.Context, p Params) (*ConvFunc, error) {
	p.defaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	maxW := MaxW(p.Ws, p.MaxFreq)
	if maxW <= 0 {
		maxW = 1
	}
	planes := p.Planes
	if planes <= 0 {
		planes = PlaneCount(maxW, p.NX, p.NY, p.CellX, p.CellY)
	}
	wScale := 1.0
	if planes > 1 {
		wScale = float64((planes-1)*(planes-1)) / maxW
	}

	over := p.Oversampling
	convSize := ConvSize(p)
	inner := convSize / over
	if inner < 2 {
		return nil, fmt.Errorf("convolution size %d too small for oversampling %d: %w", convSize, over, ErrNoSupport)
	}
	monitoring.Logf("[WProj] %d w-planes, maxW %.1f λ, convolution size %d (inner %d)", planes, maxW, convSize, inner)

	// Image-plane sample spacing: inner samples across the field of view.
	sx := float64(p.NX) * p.CellX / float64(inner)
	sy := float64(p.NY) * p.CellY / float64(inner)
	tap := taper(inner)

	full := make([][]complex64, planes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for iw := 0; iw < planes; iw++ {
		iw := iw
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			full[iw] = synthPlane(iw, wScale, convSize, inner, sx, sy, tap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cf, err := trim(full, convSize, over, planes, wScale, maxW)
	if err != nil {
		return nil, err
	}
	cf.Correction = Correction(p.NX, p.NY)
	return cf, nil
}

func synthPlane(iw int, wScale float64, convSize, inner int, sx, sy float64, tap []float64) []complex64 {
	screen := make([]complex128, convSize*convSize)
	twoPiW := 2 * math.Pi * float64(iw*iw) / wScale
	c := convSize / 2
	for iy := -inner / 2; iy < inner/2; iy++ {
		m := sy * float64(iy)
		ty := tap[iy+inner/2]
		for ix := -inner / 2; ix < inner/2; ix++ {
			l := sx * float64(ix)
			rsq := l*l + m*m
			if rsq >= 1 {
				continue
			}
			phase := twoPiW * (math.Sqrt(1-rsq) - 1)
			s, co := math.Sincos(phase)
			amp := ty * tap[ix+inner/2]
			screen[(iy+c)*convSize+ix+c] = complex(amp*co, amp*s)
		}
	}
	newFFT2(convSize).forward(screen)
	out := make([]complex64, len(screen))
	for i, v := range screen {
		out[i] = complex64(v)
	}
	return out
}

// trim scans each plane for its support, cuts every plane to the widest
// support and normalises.
func trim(full [][]complex64, convSize, over, planes int, wScale, maxW float64) (*ConvFunc, error) {
	c := convSize / 2
	peak := 0.0
	for _, v := range full[0] {
		peak = math.Max(peak, cmplx.Abs(complex128(v)))
	}
	if peak == 0 {
		return nil, fmt.Errorf("w=0 kernel is empty: %w", ErrNoSupport)
	}

	support := make([]int, planes)
	maxClip := convSize/(2*over) - 1
	for iw := 0; iw < planes; iw++ {
		found := false
		for ix := 0; c+ix < convSize; ix++ {
			if cmplx.Abs(complex128(full[iw][c*convSize+c+ix]))/peak < supportThreshold {
				support[iw] = int(0.5+float64(ix)/float64(over)) + 1
				found = true
				break
			}
		}
		if !found || support[iw] > maxClip {
			monitoring.Warnf("WProj", "plane %d support clipped to %d", iw, maxClip)
			support[iw] = maxClip
		}
		if support[iw] < 1 {
			return nil, fmt.Errorf("plane %d: %w", iw, ErrNoSupport)
		}
	}
	maxSup := 0
	for _, s := range support {
		maxSup = max(maxSup, s)
	}

	size := 2*(maxSup+1)*over + 1
	center := size / 2
	cf := &ConvFunc{
		Oversampling: over,
		Size:         size,
		Center:       center,
		Planes:       planes,
		WScale:       wScale,
		MaxW:         maxW,
		ConvSize:     convSize,
		Support:      support,
		MaxSupport:   maxSup,
		Data:         make([]complex64, planes*size*size),
	}
	inv := float32(1 / peak)
	for iw := 0; iw < planes; iw++ {
		dst := cf.Plane(iw)
		for y := 0; y < size; y++ {
			sy := c - center + y
			if sy < 0 || sy >= convSize {
				continue
			}
			for x := 0; x < size; x++ {
				sx := c - center + x
				if sx < 0 || sx >= convSize {
					continue
				}
				v := full[iw][sy*convSize+sx]
				dst[y*size+x] = complex(real(v)*inv, imag(v)*inv)
			}
		}
	}

	sum := 0.0
	s0 := support[0]
	for iy := -s0; iy <= s0; iy++ {
		for ix := -s0; ix <= s0; ix++ {
			sum += real(complex128(cf.At(0, ix*over, iy*over)))
		}
	}
	if sum == 0 {
		return nil, fmt.Errorf("w=0 kernel sums to zero: %w", ErrNoSupport)
	}
	norm := float32(1 / sum)
	for i, v := range cf.Data {
		cf.Data[i] = complex(real(v)*norm, imag(v)*norm)
	}
	monitoring.Logf("[WProj] supports %v, trimmed size %d", support, size)
	return cf, nil
}

// Plane returns the samples of plane iw.
func (cf *ConvFunc) Plane(iw int) []complex64 {
	n := cf.Size * cf.Size
	return cf.Data[iw*n : (iw+1)*n]
}

// At returns the sample at oversampled offset (dx, dy) from the centre of
// plane iw, or zero outside the kernel.
func (cf *ConvFunc) At(iw, dx, dy int) complex64 {
	x, y := cf.Center+dx, cf.Center+dy
	if x < 0 || y < 0 || x >= cf.Size || y >= cf.Size {
		return 0
	}
	return cf.Data[(iw*cf.Size+y)*cf.Size+x]
}

// PlaneFor returns the w-plane for w meters at frequency freq.
func (cf *ConvFunc) PlaneFor(w, freq float64) int {
	iw := int(math.Sqrt(math.Abs(cf.WScale*w*freq/speedOfLight)) + 0.5)
	return min(max(iw, 0), cf.Planes-1)
}

// Correction returns the image-domain taper correction for an nx × ny image,
// laid out [y][x].
func Correction(nx, ny int) []float64 {
	tx, ty := taper(nx), taper(ny)
	out := make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			out[y*nx+x] = tx[x] * ty[y]
		}
	}
	return out
}
