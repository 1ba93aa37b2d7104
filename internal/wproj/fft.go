package wproj

import "gonum.org/v1/gonum/dsp/fourier"

// fft2 transforms an n×n centred array in place (forward transform). The
// array is shifted so that its centre maps to the origin and back, keeping
// the result centred at (n/2, n/2).
type fft2 struct {
	n    int
	fft  *fourier.CmplxFFT
	line []complex128
	out  []complex128
}

func newFFT2(n int) *fft2 {
	return &fft2{
		n:    n,
		fft:  fourier.NewCmplxFFT(n),
		line: make([]complex128, n),
		out:  make([]complex128, n),
	}
}

func (f *fft2) forward(a []complex128) {
	n := f.n
	shift2(a, n, n/2)
	for y := 0; y < n; y++ {
		row := a[y*n : (y+1)*n]
		f.fft.Coefficients(f.out, row)
		copy(row, f.out)
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			f.line[y] = a[y*n+x]
		}
		f.fft.Coefficients(f.out, f.line)
		for y := 0; y < n; y++ {
			a[y*n+x] = f.out[y]
		}
	}
	shift2(a, n, (n+1)/2)
}

// shift2 cyclically rotates both axes by s samples towards lower indices.
func shift2(a []complex128, n, s int) {
	if s == 0 {
		return
	}
	tmp := make([]complex128, len(a))
	for y := 0; y < n; y++ {
		sy := (y + s) % n
		for x := 0; x < n; x++ {
			sx := (x + s) % n
			tmp[y*n+x] = a[sy*n+sx]
		}
	}
	copy(a, tmp)
}
