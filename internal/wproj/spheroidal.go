package wproj

// Coefficients of Schwab's rational approximation to the prolate spheroidal
// wave function (support 6 cells, alpha 1), split at nu = 0.75.
var (
	grdsfP = [2][5]float64{
		{8.203343e-2, -3.644705e-1, 6.278660e-1, -5.335581e-1, 2.312756e-1},
		{4.028559e-3, -3.697768e-2, 1.021332e-1, -1.201436e-1, 6.412774e-2},
	}
	grdsfQ = [2][3]float64{
		{1.0, 8.212018e-1, 2.078043e-1},
		{1.0, 9.599102e-1, 2.918724e-1},
	}
)

// Grdsf evaluates the spheroidal function at nu in [0, 1]; it is zero
// outside that range.
func Grdsf(nu float64) float64 {
	if nu < 0 {
		nu = -nu
	}
	var part int
	var nuend float64
	switch {
	case nu < 0.75:
		part, nuend = 0, 0.75
	case nu <= 1.0:
		part, nuend = 1, 1.0
	default:
		return 0
	}
	delnusq := nu*nu - nuend*nuend
	top := grdsfP[part][0]
	x := 1.0
	for k := 1; k < 5; k++ {
		x *= delnusq
		top += grdsfP[part][k] * x
	}
	bot := grdsfQ[part][0]
	x = 1.0
	for k := 1; k < 3; k++ {
		x *= delnusq
		bot += grdsfQ[part][k] * x
	}
	if bot == 0 {
		return 0
	}
	return top / bot
}

// taper samples Grdsf over n points centred on n/2, normalised to 1 at the
// centre.
func taper(n int) []float64 {
	out := make([]float64, n)
	half := float64(n / 2)
	if half == 0 {
		half = 1
	}
	peak := Grdsf(0)
	for i := range out {
		out[i] = Grdsf(float64(i-n/2)/half) / peak
	}
	return out
}
