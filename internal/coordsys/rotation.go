package coordsys

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// uvwBasis returns the rows (u, v, w unit vectors) of the equatorial to uvw
// transform for a phase direction.
func uvwBasis(d Direction) *mat.Dense {
	sa, ca := math.Sincos(d.Lon.Rad())
	sd, cd := math.Sincos(d.Lat.Rad())
	return mat.NewDense(3, 3, []float64{
		-sa, ca, 0,
		-sd * ca, -sd * sa, cd,
		cd * ca, cd * sa, sd,
	})
}

// Rotation re-references uvw coordinates from one phase centre to another.
type Rotation struct {
	m        mat.Dense
	identity bool
}

// NewRotation builds the rotation from the from phase centre to to. Directions
// closer than 1e-12 rad give the identity.
func NewRotation(from, to Direction) *Rotation {
	r := &Rotation{}
	if from.NearlyEqual(to, 1e-12) {
		r.identity = true
		return r
	}
	r.m.Mul(uvwBasis(to), uvwBasis(from).T())
	return r
}

// Identity reports whether the rotation is a no-op.
func (r *Rotation) Identity() bool { return r.identity }

// Apply rotates uvw and returns the w offset (new w minus old w) in meters.
// Visibilities are re-phased by exp(i·2π·dw·f/c).
func (r *Rotation) Apply(uvw [3]float64) ([3]float64, float64) {
	if r.identity {
		return uvw, 0
	}
	in := mat.NewVecDense(3, uvw[:])
	var out mat.VecDense
	out.MulVec(&r.m, in)
	rot := [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
	return rot, rot[2] - uvw[2]
}
