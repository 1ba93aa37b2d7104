package export

import (
	"fmt"
	"io"
	"math"
	"math/cmplx"

	"github.com/astrogo/fitsio"
	"github.com/banshee-data/uvbin/internal/version"
)

// Quantity selects what WriteFITS writes per cell.
type Quantity int

const (
	Amplitude Quantity = iota
	Phase
	Weight
)

func (q Quantity) String() string {
	switch q {
	case Amplitude:
		return "amplitude"
	case Phase:
		return "phase"
	case Weight:
		return "weight"
	}
	return fmt.Sprintf("Quantity(%d)", int(q))
}

// ParseQuantity maps "amplitude", "phase" or "weight" to a Quantity.
func ParseQuantity(s string) (Quantity, error) {
	for _, q := range []Quantity{Amplitude, Phase, Weight} {
		if q.String() == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown quantity %q", s)
}

// WriteFITS streams c to w as a float32 image with axes UU, VV, STOKES and
// FREQ. Flagged cells are written as NaN, except in a weight image.
func WriteFITS(w io.Writer, c *Cube, q Quantity) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	im := fitsio.NewImage(-32, []int{c.NX, c.NY, c.NPol, c.NChan})
	defer im.Close()
	if err := im.Header().Append(headerCards(c, q)...); err != nil {
		return err
	}

	pix := make([]float32, len(c.Data))
	nan := float32(math.NaN())
	for i, v := range c.Data {
		if c.Flag[i] && q != Weight {
			pix[i] = nan
			continue
		}
		switch q {
		case Amplitude:
			pix[i] = float32(cmplx.Abs(complex128(v)))
		case Phase:
			pix[i] = float32(cmplx.Phase(complex128(v)))
		case Weight:
			pix[i] = c.Weight[i]
		}
	}
	if err := im.Write(pix); err != nil {
		return err
	}
	return f.Write(im)
}

func headerCards(c *Cube, q Quantity) []fitsio.Card {
	ref := c.CSys.Direction.Ref
	duv := c.CSys.Direction.FourierIncrement(c.NX, c.NY)
	spec := c.CSys.Spectral
	cards := []fitsio.Card{
		{Name: "BUNIT", Value: bunit(q)},
		{Name: "OBJECT", Value: "UVGRID"},
		{Name: "CTYPE1", Value: "UU", Comment: "wavelengths"},
		{Name: "CRPIX1", Value: float64(c.NX/2 + 1)},
		{Name: "CRVAL1", Value: 0.0},
		{Name: "CDELT1", Value: duv[0]},
		{Name: "CTYPE2", Value: "VV", Comment: "wavelengths"},
		{Name: "CRPIX2", Value: float64(c.NY/2 + 1)},
		{Name: "CRVAL2", Value: 0.0},
		{Name: "CDELT2", Value: duv[1]},
		{Name: "CTYPE3", Value: "STOKES"},
		{Name: "CRPIX3", Value: 1.0},
		{Name: "CRVAL3", Value: 1.0},
		{Name: "CDELT3", Value: 1.0},
		{Name: "CTYPE4", Value: "FREQ"},
		{Name: "CRPIX4", Value: spec.RefPix + 1},
		{Name: "CRVAL4", Value: spec.RefFreq},
		{Name: "CDELT4", Value: spec.Step},
		{Name: "SPECSYS", Value: spec.Frame},
		{Name: "RADESYS", Value: ref.Frame},
		{Name: "OBSRA", Value: ref.Lon.Deg(), Comment: "phase centre, deg"},
		{Name: "OBSDEC", Value: ref.Lat.Deg(), Comment: "phase centre, deg"},
		{Name: "ORIGIN", Value: "uvbin " + version.Version},
	}
	for i, s := range c.CSys.Stokes {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("POL%d", i+1), Value: s.String()})
	}
	return cards
}

func bunit(q Quantity) string {
	switch q {
	case Phase:
		return "rad"
	case Weight:
		return ""
	}
	return "Jy"
}
