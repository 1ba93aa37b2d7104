package coordsys

import (
	"fmt"
	"strings"
)

// Stokes is a correlation/polarization product code in the standard
// enumeration used by measurement tables.
type Stokes int

const (
	Undefined Stokes = 0
	I         Stokes = 1
	Q         Stokes = 2
	U         Stokes = 3
	V         Stokes = 4
	RR        Stokes = 5
	RL        Stokes = 6
	LR        Stokes = 7
	LL        Stokes = 8
	XX        Stokes = 9
	XY        Stokes = 10
	YX        Stokes = 11
	YY        Stokes = 12
)

var stokesNames = map[Stokes]string{
	I: "I", Q: "Q", U: "U", V: "V",
	RR: "RR", RL: "RL", LR: "LR", LL: "LL",
	XX: "XX", XY: "XY", YX: "YX", YY: "YY",
}

func (s Stokes) String() string {
	if n, ok := stokesNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Stokes(%d)", int(s))
}

// ParseStokes maps a name such as "RR" or "yy" to its code.
func ParseStokes(name string) (Stokes, error) {
	up := strings.ToUpper(strings.TrimSpace(name))
	for code, n := range stokesNames {
		if n == up {
			return code, nil
		}
	}
	return Undefined, fmt.Errorf("unknown correlation %q", name)
}

// IsLinear reports whether s is one of XX, XY, YX, YY.
func (s Stokes) IsLinear() bool { return s >= XX && s <= YY }

// IsCircular reports whether s is one of RR, RL, LR, LL.
func (s Stokes) IsCircular() bool { return s >= RR && s <= LL }

// StokesFor returns the output Stokes axis for npol correlations in the given
// feed basis.
func StokesFor(linear bool, npol int) ([]Stokes, error) {
	var set [4]Stokes
	if linear {
		set = [4]Stokes{XX, XY, YX, YY}
	} else {
		set = [4]Stokes{RR, RL, LR, LL}
	}
	switch npol {
	case 4:
		return set[:], nil
	case 2:
		return []Stokes{set[0], set[3]}, nil
	case 1:
		return []Stokes{set[0]}, nil
	default:
		return nil, fmt.Errorf("npol must be 1, 2 or 4, got %d", npol)
	}
}

// IndexOf returns the position of s in axis, or -1.
func IndexOf(axis []Stokes, s Stokes) int {
	for i, a := range axis {
		if a == s {
			return i
		}
	}
	return -1
}
