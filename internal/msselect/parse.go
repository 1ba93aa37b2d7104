package msselect

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/units"
)

// ParseIDList parses "0,2~4,7" into sorted unique ids. "<n" and ">n" are
// not supported for ids.
func ParseIDList(s string) ([]int, error) {
	seen := make(map[int]bool)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		lo, hi := tok, tok
		if i := strings.Index(tok, "~"); i >= 0 {
			lo, hi = tok[:i], tok[i+1:]
		}
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad id %q", tok)
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("bad id %q", tok)
		}
		if a < 0 || b < a {
			return nil, fmt.Errorf("bad id range %q", tok)
		}
		if b-a > 1<<16 {
			return nil, fmt.Errorf("id range %q too large", tok)
		}
		for i := a; i <= b; i++ {
			seen[i] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty id list")
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out, nil
}

func isIDExpr(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '~' && r != ' ' {
			return false
		}
	}
	return s != ""
}

func globMatch(pattern, name string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// compileBaseline handles ";"-separated terms:
//
//	A       baselines containing A (cross-correlations only)
//	A&B     cross-correlations between A and B
//	A&&B    as A&B, including autocorrelations
//	A&&&    autocorrelations of A
//	!term   negation
//
// A and B are antenna ids, names (globs allowed) or "*".
func compileBaseline(ctx context.Context, ms *msdb.MS, b *builder, s string) error {
	ants, err := ms.Antennas(ctx)
	if err != nil {
		return err
	}
	resolve := func(side string) ([]int, error) {
		side = strings.TrimSpace(side)
		if side == "*" || side == "" {
			ids := make([]int, len(ants))
			for i, a := range ants {
				ids[i] = int(a.ID)
			}
			return ids, nil
		}
		var ids []int
		for _, tok := range strings.Split(side, ",") {
			tok = strings.TrimSpace(tok)
			if isIDExpr(tok) {
				part, err := ParseIDList(tok)
				if err != nil {
					return nil, err
				}
				ids = append(ids, part...)
				continue
			}
			matched := false
			for _, a := range ants {
				if globMatch(tok, a.Name) {
					ids = append(ids, int(a.ID))
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("no antenna named %q", tok)
			}
		}
		return ids, nil
	}

	var ors []string
	var args []any
	var nots []string
	var notArgs []any
	for _, term := range strings.Split(s, ";") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		negate := strings.HasPrefix(term, "!")
		term = strings.TrimPrefix(term, "!")

		var cond string
		var cargs []any
		switch {
		case strings.HasSuffix(term, "&&&"):
			a, err := resolve(strings.TrimSuffix(term, "&&&"))
			if err != nil {
				return err
			}
			cond = "antenna1 = antenna2 AND " + inInts("antenna1", a)
			cargs = intArgs(a)
		case strings.Contains(term, "&"):
			autos := strings.Contains(term, "&&")
			sep := "&"
			if autos {
				sep = "&&"
			}
			parts := strings.SplitN(term, sep, 2)
			a, err := resolve(parts[0])
			if err != nil {
				return err
			}
			bb, err := resolve(parts[1])
			if err != nil {
				return err
			}
			cond = "((" + inInts("antenna1", a) + " AND " + inInts("antenna2", bb) + ") OR (" +
				inInts("antenna1", bb) + " AND " + inInts("antenna2", a) + "))"
			cargs = append(append(append(append(cargs, intArgs(a)...), intArgs(bb)...), intArgs(bb)...), intArgs(a)...)
			if !autos {
				cond += " AND antenna1 != antenna2"
			}
		default:
			a, err := resolve(term)
			if err != nil {
				return err
			}
			cond = "(" + inInts("antenna1", a) + " OR " + inInts("antenna2", a) + ") AND antenna1 != antenna2"
			cargs = append(intArgs(a), intArgs(a)...)
		}
		if negate {
			nots = append(nots, "NOT ("+cond+")")
			notArgs = append(notArgs, cargs...)
		} else {
			ors = append(ors, "("+cond+")")
			args = append(args, cargs...)
		}
	}
	if len(ors) > 0 {
		b.add(strings.Join(ors, " OR "), args...)
	}
	for _, n := range nots {
		b.conds = append(b.conds, "("+n+")")
	}
	b.args = append(b.args, notArgs...)
	if len(ors) == 0 && len(nots) == 0 {
		return fmt.Errorf("empty baseline expression")
	}
	return nil
}

// compileUVRange handles ","-separated ranges "lo~hi<unit>", "<x<unit>" and
// ">x<unit>". Wavelength units are converted per data description using the
// reference frequency of its spectral window.
func compileUVRange(ctx context.Context, ms *msdb.MS, b *builder, s string) error {
	var ors []string
	var args []any
	var freqExpr string

	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		var lo, hi units.UVDistance
		var hasLo, hasHi bool
		var err error
		switch {
		case strings.HasPrefix(tok, "<"):
			hi, err = units.ParseUVDistance(tok[1:])
			hasHi = true
		case strings.HasPrefix(tok, ">"):
			lo, err = units.ParseUVDistance(tok[1:])
			hasLo = true
		case strings.Contains(tok, "~"):
			parts := strings.SplitN(tok, "~", 2)
			hi, err = units.ParseUVDistance(parts[1])
			if err == nil {
				// The unit is written once, after the upper bound.
				const numeric = "0123456789.eE+-"
				loStr := strings.TrimSpace(parts[0])
				if strings.TrimLeft(loStr, numeric) == "" {
					loStr += strings.TrimLeft(strings.TrimSpace(parts[1]), numeric)
				}
				lo, err = units.ParseUVDistance(loStr)
			}
			hasLo, hasHi = true, true
		default:
			err = fmt.Errorf("want lo~hi, <x or >x")
		}
		if err != nil {
			return err
		}
		if lo.Wavelengths || hi.Wavelengths {
			if freqExpr == "" {
				freqExpr, err = refFreqExpr(ctx, ms)
				if err != nil {
					return err
				}
			}
		}
		var conds []string
		if hasLo {
			c, a := uvBound(">=", lo, freqExpr)
			conds = append(conds, c)
			args = append(args, a...)
		}
		if hasHi {
			c, a := uvBound("<=", hi, freqExpr)
			conds = append(conds, c)
			args = append(args, a...)
		}
		ors = append(ors, "("+strings.Join(conds, " AND ")+")")
	}
	if len(ors) == 0 {
		return fmt.Errorf("empty uv range")
	}
	b.add(strings.Join(ors, " OR "), args...)
	return nil
}

// uvBound compares the squared projected baseline length with a bound. In
// wavelengths: (u²+v²)·f² op (x·c)².
func uvBound(op string, d units.UVDistance, freqExpr string) (string, []any) {
	if !d.Wavelengths {
		return "(u*u + v*v) " + op + " ?", []any{d.Value * d.Value}
	}
	x := d.Value * units.SpeedOfLight
	return "(u*u + v*v) * " + freqExpr + " " + op + " ?", []any{x * x}
}

// refFreqExpr builds a CASE expression giving the squared reference
// frequency of each data description.
func refFreqExpr(ctx context.Context, ms *msdb.MS) (string, error) {
	dds, err := ms.DataDescriptions(ctx)
	if err != nil {
		return "", err
	}
	spws, err := ms.SpectralWindows(ctx)
	if err != nil {
		return "", err
	}
	ids := make([]int, 0, len(dds))
	for id := range dds {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	var sb strings.Builder
	sb.WriteString("(CASE data_desc_id")
	for _, id := range ids {
		spw, ok := spws[dds[int32(id)].SpectralWindowID]
		if !ok {
			continue
		}
		f := spw.RefFrequency
		if f == 0 && len(spw.ChanFreq) > 0 {
			f = spw.ChanFreq[len(spw.ChanFreq)/2]
		}
		fmt.Fprintf(&sb, " WHEN %d THEN %s", id, strconv.FormatFloat(f*f, 'g', -1, 64))
	}
	sb.WriteString(" ELSE 0 END)")
	return sb.String(), nil
}
