// Package msselect compiles data-selection expressions (spw, field,
// baseline, scan, uvrange, taql, subarray, correlation, intent, obs) into
// an SQL condition over the main table of a measurement table.
package msselect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/msdb"
)

// Selection holds the raw expressions. Empty fields select everything.
type Selection struct {
	SPW         string `json:"spw" mapstructure:"spw"`
	Field       string `json:"field" mapstructure:"field"`
	Baseline    string `json:"baseline" mapstructure:"baseline"`
	Scan        string `json:"scan" mapstructure:"scan"`
	UVRange     string `json:"uvrange" mapstructure:"uvrange"`
	TaQL        string `json:"taql" mapstructure:"taql"`
	SubArray    string `json:"subarray" mapstructure:"subarray"`
	Correlation string `json:"correlation" mapstructure:"correlation"`
	Intent      string `json:"intent" mapstructure:"intent"`
	Obs         string `json:"obs" mapstructure:"obs"`
}

// Compiled is a selection resolved against one table.
type Compiled struct {
	Where string
	Args  []any
	// Correlations restricts the correlations used; nil means all.
	Correlations []coordsys.Stokes
}

// Selects reports whether correlation c passes the correlation selection.
func (c *Compiled) Selects(s coordsys.Stokes) bool {
	if c == nil || c.Correlations == nil {
		return true
	}
	return coordsys.IndexOf(c.Correlations, s) >= 0
}

type builder struct {
	conds []string
	args  []any
}

func (b *builder) add(cond string, args ...any) {
	b.conds = append(b.conds, "("+cond+")")
	b.args = append(b.args, args...)
}

// Compile resolves sel against ms. Names are looked up in the FIELD and
// ANTENNA sub-tables; the resulting condition is validated by preparing it.
func Compile(ctx context.Context, ms *msdb.MS, sel Selection) (*Compiled, error) {
	b := &builder{}

	if s := strings.TrimSpace(sel.SPW); s != "" && s != "*" {
		if err := compileSPW(ctx, ms, b, s); err != nil {
			return nil, fmt.Errorf("spw selection %q: %w", sel.SPW, err)
		}
	}
	if s := strings.TrimSpace(sel.Field); s != "" && s != "*" {
		if err := compileField(ctx, ms, b, s); err != nil {
			return nil, fmt.Errorf("field selection %q: %w", sel.Field, err)
		}
	}
	if s := strings.TrimSpace(sel.Baseline); s != "" && s != "*" {
		if err := compileBaseline(ctx, ms, b, s); err != nil {
			return nil, fmt.Errorf("baseline selection %q: %w", sel.Baseline, err)
		}
	}
	for _, idSel := range []struct {
		name, expr, column string
	}{
		{"scan", sel.Scan, "scan_number"},
		{"subarray", sel.SubArray, "array_id"},
		{"obs", sel.Obs, "observation_id"},
	} {
		s := strings.TrimSpace(idSel.expr)
		if s == "" || s == "*" {
			continue
		}
		ids, err := ParseIDList(s)
		if err != nil {
			return nil, fmt.Errorf("%s selection %q: %w", idSel.name, idSel.expr, err)
		}
		b.add(inInts(idSel.column, ids), intArgs(ids)...)
	}
	if s := strings.TrimSpace(sel.UVRange); s != "" {
		if err := compileUVRange(ctx, ms, b, s); err != nil {
			return nil, fmt.Errorf("uvrange selection %q: %w", sel.UVRange, err)
		}
	}
	if s := strings.TrimSpace(sel.Intent); s != "" && s != "*" {
		compileIntent(b, s)
	}
	if s := strings.TrimSpace(sel.TaQL); s != "" {
		if strings.Contains(s, ";") {
			return nil, fmt.Errorf("taql selection %q: statement separators are not allowed", sel.TaQL)
		}
		b.add(s)
	}

	c := &Compiled{Where: strings.Join(b.conds, " AND "), Args: b.args}
	if s := strings.TrimSpace(sel.Correlation); s != "" && s != "*" {
		corr, err := ParseCorrelations(s)
		if err != nil {
			return nil, fmt.Errorf("correlation selection %q: %w", sel.Correlation, err)
		}
		c.Correlations = corr
	}
	if err := ms.ValidateWhere(ctx, c.Where, c.Args...); err != nil {
		return nil, fmt.Errorf("invalid selection on %s: %w", ms.Path(), err)
	}
	if c.Where != "" {
		monitoring.Logf("[Select] %s: %s", ms.Path(), c.Where)
	}
	return c, nil
}

// ParseCorrelations parses "RR,LL" or "XX YY".
func ParseCorrelations(s string) ([]coordsys.Stokes, error) {
	var out []coordsys.Stokes
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		st, err := coordsys.ParseStokes(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no correlations named")
	}
	return out, nil
}

func compileSPW(ctx context.Context, ms *msdb.MS, b *builder, s string) error {
	// Channel ranges ("0:5~10") are not applied; the whole window is used.
	var ids []int
	for _, tok := range strings.Split(s, ",") {
		if i := strings.Index(tok, ":"); i >= 0 {
			monitoring.Warnf("Select", "channel range %q ignored; whole window selected", tok[i:])
			tok = tok[:i]
		}
		part, err := ParseIDList(tok)
		if err != nil {
			return err
		}
		ids = append(ids, part...)
	}
	dds, err := ms.DataDescriptions(ctx)
	if err != nil {
		return err
	}
	want := make(map[int32]bool, len(ids))
	for _, id := range ids {
		want[int32(id)] = true
	}
	var ddIDs []int
	for id, dd := range dds {
		if want[dd.SpectralWindowID] {
			ddIDs = append(ddIDs, int(id))
		}
	}
	sort.Ints(ddIDs)
	b.add(inInts("data_desc_id", ddIDs), intArgs(ddIDs)...)
	return nil
}

func compileField(ctx context.Context, ms *msdb.MS, b *builder, s string) error {
	fields, err := ms.Fields(ctx)
	if err != nil {
		return err
	}
	var ids []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if isIDExpr(tok) {
			part, err := ParseIDList(tok)
			if err != nil {
				return err
			}
			ids = append(ids, part...)
			continue
		}
		matched := false
		for _, f := range fields {
			if globMatch(tok, f.Name) {
				ids = append(ids, int(f.ID))
				matched = true
			}
		}
		if !matched {
			return fmt.Errorf("no field named %q", tok)
		}
	}
	b.add(inInts("field_id", ids), intArgs(ids)...)
	return nil
}

func compileIntent(b *builder, s string) {
	var ors []string
	var args []any
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !strings.ContainsAny(tok, "*?[") {
			tok = "*" + tok + "*"
		}
		ors = append(ors, "obs_mode GLOB ?")
		args = append(args, tok)
	}
	b.add("state_id IN (SELECT state_id FROM state WHERE "+strings.Join(ors, " OR ")+")", args...)
}

func inInts(column string, ids []int) string {
	if len(ids) == 0 {
		return "0"
	}
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"
}

func intArgs(ids []int) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
