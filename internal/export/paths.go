package export

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Products names the files written for one gridded table.
type Products struct {
	FITS, Plot, HTML string
}

// ProductPaths places the products of table in dir, named after the table's
// base name with unsafe characters replaced.
func ProductPaths(dir, table string) (Products, error) {
	base := strings.TrimSuffix(filepath.Base(filepath.Clean(table)), ".ms")
	name := sanitizeName(base)
	p := Products{
		FITS: filepath.Join(dir, name+".fits"),
		Plot: filepath.Join(dir, name+"_uv.png"),
		HTML: filepath.Join(dir, name+"_weights.html"),
	}
	for _, f := range []string{p.FITS, p.Plot, p.HTML} {
		if err := withinDir(f, dir); err != nil {
			return Products{}, err
		}
	}
	return p, nil
}

// withinDir rejects paths that resolve outside dir.
func withinDir(path, dir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("product %s escapes %s", path, dir)
	}
	return nil
}

// sanitizeName keeps ASCII letters, digits, dot, underscore and dash, and
// collapses every other run of characters into one underscore.
func sanitizeName(s string) string {
	const maxLen = 128
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteRune('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "grid"
	}
	return out
}
