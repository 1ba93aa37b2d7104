package msdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// DefineKeyword stores v as the JSON record of table keyword name.
func (ms *MS) DefineKeyword(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal keyword %s: %w", name, err)
	}
	if _, err := ms.ExecContext(ctx, `INSERT INTO keywords (name, record) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET record = excluded.record`, name, string(b)); err != nil {
		return fmt.Errorf("define keyword %s: %w", name, err)
	}
	return nil
}

// Keyword decodes the record of keyword name into v. found is false when
// the keyword is not defined.
func (ms *MS) Keyword(ctx context.Context, name string, v any) (found bool, err error) {
	var rec string
	err = ms.QueryRowContext(ctx, `SELECT record FROM keywords WHERE name = ?`, name).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read keyword %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(rec), v); err != nil {
		return true, fmt.Errorf("decode keyword %s: %w", name, err)
	}
	return true, nil
}

// KeywordNames lists the defined keywords.
func (ms *MS) KeywordNames(ctx context.Context) ([]string, error) {
	rows, err := ms.QueryContext(ctx, `SELECT name FROM keywords ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
