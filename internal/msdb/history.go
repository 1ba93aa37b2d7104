package msdb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// HistoryEntry is a HISTORY sub-table row.
type HistoryEntry struct {
	RunID       string
	Time        float64 // MJD seconds
	Application string
	Version     string
	Origin      string
	Message     string
}

// AddHistory appends a HISTORY row. An empty RunID gets a new UUID, which is
// written back into e.
func (ms *MS) AddHistory(ctx context.Context, e *HistoryEntry) error {
	if e.RunID == "" {
		e.RunID = uuid.New().String()
	}
	_, err := ms.ExecContext(ctx, `INSERT INTO history (run_id, time, application, version,
		origin, message) VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Application, e.Version, e.Origin, e.Message)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// History returns HISTORY rows in insertion order.
func (ms *MS) History(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := ms.QueryContext(ctx, `SELECT run_id, time, application, version, origin, message
		FROM history ORDER BY history_row`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.RunID, &e.Time, &e.Application, &e.Version, &e.Origin, &e.Message); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
