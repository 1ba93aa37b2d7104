package msdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Row is one row of the main table. Array cells are laid out [chan][pol];
// Weight and Sigma hold one value per polarization.
type Row struct {
	ID             int64
	Time           float64
	TimeCentroid   float64
	Antenna1       int32
	Antenna2       int32
	UVW            [3]float64
	FlagRow        bool
	DataDescID     int32
	FieldID        int32
	ScanNumber     int32
	ArrayID        int32
	ObservationID  int32
	StateID        int32
	Data           []complex64
	CorrectedData  []complex64
	Flag           []bool
	Weight         []float32
	Sigma          []float32
	WeightSpectrum []float32
}

const rowColumns = `row_id, time, time_centroid, antenna1, antenna2, u, v, w, flag_row,
	data_desc_id, field_id, scan_number, array_id, observation_id, state_id,
	data, corrected_data, flag, weight, sigma, weight_spectrum`

// idChunk bounds the number of bound parameters in IN (...) lists.
const idChunk = 500

func scanRow(sc interface{ Scan(...any) error }) (Row, error) {
	var (
		r                                 Row
		flagRow                           int
		data, corr, flag, wt, sig, wtSpec []byte
	)
	err := sc.Scan(&r.ID, &r.Time, &r.TimeCentroid, &r.Antenna1, &r.Antenna2,
		&r.UVW[0], &r.UVW[1], &r.UVW[2], &flagRow,
		&r.DataDescID, &r.FieldID, &r.ScanNumber, &r.ArrayID, &r.ObservationID, &r.StateID,
		&data, &corr, &flag, &wt, &sig, &wtSpec)
	if err != nil {
		return Row{}, err
	}
	r.FlagRow = flagRow != 0
	if r.Data, err = DecodeComplex64(data); err != nil {
		return Row{}, fmt.Errorf("row %d data: %w", r.ID, err)
	}
	if r.CorrectedData, err = DecodeComplex64(corr); err != nil {
		return Row{}, fmt.Errorf("row %d corrected_data: %w", r.ID, err)
	}
	r.Flag = DecodeBool(flag)
	if r.Weight, err = DecodeFloat32(wt); err != nil {
		return Row{}, fmt.Errorf("row %d weight: %w", r.ID, err)
	}
	if r.Sigma, err = DecodeFloat32(sig); err != nil {
		return Row{}, fmt.Errorf("row %d sigma: %w", r.ID, err)
	}
	if r.WeightSpectrum, err = DecodeFloat32(wtSpec); err != nil {
		return Row{}, fmt.Errorf("row %d weight_spectrum: %w", r.ID, err)
	}
	return r, nil
}

func collectRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NRows returns the number of rows in the main table.
func (ms *MS) NRows(ctx context.Context) (int64, error) {
	var n int64
	if err := ms.QueryRowContext(ctx, `SELECT COUNT(*) FROM ms_main`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// AddRows appends rows, assigning contiguous ids after the current last row.
// The assigned ids are written back into rows.
func (ms *MS) AddRows(ctx context.Context, rows []Row) error {
	return ms.FillRows(ctx, int64(len(rows)), func(i int64, r *Row) {
		*r = rows[i]
	}, func(i int64, id int64) {
		rows[i].ID = id
	})
}

// FillRows appends n rows built by init in a single transaction. assigned, if
// non-nil, receives each new row id.
func (ms *MS) FillRows(ctx context.Context, n int64, init func(i int64, r *Row), assigned func(i, id int64)) error {
	var next int64
	if err := ms.QueryRowContext(ctx, `SELECT COALESCE(MAX(row_id) + 1, 0) FROM ms_main`).Scan(&next); err != nil {
		return fmt.Errorf("next row id: %w", err)
	}
	tx, err := ms.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add rows: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ms_main (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare add rows: %w", err)
	}
	defer stmt.Close()

	var r Row
	for i := int64(0); i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r = Row{}
		init(i, &r)
		r.ID = next + i
		if _, err := stmt.ExecContext(ctx, rowArgs(&r)...); err != nil {
			return fmt.Errorf("insert row %d: %w", r.ID, err)
		}
		if assigned != nil {
			assigned(i, r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add rows: %w", err)
	}
	return nil
}

func rowArgs(r *Row) []any {
	return []any{r.ID, r.Time, r.TimeCentroid, r.Antenna1, r.Antenna2,
		r.UVW[0], r.UVW[1], r.UVW[2], boolInt(r.FlagRow),
		r.DataDescID, r.FieldID, r.ScanNumber, r.ArrayID, r.ObservationID, r.StateID,
		EncodeComplex64(r.Data), EncodeComplex64(r.CorrectedData), EncodeBool(r.Flag),
		EncodeFloat32(r.Weight), EncodeFloat32(r.Sigma), EncodeFloat32(r.WeightSpectrum)}
}

// GetRow reads a single row.
func (ms *MS) GetRow(ctx context.Context, id int64) (Row, error) {
	r, err := scanRow(ms.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM ms_main WHERE row_id = ?`, id))
	if err != nil {
		return Row{}, fmt.Errorf("get row %d: %w", id, err)
	}
	return r, nil
}

// GetRows reads the rows with the given ids, returned in the order requested.
func (ms *MS) GetRows(ctx context.Context, ids []int64) ([]Row, error) {
	byID := make(map[int64]Row, len(ids))
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := `SELECT ` + rowColumns + ` FROM ms_main WHERE row_id IN (` + placeholders(len(chunk)) + `)`
		rows, err := ms.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("get rows: %w", err)
		}
		got, err := collectRows(rows)
		if err != nil {
			return nil, fmt.Errorf("get rows: %w", err)
		}
		for _, r := range got {
			byID[r.ID] = r
		}
	}
	out := make([]Row, len(ids))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("get rows: row %d does not exist", id)
		}
		out[i] = r
	}
	return out, nil
}

// GetColumnRange reads n rows starting at row id first, ordered by id.
func (ms *MS) GetColumnRange(ctx context.Context, first, n int64) ([]Row, error) {
	rows, err := ms.QueryContext(ctx, `SELECT `+rowColumns+` FROM ms_main
		WHERE row_id >= ? AND row_id < ? ORDER BY row_id`, first, first+n)
	if err != nil {
		return nil, fmt.Errorf("get rows [%d,%d): %w", first, first+n, err)
	}
	out, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get rows [%d,%d): %w", first, first+n, err)
	}
	return out, nil
}

// PutRow rewrites a single row.
func (ms *MS) PutRow(ctx context.Context, r Row) error {
	return ms.PutRows(ctx, []Row{r})
}

// PutRows rewrites every column of the given rows in one transaction.
func (ms *MS) PutRows(ctx context.Context, rows []Row) error {
	tx, err := ms.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put rows: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE ms_main SET
		time = ?, time_centroid = ?, antenna1 = ?, antenna2 = ?, u = ?, v = ?, w = ?,
		flag_row = ?, data_desc_id = ?, field_id = ?, scan_number = ?, array_id = ?,
		observation_id = ?, state_id = ?, data = ?, corrected_data = ?, flag = ?,
		weight = ?, sigma = ?, weight_spectrum = ?
		WHERE row_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare put rows: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		args := rowArgs(&rows[i])
		args = append(args[1:], rows[i].ID)
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("update row %d: %w", rows[i].ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("update row %d: row does not exist", rows[i].ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put rows: %w", err)
	}
	return nil
}

// PutColumnRange rewrites a contiguous block of rows read with GetColumnRange.
func (ms *MS) PutColumnRange(ctx context.Context, rows []Row) error {
	for i := 1; i < len(rows); i++ {
		if rows[i].ID != rows[i-1].ID+1 {
			return fmt.Errorf("put column range: rows %d and %d are not contiguous", rows[i-1].ID, rows[i].ID)
		}
	}
	return ms.PutRows(ctx, rows)
}

// HasCorrectedData reports whether any row carries a CORRECTED_DATA cell.
func (ms *MS) HasCorrectedData(ctx context.Context) (bool, error) {
	var has int
	err := ms.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ms_main WHERE corrected_data IS NOT NULL)`).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check corrected_data: %w", err)
	}
	return has != 0, nil
}

// Chunk is a run of main-table rows sharing a data description and field.
type Chunk struct {
	DataDescID int32
	FieldID    int32
	NRows      int64
}

// Chunks lists the (data_desc_id, field_id) groups matching where, in order.
// An empty where selects every row.
func (ms *MS) Chunks(ctx context.Context, where string, args ...any) ([]Chunk, error) {
	q := `SELECT data_desc_id, field_id, COUNT(*) FROM ms_main` + whereClause(where) +
		` GROUP BY data_desc_id, field_id ORDER BY data_desc_id, field_id`
	rows, err := ms.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.DataDescID, &c.FieldID, &c.NRows); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SelectRows pages through rows matching where in (time, row_id) order,
// returning at most limit rows positioned after the cursor.
func (ms *MS) SelectRows(ctx context.Context, where string, args []any, after Cursor, limit int) ([]Row, Cursor, error) {
	cond := `(time > ? OR (time = ? AND row_id > ?))`
	if strings.TrimSpace(where) != "" {
		cond = `(` + where + `) AND ` + cond
	}
	all := append(append([]any(nil), args...), after.Time, after.Time, after.RowID, limit)
	rows, err := ms.QueryContext(ctx, `SELECT `+rowColumns+` FROM ms_main WHERE `+cond+
		` ORDER BY time, row_id LIMIT ?`, all...)
	if err != nil {
		return nil, after, fmt.Errorf("select rows: %w", err)
	}
	out, err := collectRows(rows)
	if err != nil {
		return nil, after, fmt.Errorf("select rows: %w", err)
	}
	if len(out) > 0 {
		last := out[len(out)-1]
		after = Cursor{Time: last.Time, RowID: last.ID}
	}
	return out, after, nil
}

// Cursor positions SelectRows paging.
type Cursor struct {
	Time  float64
	RowID int64
}

// StartCursor precedes every row.
var StartCursor = Cursor{Time: -1e300, RowID: -1}

// CountRows counts rows matching where.
func (ms *MS) CountRows(ctx context.Context, where string, args ...any) (int64, error) {
	var n int64
	if err := ms.QueryRowContext(ctx, `SELECT COUNT(*) FROM ms_main`+whereClause(where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// ValidateWhere prepares a query using where without running it.
func (ms *MS) ValidateWhere(ctx context.Context, where string, args ...any) error {
	rows, err := ms.QueryContext(ctx, `SELECT 1 FROM ms_main`+whereClause(where)+` LIMIT 0`, args...)
	if err != nil {
		return err
	}
	return rows.Close()
}

func whereClause(where string) string {
	if strings.TrimSpace(where) == "" {
		return ""
	}
	return ` WHERE ` + where
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
