package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// DateLayout is used to store times as text.
const DateLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS harvest_state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	status TEXT NOT NULL,
	current_directory TEXT NOT NULL UNIQUE,
	number_slices INTEGER NOT NULL DEFAULT 0,
	number_missed INTEGER NOT NULL DEFAULT 0,
	slice_type TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS process_state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name TEXT NOT NULL UNIQUE,
	file_path TEXT NOT NULL,
	number_of_dois INTEGER NOT NULL DEFAULT 0,
	number_of_dois_with_null_attributes INTEGER NOT NULL DEFAULT 0,
	number_of_non_null_dois INTEGER NOT NULL DEFAULT 0,
	process_date TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0
);
`

var (
	harvestColumns = []string{"id", "run_id", "start_date", "end_date", "status",
		"current_directory", "number_slices", "number_missed", "slice_type", "processed"}
	processColumns = []string{"id", "file_name", "file_path", "number_of_dois",
		"number_of_dois_with_null_attributes", "number_of_non_null_dois", "process_date", "processed"}
)

// SQLite keeps both tables in a single database file.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates a database and its tables.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Harvests returns the harvest state repository.
func (s *SQLite) Harvests() *HarvestRepo {
	return &HarvestRepo{db: s.db}
}

// Processes returns the process state repository.
func (s *SQLite) Processes() *ProcessRepo {
	return &ProcessRepo{db: s.db}
}

// sqlValues converts times to their stored text form.
func sqlValues(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(DateLayout)
		}
		result[k] = v
	}
	return result
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func insert(ctx context.Context, db *sql.DB, table string, columns []string, values []any) (int64, bool, error) {
	query, args, err := sq.Insert(table).
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return 0, false, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, false, fmt.Errorf("%s: insert: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	return id, true, err
}

func update(ctx context.Context, db *sql.DB, t *Table, values, where map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, errors.New("no values to update")
	}
	if err := t.Validate(values); err != nil {
		return 0, err
	}
	if err := t.Validate(where); err != nil {
		return 0, err
	}
	b := sq.Update(t.Name).SetMap(sqlValues(values))
	if len(where) > 0 {
		b = b.Where(sq.Eq(sqlValues(where)))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: update: %w", t.Name, err)
	}
	return res.RowsAffected()
}

func selectRows(ctx context.Context, db *sql.DB, t *Table, columns []string, where map[string]any) (*sql.Rows, error) {
	if err := t.Validate(where); err != nil {
		return nil, err
	}
	b := sq.Select(columns...).From(t.Name).OrderBy("id")
	if len(where) > 0 {
		b = b.Where(sq.Eq(sqlValues(where)))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// HarvestRepo implements HarvestStateRepository.
type HarvestRepo struct {
	db *sql.DB
}

func (r *HarvestRepo) Create(ctx context.Context, s *HarvestState) (bool, error) {
	columns := harvestColumns[1:]
	values := []any{
		s.RunID,
		s.StartDate.UTC().Format(DateLayout),
		s.EndDate.UTC().Format(DateLayout),
		s.Status,
		s.CurrentDirectory,
		s.NumberSlices,
		s.NumberMissed,
		s.SliceType,
		s.Processed,
	}
	id, ok, err := insert(ctx, r.db, HarvestTable.Name, columns, values)
	if ok {
		s.ID = id
	}
	return ok, err
}

func (r *HarvestRepo) Get(ctx context.Context, where map[string]any) ([]HarvestState, error) {
	rows, err := selectRows(ctx, r.db, HarvestTable, harvestColumns, where)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []HarvestState
	for rows.Next() {
		var (
			s          HarvestState
			start, end string
		)
		if err := rows.Scan(&s.ID, &s.RunID, &start, &end, &s.Status, &s.CurrentDirectory,
			&s.NumberSlices, &s.NumberMissed, &s.SliceType, &s.Processed); err != nil {
			return nil, err
		}
		if s.StartDate, err = parseTime(start); err != nil {
			return nil, err
		}
		if s.EndDate, err = parseTime(end); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *HarvestRepo) Update(ctx context.Context, values, where map[string]any) (int64, error) {
	return update(ctx, r.db, HarvestTable, values, where)
}

// ProcessRepo implements ProcessStateRepository.
type ProcessRepo struct {
	db *sql.DB
}

func (r *ProcessRepo) Create(ctx context.Context, s *ProcessState) (bool, error) {
	columns := processColumns[1:]
	values := []any{
		s.FileName,
		s.FilePath,
		s.NumberOfDOIs,
		s.NumberOfDOIsWithNullAttributes,
		s.NumberOfNonNullDOIs,
		s.ProcessDate.UTC().Format(DateLayout),
		s.Processed,
	}
	id, ok, err := insert(ctx, r.db, ProcessTable.Name, columns, values)
	if ok {
		s.ID = id
	}
	return ok, err
}

func (r *ProcessRepo) Get(ctx context.Context, where map[string]any) ([]ProcessState, error) {
	rows, err := selectRows(ctx, r.db, ProcessTable, processColumns, where)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []ProcessState
	for rows.Next() {
		var (
			s    ProcessState
			date string
		)
		if err := rows.Scan(&s.ID, &s.FileName, &s.FilePath, &s.NumberOfDOIs,
			&s.NumberOfDOIsWithNullAttributes, &s.NumberOfNonNullDOIs, &date, &s.Processed); err != nil {
			return nil, err
		}
		if s.ProcessDate, err = parseTime(date); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *ProcessRepo) Update(ctx context.Context, values, where map[string]any) (int64, error) {
	return update(ctx, r.db, ProcessTable, values, where)
}
