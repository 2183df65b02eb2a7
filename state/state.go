// Package state keeps bookkeeping about harvests and processed dump files.
package state

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Harvest status values.
const (
	StatusInProgress    = "in progress"
	StatusDone          = "done"
	StatusError         = "error"
	StatusAlreadyExists = "already exists"
)

// HarvestState describes a single run of the dump tool.
type HarvestState struct {
	ID               int64
	RunID            string
	StartDate        time.Time
	EndDate          time.Time
	Status           string
	CurrentDirectory string
	NumberSlices     int64
	NumberMissed     int64
	SliceType        string
	Processed        bool
}

// ProcessState records a dump file which has been split.
type ProcessState struct {
	ID                             int64
	FileName                       string
	FilePath                       string
	NumberOfDOIs                   int64
	NumberOfDOIsWithNullAttributes int64
	NumberOfNonNullDOIs            int64
	ProcessDate                    time.Time
	Processed                      bool
}

// HarvestStateRepository stores harvest states, at most one per directory.
type HarvestStateRepository interface {
	// Create inserts a row and sets its ID; it returns false, if a row for
	// the same directory already exists.
	Create(ctx context.Context, s *HarvestState) (bool, error)
	// Get returns the rows matching all filter fields, ordered by id.
	Get(ctx context.Context, where map[string]any) ([]HarvestState, error)
	// Update sets values on all rows matching where.
	Update(ctx context.Context, values, where map[string]any) (int64, error)
}

// ProcessStateRepository stores process states, at most one per file name.
type ProcessStateRepository interface {
	Create(ctx context.Context, s *ProcessState) (bool, error)
	Get(ctx context.Context, where map[string]any) ([]ProcessState, error)
	Update(ctx context.Context, values, where map[string]any) (int64, error)
}

// Kind of a column value.
type Kind int

const (
	Int Kind = iota
	String
	Bool
	Time
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Time:
		return "time"
	default:
		return "unknown"
	}
}

// ValidationError names a field which does not fit a table.
type ValidationError struct {
	Table    string
	Field    string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: unknown field %q", e.Table, e.Field)
	}
	return fmt.Sprintf("%s: field %q: expected %s, got %s", e.Table, e.Field, e.Expected, e.Actual)
}

// Table describes column names and kinds.
type Table struct {
	Name    string
	Columns map[string]Kind
}

var (
	HarvestTable = &Table{
		Name: "harvest_state",
		Columns: map[string]Kind{
			"id":                Int,
			"run_id":            String,
			"start_date":        Time,
			"end_date":          Time,
			"status":            String,
			"current_directory": String,
			"number_slices":     Int,
			"number_missed":     Int,
			"slice_type":        String,
			"processed":         Bool,
		},
	}
	ProcessTable = &Table{
		Name: "process_state",
		Columns: map[string]Kind{
			"id":                                  Int,
			"file_name":                           String,
			"file_path":                           String,
			"number_of_dois":                      Int,
			"number_of_dois_with_null_attributes": Int,
			"number_of_non_null_dois":             Int,
			"process_date":                        Time,
			"processed":                           Bool,
		},
	}
)

func kindOf(v any) (Kind, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return Int, true
	case string:
		return String, true
	case bool:
		return Bool, true
	case time.Time:
		return Time, true
	}
	return 0, false
}

// Validate checks keys and value types of fields. Fields are checked in key
// order, so the error is stable.
func (t *Table) Validate(fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		want, ok := t.Columns[k]
		if !ok {
			return &ValidationError{Table: t.Name, Field: k}
		}
		v := fields[k]
		got, ok := kindOf(v)
		if !ok || got != want {
			actual := "nil"
			if v != nil {
				actual = reflect.TypeOf(v).String()
			}
			return &ValidationError{Table: t.Name, Field: k, Expected: want.String(), Actual: actual}
		}
	}
	return nil
}
