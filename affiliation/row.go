package affiliation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Role of a person in a DOI record.
type Role string

const (
	Creator     Role = "creator"
	Contributor Role = "contributor"
)

var (
	// GlobalHeader is the first line of global and consolidated global files.
	GlobalHeader = []string{"publisher", "client_id", "affiliation_string"}

	ErrFieldCount = errors.New("unexpected number of fields")
)

// Row is one (person, affiliation) pair of a DOI record. Column order of the
// detailed CSV files follows the field order.
type Row struct {
	DOI         string
	FileName    string
	Role        Role
	PersonName  string
	Publisher   string
	ClientID    string
	Affiliation string
	OriginFile  string
}

// Record returns the CSV fields.
func (r Row) Record() []string {
	return []string{
		r.DOI,
		r.FileName,
		string(r.Role),
		r.PersonName,
		r.Publisher,
		r.ClientID,
		r.Affiliation,
		r.OriginFile,
	}
}

// Global projects a row to the fields needed for matching.
func (r Row) Global() GlobalRow {
	return GlobalRow{
		Publisher:   r.Publisher,
		ClientID:    r.ClientID,
		Affiliation: r.Affiliation,
	}
}

// RowFromRecord parses a detailed CSV record.
func RowFromRecord(rec []string) (Row, error) {
	if len(rec) != 8 {
		return Row{}, fmt.Errorf("row: %w: got %d, want 8", ErrFieldCount, len(rec))
	}
	return Row{
		DOI:         rec[0],
		FileName:    rec[1],
		Role:        Role(rec[2]),
		PersonName:  rec[3],
		Publisher:   rec[4],
		ClientID:    rec[5],
		Affiliation: rec[6],
		OriginFile:  rec[7],
	}, nil
}

// GlobalRow is the deduplicated projection sent to the matcher.
type GlobalRow struct {
	Publisher   string
	ClientID    string
	Affiliation string
}

// Record returns the CSV fields.
func (g GlobalRow) Record() []string {
	return []string{g.Publisher, g.ClientID, g.Affiliation}
}

// GlobalRowFromRecord parses a global CSV record.
func GlobalRowFromRecord(rec []string) (GlobalRow, error) {
	if len(rec) != 3 {
		return GlobalRow{}, fmt.Errorf("global row: %w: got %d, want 3", ErrFieldCount, len(rec))
	}
	return GlobalRow{Publisher: rec[0], ClientID: rec[1], Affiliation: rec[2]}, nil
}

// IsHeader reports whether a record is the global header line.
func IsHeader(rec []string) bool {
	if len(rec) != len(GlobalHeader) {
		return false
	}
	for i, v := range GlobalHeader {
		if rec[i] != v {
			return false
		}
	}
	return true
}

// Key is used for exact-duplicate detection of CSV records.
func Key(rec []string) string {
	return strings.Join(rec, "\x1f")
}

// ReadRows reads a headerless detailed CSV.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := RowFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadGlobalRows reads a global CSV, the header line is optional.
func ReadGlobalRows(r io.Reader) ([]GlobalRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var rows []GlobalRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if IsHeader(rec) {
			continue
		}
		row, err := GlobalRowFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GroupByDOI groups rows by DOI, keeping the row order within each group.
func GroupByDOI(rows []Row) map[string][]Row {
	groups := make(map[string][]Row)
	for _, r := range rows {
		groups[r.DOI] = append(groups[r.DOI], r)
	}
	return groups
}
