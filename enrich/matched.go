package enrich

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
)

// MatchedHeader is the first line of a matched affiliations file.
var MatchedHeader = []string{
	"publisher",
	"client_id",
	"affiliation_string",
	"countries",
	"ror",
	"grid",
	"rnsr",
	"is_publisher_fr",
	"is_clientId_fr",
	"is_countries_fr",
}

// MatchedRow is a global affiliation row with its match result.
type MatchedRow struct {
	Row     affiliation.GlobalRow
	Result  matcher.Result
	Reasons Reasons
}

// Record returns the CSV fields; lists are joined with semicolons.
func (m MatchedRow) Record() []string {
	return []string{
		m.Row.Publisher,
		m.Row.ClientID,
		m.Row.Affiliation,
		strings.Join(m.Result.Countries, ";"),
		strings.Join(m.Result.Ror, ";"),
		strings.Join(m.Result.Grid, ";"),
		strings.Join(m.Result.Rnsr, ";"),
		strconv.FormatBool(m.Reasons.IsPublisherFr),
		strconv.FormatBool(m.Reasons.IsClientIDFr),
		strconv.FormatBool(m.Reasons.IsCountriesFr),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}

// MatchedRowFromRecord parses a matched CSV record.
func MatchedRowFromRecord(rec []string) (MatchedRow, error) {
	if len(rec) != len(MatchedHeader) {
		return MatchedRow{}, fmt.Errorf("matched row: %w: got %d, want %d",
			affiliation.ErrFieldCount, len(rec), len(MatchedHeader))
	}
	var flags [3]bool
	for i := range flags {
		v, err := strconv.ParseBool(rec[7+i])
		if err != nil {
			return MatchedRow{}, fmt.Errorf("matched row: %s: %w", MatchedHeader[7+i], err)
		}
		flags[i] = v
	}
	return MatchedRow{
		Row: affiliation.GlobalRow{Publisher: rec[0], ClientID: rec[1], Affiliation: rec[2]},
		Result: matcher.Result{
			Query:     rec[2],
			Countries: splitList(rec[3]),
			Ror:       splitList(rec[4]),
			Grid:      splitList(rec[5]),
			Rnsr:      splitList(rec[6]),
		},
		Reasons: Reasons{IsPublisherFr: flags[0], IsClientIDFr: flags[1], IsCountriesFr: flags[2]},
	}, nil
}

// WriteMatched writes rows with a header.
func WriteMatched(w io.Writer, rows []MatchedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MatchedHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMatched reads a matched file, as written by WriteMatched.
func ReadMatched(r io.Reader) ([]MatchedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var (
		rows  []MatchedRow
		first = true
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(rec) == len(MatchedHeader) && rec[0] == MatchedHeader[0] && rec[2] == MatchedHeader[2] {
				continue
			}
		}
		row, err := MatchedRowFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Index maps global rows to their match.
type Index map[affiliation.GlobalRow]MatchedRow

// NewIndex builds an index, the first row for a key wins.
func NewIndex(rows []MatchedRow) Index {
	idx := make(Index, len(rows))
	for _, r := range rows {
		if _, ok := idx[r.Row]; !ok {
			idx[r.Row] = r
		}
	}
	return idx
}

// Pair is a detailed row of a DOI together with the match of its affiliation.
type Pair struct {
	Row   affiliation.Row
	Match MatchedRow
}

// Join returns the pairs for rows which have a match.
func (idx Index) Join(rows []affiliation.Row) []Pair {
	var pairs []Pair
	for _, r := range rows {
		if r.Affiliation == "" {
			continue
		}
		if m, ok := idx[r.Global()]; ok {
			pairs = append(pairs, Pair{Row: r, Match: m})
		}
	}
	return pairs
}
