package affiliation

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/dataesr/bso3-harvest-datacite-sub000/schema/datacite"
)

// Extract emits one row per person and affiliation, creators first, then
// contributors. A person without affiliations yields a single row with an
// empty affiliation string, so it is still present for later joins.
func Extract(doc *datacite.Document, fileName, originFile string, exclude ...string) []Row {
	if doc == nil || doc.Attributes == nil {
		return nil
	}
	var (
		rows  []Row
		attrs = doc.Attributes
		base  = Row{
			DOI:        doc.ID,
			FileName:   fileName,
			Publisher:  attrs.Publisher,
			ClientID:   doc.ClientID(),
			OriginFile: originFile,
		}
	)
	emit := func(role Role, people []datacite.Person) {
		for _, p := range people {
			row := base
			row.Role = role
			row.PersonName = PersonName(p.Name, p.GivenName, p.FamilyName)
			if len(p.Affiliation) == 0 {
				rows = append(rows, row)
				continue
			}
			for _, aff := range p.Affiliation {
				row.Affiliation = String(aff, exclude...)
				rows = append(rows, row)
			}
		}
	}
	emit(Creator, attrs.Creators)
	emit(Contributor, attrs.Contributors)
	return rows
}

// Writer appends rows to a detailed file and their deduplicated global
// projection to a global file. Safe for concurrent use, since a partition
// may feed it from several decoding workers.
type Writer struct {
	mu       sync.Mutex
	df, gf   *os.File
	detailed *csv.Writer
	global   *csv.Writer
	seen     map[GlobalRow]struct{}
	numRows  int
}

// Create truncates or creates both files. The global file starts with a header.
func Create(detailedPath, globalPath string) (*Writer, error) {
	df, err := os.Create(detailedPath)
	if err != nil {
		return nil, err
	}
	gf, err := os.Create(globalPath)
	if err != nil {
		df.Close()
		return nil, err
	}
	w := &Writer{
		df:       df,
		gf:       gf,
		detailed: csv.NewWriter(df),
		global:   csv.NewWriter(gf),
		seen:     make(map[GlobalRow]struct{}),
	}
	if err := w.global.Write(GlobalHeader); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Write appends rows. Rows without an affiliation string only go into the
// detailed file.
func (w *Writer) Write(rows []Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range rows {
		if err := w.detailed.Write(r.Record()); err != nil {
			return fmt.Errorf("detailed: %w", err)
		}
		w.numRows++
		if r.Affiliation == "" {
			continue
		}
		g := r.Global()
		if _, ok := w.seen[g]; ok {
			continue
		}
		w.seen[g] = struct{}{}
		if err := w.global.Write(g.Record()); err != nil {
			return fmt.Errorf("global: %w", err)
		}
	}
	return nil
}

// NumRows returns the number of detailed rows written so far.
func (w *Writer) NumRows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRows
}

// Close flushes and closes both files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	w.detailed.Flush()
	errs = append(errs, w.detailed.Error())
	w.global.Flush()
	errs = append(errs, w.global.Error())
	errs = append(errs, w.df.Close(), w.gf.Close())
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
