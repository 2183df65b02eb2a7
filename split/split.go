// Package split breaks dump files into one JSON file per DOI and extracts
// affiliation rows on the way.
package split

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	"github.com/dataesr/bso3-harvest-datacite-sub000/enrich"
	"github.com/dataesr/bso3-harvest-datacite-sub000/pproc"
	"github.com/dataesr/bso3-harvest-datacite-sub000/schema/datacite"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"
)

// Counts of a split file.
type Counts struct {
	DOIs           int64
	NullAttributes int64
	NonNull        int64
	// Lines is the number of non-empty lines; MalformedLines how many of
	// them could not be decoded as a page.
	Lines          int64
	MalformedLines int64
	// Malformed counts records skipped within decodable pages.
	Malformed int64
}

// Add sums counts.
func (c *Counts) Add(o Counts) {
	c.DOIs += o.DOIs
	c.NullAttributes += o.NullAttributes
	c.NonNull += o.NonNull
	c.Lines += o.Lines
	c.MalformedLines += o.MalformedLines
	c.Malformed += o.Malformed
}

// Result of processing a single dump file.
type Result struct {
	File    string
	Counts  Counts
	Skipped bool
}

// Splitter writes every DOI record of a dump file into StagingDir, named
// after the DOI, and passes it to the affiliation writer.
type Splitter struct {
	StagingDir string
	Writer     *affiliation.Writer
	// Processes, if set, is used to skip files already marked processed.
	Processes state.ProcessStateRepository
	Exclude   []string
	Workers   int
	// Now is used for process dates.
	Now func() time.Time
}

func (s *Splitter) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// previous returns the process state of a file, if any.
func (s *Splitter) previous(ctx context.Context, name string) (*state.ProcessState, error) {
	if s.Processes == nil {
		return nil, nil
	}
	rows, err := s.Processes.Get(ctx, map[string]any{"file_name": name})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SplitFile processes a single dump file. Malformed lines and records are
// logged and skipped. A file is skipped only if its process state is marked
// processed, which happens after enrichment, see MarkProcessed. A file split
// by an earlier, unfinished run is split again.
func (s *Splitter) SplitFile(ctx context.Context, filename string) (*Result, error) {
	var (
		name   = filepath.Base(filename)
		result = &Result{File: filename}
	)
	prev, err := s.previous(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("process state: %w", err)
	}
	if prev != nil && prev.Processed {
		log.WithField("file", name).Debug("already processed, skipping")
		result.Skipped = true
		return result, nil
	}
	if err := os.MkdirAll(s.StagingDir, 0755); err != nil {
		return nil, err
	}
	r, err := Open(filename)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var dois, nulls, badLines, badRecords atomic.Int64
	skipRecord := func(i int, err error) {
		badRecords.Add(1)
		log.WithFields(log.Fields{
			"file":   name,
			"record": i,
		}).WithError(err).Warn("skipping malformed record")
	}
	processLine := func(_ context.Context, line []byte) error {
		var shard datacite.Shard
		if err := json.Unmarshal(line, &shard); err != nil {
			return err
		}
		for i, raw := range shard.Data {
			var doc datacite.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				skipRecord(i, err)
				continue
			}
			if doc.ID == "" {
				skipRecord(i, errors.New("record without id"))
				continue
			}
			dois.Add(1)
			if doc.Attributes == nil {
				nulls.Add(1)
			}
			fileName := enrich.FileName(doc.ID)
			if err := enrich.WriteFileAtomic(filepath.Join(s.StagingDir, fileName), raw); err != nil {
				return fmt.Errorf("%w: %v", errWrite, err)
			}
			if s.Writer != nil {
				if err := s.Writer.Write(affiliation.Extract(&doc, fileName, name, s.Exclude...)); err != nil {
					return fmt.Errorf("%w: %v", errWrite, err)
				}
			}
		}
		return nil
	}
	onError := func(line []byte, err error) error {
		if errors.Is(err, errWrite) {
			return err
		}
		badLines.Add(1)
		log.WithFields(log.Fields{
			"file": name,
			"size": len(line),
		}).WithError(err).Warn("skipping malformed line")
		return nil
	}
	opts := []pproc.Option{pproc.WithErrorFunc(onError)}
	if s.Workers > 0 {
		opts = append(opts, pproc.WithWorkers(s.Workers))
	}
	stats, err := pproc.New(processLine, opts...).Process(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	result.Counts = Counts{
		DOIs:           dois.Load(),
		NullAttributes: nulls.Load(),
		NonNull:        dois.Load() - nulls.Load(),
		Lines:          stats.Records,
		MalformedLines: badLines.Load(),
		Malformed:      badRecords.Load(),
	}
	if err := s.record(ctx, filename, prev, result.Counts); err != nil {
		return nil, fmt.Errorf("process state: %w", err)
	}
	log.WithFields(log.Fields{
		"file":      name,
		"dois":      result.Counts.DOIs,
		"null":      result.Counts.NullAttributes,
		"malformed": result.Counts.Malformed + result.Counts.MalformedLines,
	}).Info("split done")
	return result, nil
}

var errWrite = errors.New("write failed")

// record stores the counts of a split file, not yet marked processed.
func (s *Splitter) record(ctx context.Context, filename string, prev *state.ProcessState, c Counts) error {
	if s.Processes == nil {
		return nil
	}
	if prev != nil {
		_, err := s.Processes.Update(ctx, map[string]any{
			"file_path":                           filename,
			"number_of_dois":                      c.DOIs,
			"number_of_dois_with_null_attributes": c.NullAttributes,
			"number_of_non_null_dois":             c.NonNull,
			"process_date":                        s.now(),
		}, map[string]any{"id": prev.ID})
		return err
	}
	_, err := s.Processes.Create(ctx, &state.ProcessState{
		FileName:                       filepath.Base(filename),
		FilePath:                       filename,
		NumberOfDOIs:                   c.DOIs,
		NumberOfDOIsWithNullAttributes: c.NullAttributes,
		NumberOfNonNullDOIs:            c.NonNull,
		ProcessDate:                    s.now(),
	})
	return err
}

// SplitFiles processes files one after another.
func (s *Splitter) SplitFiles(ctx context.Context, filenames []string) ([]*Result, error) {
	var results []*Result
	for _, f := range filenames {
		r, err := s.SplitFile(ctx, f)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Total sums the counts of results.
func Total(results []*Result) Counts {
	var total Counts
	for _, r := range results {
		total.Add(r.Counts)
	}
	return total
}

// MarkProcessed flags the process states of the given files as processed,
// so later runs skip them. Call it once the DOIs of these files have been
// enriched and written.
func MarkProcessed(ctx context.Context, repo state.ProcessStateRepository, filenames []string, now time.Time) error {
	for _, f := range filenames {
		_, err := repo.Update(ctx,
			map[string]any{"processed": true, "process_date": now},
			map[string]any{"file_name": filepath.Base(f)})
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}
