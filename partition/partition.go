// Package partition distributes dump files over independent partitions and
// merges the per-partition affiliation files afterwards.
package partition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	"github.com/dataesr/bso3-harvest-datacite-sub000/split"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDetailedPrefix = "detailed_affiliations"
	DefaultGlobalPrefix   = "global_affiliations"
)

// Controller splits a list of dump files in partitions. Each partition owns
// its writers and its splitter.
type Controller struct {
	Files []string
	// NumPartitions is used, when PartitionSize, the number of files per
	// partition, is zero.
	NumPartitions  int
	PartitionSize  int
	OutputDir      string
	StagingDir     string
	DetailedPrefix string
	GlobalPrefix   string
	Processes      state.ProcessStateRepository
	Exclude        []string
	// Workers decoding lines within a partition.
	Workers int
}

// Result of a single partition.
type Result struct {
	Index int
	Files []string
	// Split lists the files split in this run, without the skipped ones.
	Split        []string
	DetailedFile string
	GlobalFile   string
	Counts       split.Counts
	Rows         int
}

func (c *Controller) detailedPrefix() string {
	if c.DetailedPrefix == "" {
		return DefaultDetailedPrefix
	}
	return c.DetailedPrefix
}

func (c *Controller) globalPrefix() string {
	if c.GlobalPrefix == "" {
		return DefaultGlobalPrefix
	}
	return c.GlobalPrefix
}

// Plan assigns the sorted files to partitions, in contiguous chunks.
func (c *Controller) Plan() [][]string {
	files := make([]string, len(c.Files))
	copy(files, c.Files)
	sort.Strings(files)
	if len(files) == 0 {
		return nil
	}
	size := c.PartitionSize
	if size <= 0 {
		n := c.NumPartitions
		if n <= 0 {
			n = 1
		}
		size = (len(files) + n - 1) / n
	}
	var plan [][]string
	for i := 0; i < len(files); i += size {
		j := i + size
		if j > len(files) {
			j = len(files)
		}
		plan = append(plan, files[i:j])
	}
	return plan
}

// PartitionFile returns the name of the file of partition i.
func PartitionFile(dir, prefix string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.csv", prefix, i))
}

// removeStale deletes partition files with an index not in a plan of n
// partitions, left by an earlier run with more partitions.
func (c *Controller) removeStale(n int) error {
	for _, prefix := range []string{c.detailedPrefix(), c.globalPrefix()} {
		files, err := PartitionFiles(c.OutputDir, prefix)
		if err != nil {
			return err
		}
		for _, f := range files {
			i, ok := partitionIndex(prefix, filepath.Base(f))
			if !ok || i < n {
				continue
			}
			if err := os.Remove(f); err != nil {
				return err
			}
			log.WithField("file", f).Debug("removed stale partition file")
		}
	}
	return nil
}

// Run processes all partitions concurrently. Partition files of earlier
// runs beyond the current plan are removed, so a merge sees this run only.
func (c *Controller) Run(ctx context.Context) ([]Result, error) {
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return nil, err
	}
	var (
		plan    = c.Plan()
		results = make([]Result, len(plan))
	)
	if err := c.removeStale(len(plan)); err != nil {
		return nil, err
	}
	g, ctx := errgroup.WithContext(ctx)
	for i, files := range plan {
		g.Go(func() error {
			r, err := c.runPartition(ctx, i, files)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Controller) runPartition(ctx context.Context, i int, files []string) (*Result, error) {
	result := &Result{
		Index:        i,
		Files:        files,
		DetailedFile: PartitionFile(c.OutputDir, c.detailedPrefix(), i),
		GlobalFile:   PartitionFile(c.OutputDir, c.globalPrefix(), i),
	}
	w, err := affiliation.Create(result.DetailedFile, result.GlobalFile)
	if err != nil {
		return nil, err
	}
	splitter := &split.Splitter{
		StagingDir: c.StagingDir,
		Writer:     w,
		Processes:  c.Processes,
		Exclude:    c.Exclude,
		Workers:    c.Workers,
	}
	splits, err := splitter.SplitFiles(ctx, files)
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, r := range splits {
		if !r.Skipped {
			result.Split = append(result.Split, r.File)
		}
	}
	counts := split.Total(splits)
	result.Counts = counts
	result.Rows = w.NumRows()
	if err := w.Close(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"partition": i,
		"files":     len(files),
		"dois":      counts.DOIs,
		"rows":      result.Rows,
	}).Info("partition done")
	return result, nil
}
