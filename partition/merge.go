package partition

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	log "github.com/sirupsen/logrus"
)

// MergeResult describes a consolidated file.
type MergeResult struct {
	Output     string
	Partitions []string
	Skipped    []string
	Rows       int
	Duplicates int
}

// ConsolidatedFile returns the name of the merged file for a prefix.
func ConsolidatedFile(dir, runPrefix, prefix string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", runPrefix, prefix))
}

func partitionPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_(\d+)\.csv$`)
}

// partitionIndex returns the partition number of a file name.
func partitionIndex(prefix, name string) (int, bool) {
	m := partitionPattern(prefix).FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	i, err := strconv.Atoi(m[1])
	return i, err == nil
}

// PartitionFiles returns the partition files for a prefix in dir, in
// partition order.
func PartitionFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type indexed struct {
		i    int
		name string
	}
	var found []indexed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		i, ok := partitionIndex(prefix, e.Name())
		if !ok {
			continue
		}
		found = append(found, indexed{i, filepath.Join(dir, e.Name())})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].i < found[b].i })
	result := make([]string, len(found))
	for k, f := range found {
		result[k] = f.name
	}
	return result, nil
}

// merger appends partitions to an output file and can roll back a partition.
type merger struct {
	f      *os.File
	w      *csv.Writer
	header []string
	seen   map[string]struct{}
	rows   int
	dups   int
}

// appendPartition copies the unique rows of a partition file. On error the
// output is truncated to where it was before and the keys added by this
// partition are forgotten.
func (m *merger) appendPartition(filename string) error {
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		return err
	}
	offset, err := m.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	var (
		added []string
		rows  int
		dups  int
	)
	rollback := func(cause error) error {
		m.w.Flush()
		if err := m.f.Truncate(offset); err != nil {
			return err
		}
		if _, err := m.f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		m.w = csv.NewWriter(m.f)
		for _, k := range added {
			delete(m.seen, k)
		}
		return cause
	}
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	r := csv.NewReader(f)
	for first := true; ; first = false {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rollback(err)
		}
		if first && m.header != nil && affiliationHeader(rec, m.header) {
			continue
		}
		if m.header != nil && len(rec) != len(m.header) {
			return rollback(fmt.Errorf("line %d: %w", rows+dups+1, affiliation.ErrFieldCount))
		}
		k := affiliation.Key(rec)
		if _, ok := m.seen[k]; ok {
			dups++
			continue
		}
		m.seen[k] = struct{}{}
		added = append(added, k)
		if err := m.w.Write(rec); err != nil {
			return rollback(err)
		}
		rows++
	}
	m.rows += rows
	m.dups += dups
	return nil
}

func affiliationHeader(rec, header []string) bool {
	return strings.Join(rec, ",") == strings.Join(header, ",")
}

// Merge concatenates all partition files of a prefix into the consolidated
// file, dropping exact duplicate rows. If header is set, partitions may start
// with it and the output starts with it. A partition that cannot be read is
// left out and reported in the result. The output is replaced atomically.
func Merge(dir, prefix, runPrefix string, header []string) (*MergeResult, error) {
	files, err := PartitionFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	output := ConsolidatedFile(dir, runPrefix, prefix)
	tmp, err := os.CreateTemp(dir, ".merge-"+prefix+"-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	m := &merger{
		f:      tmp,
		w:      csv.NewWriter(tmp),
		header: header,
		seen:   make(map[string]struct{}),
	}
	if header != nil {
		if err := m.w.Write(header); err != nil {
			tmp.Close()
			return nil, err
		}
	}
	result := &MergeResult{Output: output, Partitions: files}
	for _, filename := range files {
		if err := m.appendPartition(filename); err != nil {
			log.WithFields(log.Fields{
				"partition": filename,
				"output":    output,
			}).WithError(err).Warn("skipping partition")
			result.Skipped = append(result.Skipped, filename)
		}
	}
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return nil, err
	}
	result.Rows = m.rows
	result.Duplicates = m.dups
	log.WithFields(log.Fields{
		"output":     output,
		"partitions": len(files),
		"skipped":    len(result.Skipped),
		"rows":       result.Rows,
	}).Info("merged partitions")
	return result, nil
}
