// Package pipeline ties splitting, merging, matching and enrichment together.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	"github.com/dataesr/bso3-harvest-datacite-sub000/config"
	"github.com/dataesr/bso3-harvest-datacite-sub000/enrich"
	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
	"github.com/dataesr/bso3-harvest-datacite-sub000/objstore"
	"github.com/dataesr/bso3-harvest-datacite-sub000/partition"
	"github.com/dataesr/bso3-harvest-datacite-sub000/split"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoShards is returned when the dump directory has no dump files.
var ErrNoShards = errors.New("no dump files found")

// MatchedPrefix names the consolidated file with match results.
const MatchedPrefix = "matched_affiliations"

// Pipeline processes all dump files of the configured dump directory.
type Pipeline struct {
	Config    *config.Config
	Processes state.ProcessStateRepository
	Matcher   *matcher.Client
	Detector  *enrich.Detector
	// Store receives enriched files, if set.
	Store objstore.Store
}

// Summary of a run.
type Summary struct {
	Shards             int
	DOIs               int64
	Rows               int
	UniqueAffiliations int
	Enriched           int64
	French             int64
	Failed             int64
	SkippedPartitions  []string
	Uploaded           int
}

// Process runs all steps. Dump files are marked processed only after their
// DOIs have been enriched, so a failed run can be repeated.
func (p *Pipeline) Process(ctx context.Context) (*Summary, error) {
	var (
		cfg     = p.Config
		summary = &Summary{}
	)
	shards, err := split.Shards(cfg.DumpDir)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%s: %w", cfg.DumpDir, ErrNoShards)
	}
	summary.Shards = len(shards)
	controller := &partition.Controller{
		Files:         shards,
		NumPartitions: cfg.Process.Partitions,
		PartitionSize: cfg.Process.PartitionSize,
		OutputDir:     cfg.AffiliationsDir,
		StagingDir:    cfg.StagingDir,
		Processes:     p.Processes,
		Exclude:       cfg.Process.ExcludeKeys,
		Workers:       cfg.Process.Workers,
	}
	results, err := controller.Run(ctx)
	if err != nil {
		return nil, err
	}
	var splitFiles []string
	for _, r := range results {
		summary.DOIs += r.Counts.DOIs
		splitFiles = append(splitFiles, r.Split...)
	}
	detailed, err := partition.Merge(cfg.AffiliationsDir, partition.DefaultDetailedPrefix, cfg.Process.RunPrefix, nil)
	if err != nil {
		return nil, fmt.Errorf("merge detailed: %w", err)
	}
	global, err := partition.Merge(cfg.AffiliationsDir, partition.DefaultGlobalPrefix, cfg.Process.RunPrefix, affiliation.GlobalHeader)
	if err != nil {
		return nil, fmt.Errorf("merge global: %w", err)
	}
	summary.SkippedPartitions = append(detailed.Skipped, global.Skipped...)
	summary.Rows = detailed.Rows
	matched, err := p.match(ctx, global.Output)
	if err != nil {
		return nil, err
	}
	summary.UniqueAffiliations = len(matched)
	if err := p.enrichAll(ctx, detailed.Output, enrich.NewIndex(matched), summary); err != nil {
		return nil, err
	}
	if p.Store != nil && cfg.Swift.Container != "" {
		summary.Uploaded = p.upload(ctx, detailed.Output, global.Output)
	}
	if p.Processes != nil {
		if err := split.MarkProcessed(ctx, p.Processes, splitFiles, time.Now()); err != nil {
			return nil, fmt.Errorf("process state: %w", err)
		}
	}
	log.WithFields(log.Fields{
		"shards":   summary.Shards,
		"dois":     summary.DOIs,
		"rows":     summary.Rows,
		"unique":   summary.UniqueAffiliations,
		"enriched": summary.Enriched,
		"fr":       summary.French,
		"failed":   summary.Failed,
	}).Info("processing done")
	return summary, nil
}

func (p *Pipeline) matchedFile() string {
	return partition.ConsolidatedFile(p.Config.AffiliationsDir, p.Config.Process.RunPrefix, MatchedPrefix)
}

// match resolves all affiliation strings of the consolidated global file
// and writes them, with French reasons, into the matched file.
func (p *Pipeline) match(ctx context.Context, globalFile string) ([]enrich.MatchedRow, error) {
	f, err := os.Open(globalFile)
	if err != nil {
		return nil, err
	}
	rows, err := affiliation.ReadGlobalRows(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", globalFile, err)
	}
	queries := make([]string, 0, len(rows))
	for _, r := range rows {
		queries = append(queries, r.Affiliation)
	}
	mc := p.Config.Matcher
	if len(mc.PrewarmTypes) > 0 {
		if err := p.Matcher.Prewarm(ctx, mc.PrewarmTypes, queries, mc.PrewarmChunkSize); err != nil {
			log.WithError(err).Warn("prewarm failed")
		}
	}
	results, err := p.Matcher.MatchAll(ctx, mc.MatchType, queries, mc.Workers)
	if err != nil {
		return nil, err
	}
	matched := make([]enrich.MatchedRow, 0, len(rows))
	for _, r := range rows {
		res, ok := results[r.Affiliation]
		if !ok {
			continue
		}
		matched = append(matched, enrich.MatchedRow{
			Row:     r,
			Result:  res,
			Reasons: p.Detector.Reasons(r.Publisher, r.ClientID, res),
		})
	}
	var buf bytes.Buffer
	if err := enrich.WriteMatched(&buf, matched); err != nil {
		return nil, err
	}
	if err := enrich.WriteFileAtomic(p.matchedFile(), buf.Bytes()); err != nil {
		return nil, err
	}
	return matched, nil
}

// enrichAll rewrites every DOI of the detailed file, in parallel.
func (p *Pipeline) enrichAll(ctx context.Context, detailedFile string, index enrich.Index, summary *Summary) error {
	cfg := p.Config
	f, err := os.Open(detailedFile)
	if err != nil {
		return err
	}
	rows, err := affiliation.ReadRows(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", detailedFile, err)
	}
	groups := affiliation.GroupByDOI(rows)
	dois := make([]string, 0, len(groups))
	for doi := range groups {
		dois = append(dois, doi)
	}
	sort.Strings(dois)
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return err
	}
	feed, err := enrich.OpenFeed(cfg.Process.FeedFile)
	if err != nil {
		return err
	}
	defer feed.Close()
	var (
		enricher                 = &enrich.Enricher{Exclude: cfg.Process.ExcludeKeys, Detector: p.Detector}
		enriched, french, failed atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Process.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, doi := range dois {
		group := groups[doi]
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			staged := filepath.Join(cfg.StagingDir, group[0].FileName)
			doc, err := enrich.ReadDocumentFile(staged)
			if err != nil {
				failed.Add(1)
				log.WithField("doi", doi).WithError(err).Warn("cannot read staged record")
				return nil
			}
			result, err := enricher.Enrich(doc, index.Join(group))
			if err != nil {
				failed.Add(1)
				log.WithField("doi", doi).WithError(err).Warn("cannot enrich record")
				return nil
			}
			if _, err := enrich.WriteDocument(cfg.OutputDir, result.ID, result.Document); err != nil {
				return err
			}
			if err := feed.Append(result.Index); err != nil {
				return err
			}
			enriched.Add(1)
			if result.IsFr {
				french.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	summary.Enriched = enriched.Load()
	summary.French = french.Load()
	summary.Failed = failed.Load()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (p *Pipeline) upload(ctx context.Context, files ...string) int {
	cfg := p.Config
	transfers, err := objstore.DirTransfers(cfg.OutputDir, cfg.Process.RunPrefix+"/dois")
	if err != nil {
		log.WithError(err).Error("cannot list enriched files")
	}
	for _, f := range append(files, p.matchedFile(), cfg.Process.FeedFile) {
		transfers = append(transfers, objstore.Transfer{
			Local:  f,
			Remote: cfg.Process.RunPrefix + "/" + filepath.Base(f),
		})
	}
	return p.Store.Upload(ctx, cfg.Swift.Container, transfers)
}
