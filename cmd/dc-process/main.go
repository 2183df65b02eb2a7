// dc-process splits harvested dump files, matches affiliations and writes
// enriched DOI files together with an index feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000"
	"github.com/dataesr/bso3-harvest-datacite-sub000/config"
	"github.com/dataesr/bso3-harvest-datacite-sub000/docstore"
	"github.com/dataesr/bso3-harvest-datacite-sub000/enrich"
	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
	"github.com/dataesr/bso3-harvest-datacite-sub000/objstore"
	"github.com/dataesr/bso3-harvest-datacite-sub000/pipeline"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var docs = strings.TrimLeft(`
# dc-process - affiliation enrichment of DataCite dumps

Splits all dump files below the dump directory into one file per DOI,
extracts and deduplicates affiliations, matches them against the
affiliation matcher service and writes enriched DOI files plus a JSON
lines feed for indexing.

    $ dc-process -c bso3.yaml
    $ dc-process -p 16 -w 8 -upload

`, "\n")

var (
	configFile     = flag.String("c", "", "config file (YAML), defaults to $BSO3_CONFIG")
	numPartitions  = flag.Int("p", 0, "number of partitions, overrides config")
	numWorkers     = flag.Int("w", 0, "number of workers per partition, overrides config")
	runPrefix      = flag.String("r", "", "run prefix for consolidated files, overrides config")
	matcherURL     = flag.String("m", "", "affiliation matcher URL, overrides config")
	upload         = flag.Bool("upload", false, "upload results to object storage")
	verbose        = flag.Bool("v", false, "verbose output")
	showVersion    = flag.Bool("version", false, "show version")
	showConfigOnly = flag.Bool("show-config", false, "print resolved directories and exit")
)

func main() {
	flag.Usage = func() {
		io.WriteString(os.Stderr, docs)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Println(bso3.Version)
		os.Exit(0)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	cfg.SetupLogging()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *numPartitions > 0 {
		cfg.Process.Partitions = *numPartitions
	}
	if *numWorkers > 0 {
		cfg.Process.Workers = *numWorkers
	}
	if *runPrefix != "" {
		cfg.Process.RunPrefix = *runPrefix
	}
	if *matcherURL != "" {
		cfg.Matcher.URL = *matcherURL
	}
	if *upload {
		cfg.Swift.Enabled = true
	}
	if *showConfigOnly {
		fmt.Printf("dump: %s\nstaging: %s\naffiliations: %s\noutput: %s\nfeed: %s\nstate: %s\n",
			cfg.DumpDir, cfg.StagingDir, cfg.AffiliationsDir, cfg.OutputDir, cfg.Process.FeedFile, cfg.StateDB)
		os.Exit(0)
	}
	for _, d := range []string{cfg.StagingDir, cfg.AffiliationsDir, cfg.OutputDir, filepath.Dir(cfg.StateDB)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			log.Fatal(err)
		}
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	db, err := state.Open(cfg.StateDB)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	mc := cfg.Matcher
	client := matcher.NewClient(mc.URL, matcher.NewRetryDoer(mc.MaxRetries, mc.RetryDelay, mc.Timeout), mc.CacheSize)
	if mc.RequestsPerSecond > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(mc.RequestsPerSecond), 1)
	}
	if mc.MongoURI != "" {
		store, err := docstore.OpenMongo(ctx, mc.MongoURI, mc.MongoDatabase, mc.MongoCollection, matcher.StoreSchema)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close(context.Background())
		client.Store = store
	}
	p := &pipeline.Pipeline{
		Config:    cfg,
		Processes: db.Processes(),
		Matcher:   client,
		Detector:  enrich.NewDetector(cfg.Process.ClientIDsFile),
	}
	if cfg.Swift.Enabled {
		sw, err := objstore.NewSwift(ctx, cfg.Swift.SwiftConfig)
		if err != nil {
			log.Fatal(err)
		}
		p.Store = sw
	}
	summary, err := p.Process(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("shards=%d dois=%d rows=%d unique=%d enriched=%d fr=%d failed=%d uploaded=%d\n",
		summary.Shards, summary.DOIs, summary.Rows, summary.UniqueAffiliations,
		summary.Enriched, summary.French, summary.Failed, summary.Uploaded)
	if len(summary.SkippedPartitions) > 0 {
		log.WithField("partitions", summary.SkippedPartitions).Warn("some partitions were skipped during merge")
	}
}
