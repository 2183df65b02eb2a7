// dc-match queries the affiliation matcher for single strings or lists read
// from stdin, one per line. Useful for debugging and to prewarm the service.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000"
	"github.com/dataesr/bso3-harvest-datacite-sub000/config"
	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"
)

var (
	configFile   = flag.String("c", "", "config file (YAML), defaults to $BSO3_CONFIG")
	matcherURL   = flag.String("m", "", "affiliation matcher URL, overrides config")
	matchType    = flag.String("t", "", "match type, e.g. country, ror, grid, rnsr")
	prewarm      = flag.String("P", "", "comma separated match types, send stdin in chunks to match_list")
	chunkSize    = flag.Int("n", 100, "chunk size for prewarming")
	numWorkers   = flag.Int("w", 4, "number of workers")
	showVersion  = flag.Bool("version", false, "show version")
	maxRetries   = flag.Int("r", 3, "max retries")
	bestEffort   = flag.Bool("b", false, "log errors and continue")
	maxTokenSize = 1 << 20
)

func main() {
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
	if *matcherURL != "" {
		cfg.Matcher.URL = *matcherURL
	}
	if *matchType != "" {
		cfg.Matcher.MatchType = *matchType
	}
	var (
		ctx    = context.Background()
		doer   = matcher.NewRetryDoer(*maxRetries, cfg.Matcher.RetryDelay, cfg.Matcher.Timeout)
		client = matcher.NewClient(cfg.Matcher.URL, doer, cfg.Matcher.CacheSize)
	)
	queries := flag.Args()
	if len(queries) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), maxTokenSize)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				queries = append(queries, strings.ToLower(line))
			}
		}
		if err := scanner.Err(); err != nil {
			log.Fatal(err)
		}
	}
	if *prewarm != "" {
		types := strings.Split(*prewarm, ",")
		if err := client.Prewarm(ctx, types, queries, *chunkSize); err != nil {
			log.Fatal(err)
		}
		log.WithField("count", len(queries)).Info("prewarm done")
		return
	}
	results, err := client.MatchAll(ctx, cfg.Matcher.MatchType, queries, *numWorkers)
	if err != nil {
		if !*bestEffort {
			log.Fatal(err)
		}
		log.WithError(err).Warn("matching stopped")
	}
	enc := json.NewEncoder(os.Stdout)
	for _, q := range queries {
		if r, ok := results[q]; ok {
			if err := enc.Encode(r); err != nil {
				log.Fatal(err)
			}
		}
	}
}
