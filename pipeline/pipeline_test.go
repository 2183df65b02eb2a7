package pipeline

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	"github.com/dataesr/bso3-harvest-datacite-sub000/config"
	"github.com/dataesr/bso3-harvest-datacite-sub000/enrich"
	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
	"github.com/dataesr/bso3-harvest-datacite-sub000/objstore"
	"github.com/dataesr/bso3-harvest-datacite-sub000/partition"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	"github.com/segmentio/encoding/json"
)

const (
	shard1 = `{"data": [{"id": "10.5281/zenodo.1", "type": "dois", "relationships": {"client": {"data": {"id": "cern.zenodo", "type": "clients"}}}, "attributes": {"doi": "10.5281/zenodo.1", "publisher": "Zenodo", "types": {"resourceTypeGeneral": "Dataset"}, "creators": [{"name": "Doe, Jane", "affiliation": [{"name": "Université Paris Cité"}]}]}}, {"id": "10.5281/zenodo.2", "type": "dois", "relationships": {"client": {"data": {"id": "cern.zenodo", "type": "clients"}}}, "attributes": {"doi": "10.5281/zenodo.2", "publisher": "Zenodo", "creators": [{"name": "Roe, Richard"}, {"name": "Moe, Mary", "affiliation": ["Université Paris Cité"]}]}}]}
`
	shard2 = `{"data": [{"id": "10.5281/zenodo.3", "type": "dois", "relationships": {"client": {"data": {"id": "cern.zenodo", "type": "clients"}}}, "attributes": {"doi": "10.5281/zenodo.3", "publisher": "Zenodo", "creators": [{"name": "Smith, Sam", "affiliation": []}]}}]}
{"data": [{"id": "10.5281/zenodo.4", "type": "dois", "relationships": {"client": {"data": {"id": "cern.zenodo", "type": "clients"}}}, "attributes": {"doi": "10.5281/zenodo.4", "publisher": "Zenodo", "creators": [{"givenName": "Lee", "familyName": "Li"}]}}]}
`
)

// matchServer answers match requests; while down is set, it fails with 503.
func matchServer(t *testing.T, calls *int64, down *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if down != nil && down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/match" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Type  string `json:"type"`
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.Contains(req.Query, "paris") {
			io.WriteString(w, `{"results": {"countries": ["fr"], "ror": ["05f82e368"], "grid": [], "rnsr": []}}`)
			return
		}
		io.WriteString(w, `{"results": {"countries": [], "ror": [], "grid": [], "rnsr": []}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DumpDir = filepath.Join(dir, "dcdump")
	cfg.StagingDir = filepath.Join(dir, "raw")
	cfg.AffiliationsDir = filepath.Join(dir, "affiliations")
	cfg.OutputDir = filepath.Join(dir, "dois")
	cfg.Process.FeedFile = filepath.Join(dir, "index.jsonl")
	cfg.Process.Partitions = 2
	cfg.Process.Workers = 2
	cfg.Swift.Container = "bso3"
	if err := os.MkdirAll(cfg.DumpDir, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"dcdump-20210101000000-20210101235959.ndjson": shard1,
		"dcdump-20210102000000-20210102235959.ndjson": shard2,
	} {
		if err := os.WriteFile(filepath.Join(cfg.DumpDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func TestProcess(t *testing.T) {
	var (
		calls int64
		ctx   = context.Background()
		cfg   = testConfig(t)
		srv   = matchServer(t, &calls, nil)
		store = &objstore.Local{Root: filepath.Join(cfg.DataDir, "store")}
	)
	db, err := state.Open(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	p := &Pipeline{
		Config:    cfg,
		Processes: db.Processes(),
		Matcher:   matcher.NewClient(srv.URL, http.DefaultClient, 100),
		Detector:  enrich.NewDetector(""),
		Store:     store,
	}
	summary, err := p.Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Shards != 2 || summary.DOIs != 4 || summary.Enriched != 4 || summary.French != 2 {
		t.Fatalf("got %+v", summary)
	}
	if summary.UniqueAffiliations != 1 || atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("got %d unique affiliations, %d calls", summary.UniqueAffiliations, calls)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d enriched files, want 4", len(entries))
	}
	f, err := os.Open(partition.ConsolidatedFile(cfg.AffiliationsDir, "run", partition.DefaultGlobalPrefix))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := affiliation.ReadGlobalRows(f)
	if err != nil {
		t.Fatal(err)
	}
	want := affiliation.GlobalRow{Publisher: "Zenodo", ClientID: "cern.zenodo", Affiliation: "université paris cité"}
	if len(rows) != 1 || rows[0] != want {
		t.Fatalf("got %+v", rows)
	}
	doc, err := enrich.ReadDocumentFile(filepath.Join(cfg.OutputDir, "10.5281_zenodo.2.json"))
	if err != nil {
		t.Fatal(err)
	}
	if doc["is_fr"] != true || doc["fr_reasons"] != "countries" {
		t.Fatalf("got %v %v", doc["is_fr"], doc["fr_reasons"])
	}
	creators := doc["attributes"].(map[string]any)["creators"].([]any)
	if _, ok := creators[0].(map[string]any)["affiliations"]; ok {
		t.Fatal("creator without affiliation should have no affiliations key")
	}
	affs := creators[1].(map[string]any)["affiliations"].([]any)
	if len(affs) != 1 {
		t.Fatalf("got %v", affs)
	}
	feed, err := os.Open(cfg.Process.FeedFile)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()
	var lines int
	scanner := bufio.NewScanner(feed)
	for scanner.Scan() {
		lines++
	}
	if lines != 4 {
		t.Fatalf("got %d feed lines, want 4", lines)
	}
	if got := store.List(ctx, "bso3", "run/dois/"); len(got) != 4 {
		t.Fatalf("got %v uploaded files", got)
	}
}

func countLines(t *testing.T, filename string) int {
	t.Helper()
	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var n int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestProcessRerunAfterMatcherFailure(t *testing.T) {
	var (
		calls int64
		down  atomic.Bool
		ctx   = context.Background()
		cfg   = testConfig(t)
		srv   = matchServer(t, &calls, &down)
	)
	db, err := state.Open(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	p := &Pipeline{
		Config:    cfg,
		Processes: db.Processes(),
		Matcher:   matcher.NewClient(srv.URL, http.DefaultClient, 100),
		Detector:  enrich.NewDetector(""),
	}
	down.Store(true)
	if _, err := p.Process(ctx); err == nil {
		t.Fatal("expected an error with the matcher down")
	}
	done, err := db.Processes().Get(ctx, map[string]any{"processed": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 0 {
		t.Fatalf("got %d files marked processed after a failed run", len(done))
	}
	down.Store(false)
	summary, err := p.Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Enriched != 4 || summary.UniqueAffiliations != 1 {
		t.Fatalf("got %+v", summary)
	}
	if n := countFiles(t, cfg.OutputDir); n != 4 {
		t.Fatalf("got %d enriched files, want 4", n)
	}
	done, err = db.Processes().Get(ctx, map[string]any{"processed": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 2 {
		t.Fatalf("got %d files marked processed, want 2", len(done))
	}
	// A third run finds nothing left to do and leaves the feed alone.
	summary, err = p.Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Enriched != 0 {
		t.Fatalf("got %d enriched on a finished run", summary.Enriched)
	}
	if n := countLines(t, cfg.Process.FeedFile); n != 4 {
		t.Fatalf("got %d feed lines, want 4", n)
	}
}

func TestProcessFewerPartitions(t *testing.T) {
	var (
		calls int64
		ctx   = context.Background()
		cfg   = testConfig(t)
		srv   = matchServer(t, &calls, nil)
	)
	p := &Pipeline{
		Config:   cfg,
		Matcher:  matcher.NewClient(srv.URL, http.DefaultClient, 100),
		Detector: enrich.NewDetector(""),
	}
	if _, err := p.Process(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(cfg.DumpDir, "dcdump-20210102000000-20210102235959.ndjson")); err != nil {
		t.Fatal(err)
	}
	cfg.Process.Partitions = 1
	summary, err := p.Process(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Enriched != 2 {
		t.Fatalf("got %d enriched, want 2", summary.Enriched)
	}
	files, err := partition.PartitionFiles(cfg.AffiliationsDir, partition.DefaultDetailedPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("got partition files %v", files)
	}
}

func TestProcessNoShards(t *testing.T) {
	cfg := testConfig(t)
	cfg.DumpDir = t.TempDir()
	p := &Pipeline{Config: cfg}
	if _, err := p.Process(context.Background()); !errors.Is(err, ErrNoShards) {
		t.Fatalf("got %v, want %v", err, ErrNoShards)
	}
}
