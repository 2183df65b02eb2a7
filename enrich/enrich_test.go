package enrich

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
	"github.com/google/go-cmp/cmp"
)

func mustDocument(t *testing.T, s string) map[string]any {
	t.Helper()
	doc, err := ReadDocument(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func firstCreator(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	creators := objects(object(doc["attributes"])["creators"])
	if len(creators) == 0 {
		t.Fatal("no creators")
	}
	return creators[0]
}

func TestEnrichWithoutAffiliations(t *testing.T) {
	doc := mustDocument(t, `{
		"id": "10.5281/zenodo.1",
		"attributes": {"creators": [{"name": "Doe, Jane", "affiliation": []}]}
	}`)
	var e Enricher
	result, err := e.Enrich(doc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := firstCreator(t, result.Document)["affiliations"]; ok {
		t.Fatalf("affiliations key should be absent")
	}
	if result.IsFr {
		t.Fatalf("got is_fr true, want false")
	}
}

func TestEnrichRecordLevelReasons(t *testing.T) {
	const record = `{
		"id": "10.12763/abc",
		"relationships": {"client": {"data": {"id": "inist.humanum", "type": "clients"}}},
		"attributes": {"publisher": "Zenodo", "creators": [{"name": "Doe, Jane"}]}
	}`
	var cases = []struct {
		help      string
		detector  *Detector
		isFr      bool
		frReasons string
	}{
		{"without detector", nil, false, ""},
		{"with detector", NewDetector(""), true, "clientid"},
	}
	for _, c := range cases {
		t.Run(c.help, func(t *testing.T) {
			e := Enricher{Detector: c.detector}
			result, err := e.Enrich(mustDocument(t, record), nil)
			if err != nil {
				t.Fatal(err)
			}
			if result.IsFr != c.isFr || result.FrReasons != c.frReasons {
				t.Fatalf("got %v %q, want %v %q", result.IsFr, result.FrReasons, c.isFr, c.frReasons)
			}
			if result.Document["is_fr"] != c.isFr {
				t.Fatalf("got is_fr %v", result.Document["is_fr"])
			}
		})
	}
}

func TestEnrichUnmatchedAffiliation(t *testing.T) {
	doc := mustDocument(t, `{
		"id": "10.5281/zenodo.2",
		"attributes": {"creators": [{"name": "Doe, Jane", "affiliation": [{"name": "Nowhere Institute"}]}]}
	}`)
	var e Enricher
	result, err := e.Enrich(doc, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, ok := firstCreator(t, result.Document)["affiliations"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("got %v, want a single entry", entries)
	}
	entry := entries[0].(map[string]any)
	for _, k := range []string{"detected_countries", "detected_ror", "detected_grid", "detected_rnsr"} {
		v, ok := entry[k].([]string)
		if !ok || len(v) != 0 {
			t.Fatalf("%s: got %v, want empty list", k, entry[k])
		}
	}
	if entry["name"] != "Nowhere Institute" {
		t.Fatalf("got name %v", entry["name"])
	}
}

func TestEnrichMatched(t *testing.T) {
	doc := mustDocument(t, `{
		"id": "10.5281/zenodo.3",
		"relationships": {"client": {"data": {"id": "cern.zenodo", "type": "clients"}}},
		"attributes": {
			"publisher": "Zenodo",
			"publicationYear": 2021,
			"types": {"resourceTypeGeneral": "Dataset"},
			"titles": [{"title": "Soil samples"}],
			"subjects": [{"subject": "FOS: Earth and related environmental sciences"}, {"subject": "soil"}],
			"creators": [{
				"givenName": "Jane",
				"familyName": "Doe",
				"nameIdentifiers": [{"nameIdentifier": "https://orcid.org/0000-0002-1825-0097", "nameIdentifierScheme": "ORCID"}],
				"affiliation": [{"name": "CNRS"}, "Unknown Lab"]
			}]
		}
	}`)
	match := MatchedRow{
		Row:     affiliation.GlobalRow{Publisher: "Zenodo", ClientID: "cern.zenodo", Affiliation: "cnrs"},
		Result:  matcher.Result{Query: "cnrs", Countries: []string{"fr"}, Ror: []string{"02feahw73"}},
		Reasons: Reasons{IsCountriesFr: true},
	}
	pairs := []Pair{{Row: affiliation.Row{DOI: "10.5281/zenodo.3", Affiliation: "cnrs"}, Match: match}}
	var e Enricher
	result, err := e.Enrich(doc, pairs)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsFr || result.FrReasons != "countries" {
		t.Fatalf("got %v %q, want true countries", result.IsFr, result.FrReasons)
	}
	if result.Document["is_fr"] != true || result.Document["fr_reasons"] != "countries" {
		t.Fatalf("document flags not set: %v", result.Document)
	}
	entries := firstCreator(t, result.Document)["affiliations"].([]any)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if diff := cmp.Diff([]string{"fr"}, entries[0].(map[string]any)["detected_countries"]); diff != "" {
		t.Fatalf("detected countries mismatch (-want +got):\n%s", diff)
	}
	index := result.Index
	want := map[string]any{
		"id":                 "10.5281/zenodo.3",
		"doi":                "10.5281/zenodo.3",
		"title":              "Soil samples",
		"genre":              "dataset",
		"genre_raw":          "Dataset",
		"publisher":          "Zenodo",
		"client_id":          "cern.zenodo",
		"year":               int64(2021),
		"fields_of_science":  []any{"Earth and related environmental sciences"},
		"keywords":           []any{"soil"},
		"detected_countries": []any{"fr"},
		"detected_ror":       []any{"02feahw73"},
		"is_fr":              true,
		"fr_reasons":         "countries",
		"fr_reasons_concat":  "countries",
		"authors": []any{
			map[string]any{
				"full_name":  "Jane Doe",
				"first_name": "Jane",
				"last_name":  "Doe",
				"orcid":      "0000-0002-1825-0097",
				"role":       "author",
				"affiliations": []any{
					map[string]any{"name": "CNRS", "detected_countries": []any{"fr"}, "detected_ror": []any{"02feahw73"}},
					map[string]any{"name": "Unknown Lab"},
				},
			},
		},
	}
	if diff := cmp.Diff(want, index); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestEnrichMissingID(t *testing.T) {
	var e Enricher
	if _, err := e.Enrich(map[string]any{}, nil); err != ErrMissingID {
		t.Fatalf("got %v, want %v", err, ErrMissingID)
	}
}

func TestStrip(t *testing.T) {
	var cases = []struct {
		help string
		doc  map[string]any
		want map[string]any
	}{
		{
			"nested",
			map[string]any{"a": map[string]any{"b": "", "c": "x"}, "d": []any{}},
			map[string]any{"a": map[string]any{"c": "x"}},
		},
		{
			"lists of empty things vanish",
			map[string]any{"a": []any{nil, "", map[string]any{"b": nil}}, "e": []string{}, "f": false},
			map[string]any{"f": false},
		},
		{"nil", nil, map[string]any{}},
	}
	for _, c := range cases {
		t.Run(c.help, func(t *testing.T) {
			if diff := cmp.Diff(c.want, Strip(c.doc)); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenre(t *testing.T) {
	var cases = []struct {
		in, out string
	}{
		{"JournalArticle", "journal-article"},
		{"DataPaper", "journal-article"},
		{"Book Chapter", "book-chapter"},
		{"Book", "book"},
		{"ConferencePaper", "proceedings"},
		{"ConferenceProceeding", "proceedings"},
		{"Dataset", "dataset"},
		{"Software", "other"},
		{"", "other"},
	}
	for _, c := range cases {
		if got := Genre(c.in); got != c.out {
			t.Errorf("Genre(%q) got %q, want %q", c.in, got, c.out)
		}
	}
}

func TestORCID(t *testing.T) {
	ids := []map[string]any{
		{"nameIdentifier": "https://isni.org/1", "nameIdentifierScheme": "ISNI"},
		{"nameIdentifier": "https://orcid.org/0000-0001-5109-3700/", "nameIdentifierScheme": "ORCID"},
	}
	if got := ORCID(ids); got != "0000-0001-5109-3700" {
		t.Fatalf("got %q", got)
	}
	if got := ORCID(nil); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestFileName(t *testing.T) {
	var cases = []struct {
		doi, name string
	}{
		{"10.5281/zenodo.1", "10.5281_zenodo.1.json"},
		{"10.1000/abc:def*g", "10.1000_abc-defg.json"},
	}
	for _, c := range cases {
		if got := FileName(c.doi); got != c.name {
			t.Errorf("FileName(%q) got %q, want %q", c.doi, got, c.name)
		}
	}
}

func TestJoinLabels(t *testing.T) {
	got := JoinLabels([]string{"publisher", "countries", "publisher", "", "clientid"})
	if got != "clientid;countries;publisher" {
		t.Fatalf("got %q", got)
	}
}

func TestDetector(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clients.txt")
	if err := os.WriteFile(file, []byte("# french clients\nUBS.SOMEREPO\n\n"), 0644); err != nil {
		t.Fatal(err)
	}
	d := NewDetector(file)
	var cases = []struct {
		help      string
		publisher string
		clientID  string
		result    matcher.Result
		want      Reasons
	}{
		{"nothing", "Zenodo", "cern.zenodo", matcher.Result{}, Reasons{}},
		{"publisher", "CNRS Editions", "", matcher.Result{}, Reasons{IsPublisherFr: true}},
		{"client from file", "", "ubs.somerepo", matcher.Result{}, Reasons{IsClientIDFr: true}},
		{"client prefix", "", "inist.ifremer", matcher.Result{}, Reasons{IsClientIDFr: true}},
		{"country", "", "", matcher.Result{Countries: []string{"de", "FR"}}, Reasons{IsCountriesFr: true}},
	}
	for _, c := range cases {
		t.Run(c.help, func(t *testing.T) {
			if got := d.Reasons(c.publisher, c.clientID, c.result); got != c.want {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestMatchedRoundTrip(t *testing.T) {
	rows := []MatchedRow{
		{
			Row:     affiliation.GlobalRow{Publisher: "Zenodo", ClientID: "cern.zenodo", Affiliation: "cnrs, paris"},
			Result:  matcher.Result{Query: "cnrs, paris", Countries: []string{"fr"}, Grid: []string{"grid.4444.0"}},
			Reasons: Reasons{IsCountriesFr: true},
		},
		{
			Row:    affiliation.GlobalRow{Publisher: "Dryad", ClientID: "dryad.dryad", Affiliation: "mit"},
			Result: matcher.Result{Query: "mit"},
		},
	}
	var buf bytes.Buffer
	if err := WriteMatched(&buf, rows); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMatched(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	idx := NewIndex(got)
	pairs := idx.Join([]affiliation.Row{
		{DOI: "a", Publisher: "Zenodo", ClientID: "cern.zenodo", Affiliation: "cnrs, paris"},
		{DOI: "a", Publisher: "Zenodo", ClientID: "cern.zenodo", Affiliation: ""},
		{DOI: "a", Publisher: "Zenodo", ClientID: "other", Affiliation: "cnrs, paris"},
	})
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
}

func TestWriteDocumentOverwrites(t *testing.T) {
	dir := t.TempDir()
	for _, title := range []string{"first", "second"} {
		if _, err := WriteDocument(dir, "10.1/x", map[string]any{"title": title}); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := ReadDocumentFile(filepath.Join(dir, "10.1_x.json"))
	if err != nil {
		t.Fatal(err)
	}
	if doc["title"] != "second" {
		t.Fatalf("got %v, want second", doc["title"])
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
}

func TestFeedAppends(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "feed.jsonl")
	for i := 0; i < 2; i++ {
		feed, err := OpenFeed(filename)
		if err != nil {
			t.Fatal(err)
		}
		if err := feed.Append(map[string]any{"id": "a&b"}); err != nil {
			t.Fatal(err)
		}
		if feed.Count() != 1 {
			t.Fatalf("got count %d, want 1", feed.Count())
		}
		if err := feed.Close(); err != nil {
			t.Fatal(err)
		}
	}
	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if diff := cmp.Diff([]string{`{"id":"a&b"}`, `{"id":"a&b"}`}, lines); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
