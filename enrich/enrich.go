// Package enrich rewrites DOI records with affiliation match results, detects
// French records and derives a flat document for the search index.
package enrich

import (
	"errors"
	"sort"
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
)

// ErrMissingID is returned for records without an identifier.
var ErrMissingID = errors.New("record without id")

// roles in processing order
var roles = []string{"creators", "contributors"}

// Enriched is the result of enriching a single DOI record.
type Enriched struct {
	ID string
	// Document is the rewritten record, written as the per-DOI file.
	Document map[string]any
	// Index is the flat, stripped document for the search index feed.
	Index     map[string]any
	Reasons   Reasons
	IsFr      bool
	FrReasons string
}

// Enricher attaches matched affiliations to creators and contributors.
type Enricher struct {
	// Exclude keys when computing affiliation strings, must be the same as
	// during extraction.
	Exclude []string
	// Detector, if set, also checks publisher and client id of the record
	// itself, so records without affiliations can be French.
	Detector *Detector
}

// detected collects unique values across all affiliations of a record.
type detected struct {
	countries, ror, grid, rnsr map[string]bool
}

func newDetected() *detected {
	return &detected{
		countries: make(map[string]bool),
		ror:       make(map[string]bool),
		grid:      make(map[string]bool),
		rnsr:      make(map[string]bool),
	}
}

func (d *detected) add(m MatchedRow) {
	for _, v := range m.Result.Countries {
		d.countries[v] = true
	}
	for _, v := range m.Result.Ror {
		d.ror[v] = true
	}
	for _, v := range m.Result.Grid {
		d.grid[v] = true
	}
	for _, v := range m.Result.Rnsr {
		d.rnsr[v] = true
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Enrich modifies doc in place. For every affiliation entry of a person the
// first pair with an equal affiliation string provides the detected values.
// Persons without any affiliation entry lose the "affiliations" key, while
// entries without a match are kept with empty detected lists, so absence and
// "checked, nothing found" stay distinguishable.
func (e *Enricher) Enrich(doc map[string]any, pairs []Pair) (*Enriched, error) {
	id := str(doc["id"])
	if id == "" {
		return nil, ErrMissingID
	}
	var (
		reasons Reasons
		found   = newDetected()
		attrs   = object(doc["attributes"])
	)
	for _, role := range roles {
		for _, person := range objects(attrs[role]) {
			var entries []any
			for _, aff := range affiliationEntries(person["affiliation"]) {
				s := affiliation.String(aff, e.Exclude...)
				entry := map[string]any{
					"name":               affiliationName(aff, s),
					"ror":                affiliationROR(aff),
					"detected_countries": []string{},
					"detected_ror":       []string{},
					"detected_grid":      []string{},
					"detected_rnsr":      []string{},
				}
				if p, ok := firstPair(pairs, s); ok {
					entry["detected_countries"] = orEmpty(p.Match.Result.Countries)
					entry["detected_ror"] = orEmpty(p.Match.Result.Ror)
					entry["detected_grid"] = orEmpty(p.Match.Result.Grid)
					entry["detected_rnsr"] = orEmpty(p.Match.Result.Rnsr)
					reasons = reasons.Or(p.Match.Reasons)
					found.add(p.Match)
				}
				entries = append(entries, entry)
			}
			if len(entries) == 0 {
				delete(person, "affiliations")
			} else {
				person["affiliations"] = entries
			}
		}
	}
	if e.Detector != nil {
		reasons = reasons.Or(Reasons{
			IsPublisherFr: e.Detector.IsPublisherFr(str(attrs["publisher"])),
			IsClientIDFr:  e.Detector.IsClientIDFr(clientID(doc)),
		})
	}
	frReasons := JoinLabels(reasons.Labels())
	doc["is_fr"] = reasons.Any()
	doc["fr_reasons"] = frReasons
	result := &Enriched{
		ID:        id,
		Document:  doc,
		Reasons:   reasons,
		IsFr:      reasons.Any(),
		FrReasons: frReasons,
	}
	result.Index = Strip(buildIndex(doc, result, found))
	return result, nil
}

func firstPair(pairs []Pair, s string) (Pair, bool) {
	if s == "" {
		return Pair{}, false
	}
	for _, p := range pairs {
		if p.Row.Affiliation == s {
			return p, true
		}
	}
	return Pair{}, false
}

// affiliationEntries reads affiliation objects; plain strings become
// objects with a name.
func affiliationEntries(v any) []map[string]any {
	vs, ok := v.([]any)
	if !ok {
		return nil
	}
	var result []map[string]any
	for _, e := range vs {
		switch t := e.(type) {
		case map[string]any:
			result = append(result, t)
		case string:
			result = append(result, map[string]any{"name": t})
		}
	}
	return result
}

func affiliationName(aff map[string]any, fallback string) string {
	if name := str(aff["name"]); name != "" {
		return name
	}
	return fallback
}

func affiliationROR(aff map[string]any) string {
	id := str(aff[affiliation.IdentifierKey])
	if id == "" {
		return ""
	}
	scheme := strings.ToLower(str(aff["affiliationIdentifierScheme"]))
	if scheme == "ror" || strings.Contains(strings.ToLower(id), "ror.org/") {
		return id
	}
	return ""
}

func orEmpty(vs []string) []string {
	if vs == nil {
		return []string{}
	}
	return vs
}
