// Package affiliation turns creator and contributor affiliations of DOI
// records into rows, which are later deduplicated and matched.
package affiliation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000/normal"
	"github.com/segmentio/encoding/json"
)

// IdentifierKey is authoritative: if set, it is the whole affiliation string.
const IdentifierKey = "affiliationIdentifier"

var (
	lowercase = &normal.Pipeline{Normalizer: []normal.Normalizer{
		&normal.SimpleNormalizer{},
	}}
	personName = &normal.Pipeline{Normalizer: []normal.Normalizer{
		&normal.CollapseWSNormalizer{},
		&normal.TrimNormalizer{},
	}}
)

// String returns the lookup key for an affiliation object. Excluded keys and
// null values are dropped. If an identifier is present, the lowercased
// identifier is returned. Otherwise all scalar values are joined with a
// single space and lowercased. Values are taken in key order, so the result
// does not depend on how the object was built.
func String(aff map[string]any, exclude ...string) string {
	if len(aff) == 0 {
		return ""
	}
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	if !skip[IdentifierKey] {
		if id := scalar(aff[IdentifierKey]); id != "" {
			return lowercase.Normalize(id)
		}
	}
	keys := make([]string, 0, len(aff))
	for k := range aff {
		if skip[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		if s := scalar(aff[k]); s != "" {
			parts = append(parts, s)
		}
	}
	return lowercase.Normalize(strings.Join(parts, " "))
}

// scalar renders JSON scalars; nulls, lists and objects yield the empty string.
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// PersonName prefers an explicit name, then given and family name.
func PersonName(name, given, family string) string {
	if name != "" {
		return name
	}
	return personName.Normalize(given + " " + family)
}
