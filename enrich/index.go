package enrich

import (
	"strings"

	"github.com/dataesr/bso3-harvest-datacite-sub000/affiliation"
)

// FOSPrefix marks Fields of Science subjects.
const FOSPrefix = "FOS: "

var genres = map[string]string{
	"journalarticle":       "journal-article",
	"datapaper":            "journal-article",
	"bookchapter":          "book-chapter",
	"book":                 "book",
	"conferencepaper":      "proceedings",
	"conferenceproceeding": "proceedings",
	"dataset":              "dataset",
}

// Genre maps a DataCite resourceTypeGeneral to a coarse genre.
func Genre(resourceTypeGeneral string) string {
	key := strings.ToLower(strings.ReplaceAll(resourceTypeGeneral, " ", ""))
	if g, ok := genres[key]; ok {
		return g
	}
	return "other"
}

// ORCID returns the first ORCID of a list of name identifiers, without the
// URI prefix.
func ORCID(nameIdentifiers []map[string]any) string {
	for _, ni := range nameIdentifiers {
		if str(ni["nameIdentifierScheme"]) != "ORCID" {
			continue
		}
		v := strings.TrimRight(str(ni["nameIdentifier"]), "/")
		if i := strings.LastIndex(v, "/"); i >= 0 {
			v = v[i+1:]
		}
		if v != "" {
			return v
		}
	}
	return ""
}

// FullName prefers given and family name over the name field.
func FullName(person map[string]any) string {
	given, family := str(person["givenName"]), str(person["familyName"])
	if given != "" || family != "" {
		return affiliation.PersonName("", given, family)
	}
	return str(person["name"])
}

func buildAuthors(attrs map[string]any) []any {
	var authors []any
	for _, role := range roles {
		for _, person := range objects(attrs[role]) {
			r := "author"
			if role == "contributors" {
				r = strings.ToLower(str(person["contributorType"]))
				if r == "" {
					r = "contributor"
				}
			}
			author := map[string]any{
				"full_name":    FullName(person),
				"first_name":   str(person["givenName"]),
				"last_name":    str(person["familyName"]),
				"orcid":        ORCID(objects(person["nameIdentifiers"])),
				"role":         r,
				"name_type":    str(person["nameType"]),
				"affiliations": person["affiliations"],
			}
			authors = append(authors, author)
		}
	}
	return authors
}

// descriptions returns the first abstract, the first methods and the first
// other description.
func descriptions(attrs map[string]any) (abstract, methods, description string) {
	for _, d := range objects(attrs["descriptions"]) {
		text := strings.TrimSpace(str(d["description"]))
		switch str(d["descriptionType"]) {
		case "Abstract":
			if abstract == "" {
				abstract = text
			}
		case "Methods":
			if methods == "" {
				methods = text
			}
		default:
			if description == "" {
				description = text
			}
		}
	}
	return
}

// subjects splits subjects into fields of science and keywords.
func subjects(attrs map[string]any) (fos, keywords []any) {
	seen := make(map[string]bool)
	for _, s := range objects(attrs["subjects"]) {
		v := str(s["subject"])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		if strings.HasPrefix(v, FOSPrefix) {
			fos = append(fos, strings.TrimPrefix(v, FOSPrefix))
		} else {
			keywords = append(keywords, v)
		}
	}
	return
}

func firstTitle(attrs map[string]any) string {
	for _, t := range objects(attrs["titles"]) {
		if str(t["titleType"]) == "" {
			if v := str(t["title"]); v != "" {
				return v
			}
		}
	}
	for _, t := range objects(attrs["titles"]) {
		if v := str(t["title"]); v != "" {
			return v
		}
	}
	return ""
}

func clientID(doc map[string]any) string {
	rel := object(doc["relationships"])
	return str(object(object(rel["client"])["data"])["id"])
}

func license(attrs map[string]any) string {
	for _, r := range objects(attrs["rightsList"]) {
		if v := str(r["rightsIdentifier"]); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func stringsAny(vs []string) []any {
	result := make([]any, len(vs))
	for i, v := range vs {
		result[i] = v
	}
	return result
}

// buildIndex flattens an enriched record for the search index.
func buildIndex(doc map[string]any, e *Enriched, found *detected) map[string]any {
	var (
		attrs                          = object(doc["attributes"])
		types                          = object(attrs["types"])
		abstract, methods, description = descriptions(attrs)
		fos, keywords                  = subjects(attrs)
		resourceTypeGeneral            = str(types["resourceTypeGeneral"])
		doi                            = strings.ToLower(str(attrs["doi"]))
	)
	if doi == "" {
		doi = strings.ToLower(e.ID)
	}
	index := map[string]any{
		"id":                 e.ID,
		"doi":                doi,
		"title":              firstTitle(attrs),
		"genre":              Genre(resourceTypeGeneral),
		"genre_raw":          resourceTypeGeneral,
		"resource_type":      str(types["resourceType"]),
		"publisher":          str(attrs["publisher"]),
		"client_id":          clientID(doc),
		"abstract":           abstract,
		"methods":            methods,
		"description":        description,
		"fields_of_science":  fos,
		"keywords":           keywords,
		"authors":            buildAuthors(attrs),
		"language":           str(attrs["language"]),
		"license":            license(attrs),
		"url":                str(attrs["url"]),
		"created":            str(attrs["created"]),
		"registered":         str(attrs["registered"]),
		"updated":            str(attrs["updated"]),
		"detected_countries": stringsAny(sortedKeys(found.countries)),
		"detected_ror":       stringsAny(sortedKeys(found.ror)),
		"detected_grid":      stringsAny(sortedKeys(found.grid)),
		"detected_rnsr":      stringsAny(sortedKeys(found.rnsr)),
		"is_fr":              e.IsFr,
		"fr_reasons":         e.FrReasons,
		"fr_reasons_concat":  strings.ReplaceAll(e.FrReasons, ";", " "),
	}
	if year, ok := integer(attrs["publicationYear"]); ok {
		index["year"] = year
	}
	return index
}
