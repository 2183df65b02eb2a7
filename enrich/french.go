package enrich

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dataesr/bso3-harvest-datacite-sub000/matcher"
	log "github.com/sirupsen/logrus"
)

// Reason labels, in the order they are reported.
const (
	ReasonClientID  = "clientid"
	ReasonCountries = "countries"
	ReasonPublisher = "publisher"
)

var (
	DefaultPublisherHints = []string{
		"france",
		"french",
		"cnrs",
		"inrae",
		"inria",
		"inserm",
		"ifremer",
		"cirad",
		"sorbonne",
		"université",
		"universite",
		"recherche data gouv",
	}
	DefaultClientIDPrefixes = []string{
		"inist.",
		"cnrs.",
		"inrae.",
		"ifremer.",
		"rdg.",
	}
)

// Reasons tells why an affiliation makes a DOI French.
type Reasons struct {
	IsPublisherFr bool
	IsClientIDFr  bool
	IsCountriesFr bool
}

// Any is true, if any reason applies.
func (r Reasons) Any() bool {
	return r.IsPublisherFr || r.IsClientIDFr || r.IsCountriesFr
}

// Or merges reasons.
func (r Reasons) Or(o Reasons) Reasons {
	return Reasons{
		IsPublisherFr: r.IsPublisherFr || o.IsPublisherFr,
		IsClientIDFr:  r.IsClientIDFr || o.IsClientIDFr,
		IsCountriesFr: r.IsCountriesFr || o.IsCountriesFr,
	}
}

// Labels returns sorted reason labels.
func (r Reasons) Labels() []string {
	var labels []string
	if r.IsClientIDFr {
		labels = append(labels, ReasonClientID)
	}
	if r.IsCountriesFr {
		labels = append(labels, ReasonCountries)
	}
	if r.IsPublisherFr {
		labels = append(labels, ReasonPublisher)
	}
	return labels
}

// JoinLabels deduplicates and sorts labels and joins them with a semicolon.
func JoinLabels(labels []string) string {
	seen := make(map[string]bool)
	var result []string
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		result = append(result, l)
	}
	sort.Strings(result)
	return strings.Join(result, ";")
}

// Detector decides the French relevance of an affiliation. The list of
// French client ids is read from ClientIDsFile once, on first use.
type Detector struct {
	CountryCode      string
	PublisherHints   []string
	ClientIDPrefixes []string
	ClientIDsFile    string

	once      sync.Once
	clientIDs map[string]bool
}

// NewDetector returns a detector with default hints.
func NewDetector(clientIDsFile string) *Detector {
	return &Detector{
		CountryCode:      "fr",
		PublisherHints:   DefaultPublisherHints,
		ClientIDPrefixes: DefaultClientIDPrefixes,
		ClientIDsFile:    clientIDsFile,
	}
}

func (d *Detector) loadClientIDs() {
	d.clientIDs = make(map[string]bool)
	if d.ClientIDsFile == "" {
		return
	}
	f, err := os.Open(d.ClientIDsFile)
	if err != nil {
		log.WithError(err).WithField("file", d.ClientIDsFile).Warn("cannot read french client ids")
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d.clientIDs[line] = true
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("reading french client ids")
	}
	log.WithField("count", len(d.clientIDs)).Debug("loaded french client ids")
}

// IsPublisherFr checks the publisher against the hints.
func (d *Detector) IsPublisherFr(publisher string) bool {
	p := strings.ToLower(publisher)
	if p == "" {
		return false
	}
	for _, h := range d.PublisherHints {
		if strings.Contains(p, h) {
			return true
		}
	}
	return false
}

// IsClientIDFr checks the client id against the prefixes and the list.
func (d *Detector) IsClientIDFr(clientID string) bool {
	d.once.Do(d.loadClientIDs)
	c := strings.ToLower(clientID)
	if c == "" {
		return false
	}
	if d.clientIDs[c] {
		return true
	}
	for _, p := range d.ClientIDPrefixes {
		if strings.HasPrefix(c, p) {
			return true
		}
	}
	return false
}

// Reasons for a single matched affiliation.
func (d *Detector) Reasons(publisher, clientID string, r matcher.Result) Reasons {
	return Reasons{
		IsPublisherFr: d.IsPublisherFr(publisher),
		IsClientIDFr:  d.IsClientIDFr(clientID),
		IsCountriesFr: r.HasCountry(d.CountryCode),
	}
}
