package datacite

import (
	"github.com/segmentio/encoding/json"
)

// Shard is a single line of a dcdump file: one API response page.
type Shard struct {
	Data []json.RawMessage `json:"data"`
}

// Document is a DataCite DOI record, cf. https://support.datacite.org/docs/api-get-doi.
type Document struct {
	Attributes    *Attributes `json:"attributes"`
	ID            string      `json:"id"`
	Relationships struct {
		Client struct {
			Data struct {
				Id   string `json:"id"`
				Type string `json:"type"`
			} `json:"data"`
		} `json:"client"`
	} `json:"relationships"`
	Type string `json:"type"`
}

// ClientID returns the id of the publishing client, if any.
func (doc *Document) ClientID() string {
	return doc.Relationships.Client.Data.Id
}

// Attributes of a DOI record. A nil attributes value happens for
// deleted or draft records in the dumps.
type Attributes struct {
	CitationCount int64    `json:"citationCount"`
	ContentUrl    []string `json:"contentUrl"`
	Contributors  []Person `json:"contributors"`
	Created       string   `json:"created"`
	Creators      []Person `json:"creators"`
	Dates         []struct {
		Date     string `json:"date"`
		DateType string `json:"dateType"`
	} `json:"dates"`
	Descriptions      []Description `json:"descriptions"`
	DOI               string        `json:"doi"`
	DownloadCount     int64         `json:"downloadCount"`
	Formats           []string      `json:"formats"`
	FundingReferences []struct {
		AwardNumber          string `json:"awardNumber"`
		AwardTitle           string `json:"awardTitle"`
		FunderIdentifier     string `json:"funderIdentifier"`
		FunderIdentifierType string `json:"funderIdentifierType"`
		FunderName           string `json:"funderName"`
	} `json:"fundingReferences"`
	Identifiers []struct {
		Identifier     string `json:"identifier"`
		IdentifierType string `json:"identifierType"`
	} `json:"identifiers"`
	IsActive           bool   `json:"isActive"`
	Language           string `json:"language"`
	PublicationYear    int64  `json:"publicationYear"`
	Published          string `json:"published"`
	Publisher          string `json:"publisher"`
	ReferenceCount     int64  `json:"referenceCount"`
	Registered         string `json:"registered"`
	RelatedIdentifiers []struct {
		RelatedIdentifier     string `json:"relatedIdentifier"`
		RelatedIdentifierType string `json:"relatedIdentifierType"`
		RelationType          string `json:"relationType"`
	} `json:"relatedIdentifiers"`
	RightsList []struct {
		Rights           string `json:"rights"`
		RightsIdentifier string `json:"rightsIdentifier"`
		RightsUri        string `json:"rightsUri"`
	} `json:"rightsList"`
	State    string    `json:"state"`
	Subjects []Subject `json:"subjects"`
	Titles   []struct {
		Lang      string `json:"lang"`
		Title     string `json:"title"`
		TitleType string `json:"titleType"`
	} `json:"titles"`
	Types struct {
		Bibtex              string `json:"bibtex"`
		Citeproc            string `json:"citeproc"`
		ResourceType        string `json:"resourceType"`
		ResourceTypeGeneral string `json:"resourceTypeGeneral"`
		Ris                 string `json:"ris"`
		SchemaOrg           string `json:"schemaOrg"`
	} `json:"types"`
	Updated        string `json:"updated"`
	URL            string `json:"url"`
	Version        string `json:"version"`
	VersionCount   int64  `json:"versionCount"`
	VersionOfCount int64  `json:"versionOfCount"`
	ViewCount      int64  `json:"viewCount"`
}

// Person is a creator or a contributor.
type Person struct {
	Affiliation     []Affiliation    `json:"affiliation"`
	ContributorType string           `json:"contributorType"`
	FamilyName      string           `json:"familyName"`
	GivenName       string           `json:"givenName"`
	Name            string           `json:"name"`
	NameIdentifiers []NameIdentifier `json:"nameIdentifiers"`
	NameType        string           `json:"nameType"`
}

// NameIdentifier, e.g. an ORCID.
type NameIdentifier struct {
	NameIdentifier       string `json:"nameIdentifier"`
	NameIdentifierScheme string `json:"nameIdentifierScheme"`
	SchemeUri            string `json:"schemeUri"`
}

// Description with a type like Abstract, Methods or Other.
type Description struct {
	Description     string `json:"description"`
	DescriptionType string `json:"descriptionType"`
	Lang            string `json:"lang"`
}

// Subject, keywords and fields of science.
type Subject struct {
	Subject       string `json:"subject"`
	SubjectScheme string `json:"subjectScheme"`
}

// Affiliation keeps all fields of an affiliation object, since the set of
// keys varies between records (name, affiliationIdentifier,
// affiliationIdentifierScheme, schemeUri, ...). Older records carry plain
// strings, which we read as {"name": ...}.
type Affiliation map[string]any

// UnmarshalJSON accepts objects and plain strings.
func (a *Affiliation) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = Affiliation{"name": s}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*a = Affiliation(m)
	return nil
}
