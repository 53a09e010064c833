package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AnnotationStatus tracks whether a record carries derived summaries.
type AnnotationStatus string

const (
	AnnotationPending     AnnotationStatus = "pending"
	AnnotationDone        AnnotationStatus = "done"
	AnnotationUnavailable AnnotationStatus = "unavailable"
	AnnotationDisabled    AnnotationStatus = "disabled"
)

// NeedsAnnotation reports whether a backfill pass should pick the record up.
func (s AnnotationStatus) NeedsAnnotation() bool {
	return s == AnnotationPending || s == AnnotationUnavailable
}

// UpsertOutcome is the result of reconciling one fetched record against the store.
type UpsertOutcome string

const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// Author represents a paper author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// String returns the author name with affiliation in parentheses when known.
func (a Author) String() string {
	if a.Affiliation == "" {
		return a.Name
	}
	return a.Name + " (" + a.Affiliation + ")"
}

// LiteratureRecord is a single paper as stored by the sync engine.
type LiteratureRecord struct {
	ExternalID      string
	Title           string
	Abstract        string
	PublicationDate *time.Time
	Authors         []Author
	ArticleType     string
	Journal         string
	DOI             string
	NumReferences   int

	// Revision is the source's own change marker (date revised plus version).
	Revision string

	// ContentHash is computed over the fields above and decides whether an
	// existing row needs to be rewritten.
	ContentHash string

	Summaries        map[string]string
	KeyTerms         []string
	AnnotationStatus AnnotationStatus
	AnnotationModel  string
	AnnotatedAt      *time.Time

	LastSyncedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthorNames returns the author names in order.
func (r *LiteratureRecord) AuthorNames() []string {
	names := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		names = append(names, a.Name)
	}
	return names
}

// Year returns the publication year, or 0 when unknown.
func (r *LiteratureRecord) Year() int {
	if r.PublicationDate == nil {
		return 0
	}
	return r.PublicationDate.Year()
}

// UnavailableFindings is shown in place of main findings that were not
// produced.
const UnavailableFindings = "annotation unavailable"

// MainFindings returns the summary in lang, falling back to any language,
// or UnavailableFindings when the record has no completed annotation.
func (r *LiteratureRecord) MainFindings(lang string) string {
	if r.AnnotationStatus != AnnotationDone || len(r.Summaries) == 0 {
		return UnavailableFindings
	}
	if s, ok := r.Summaries[lang]; ok && s != "" {
		return s
	}
	langs := make([]string, 0, len(r.Summaries))
	for l := range r.Summaries {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	for _, l := range langs {
		if s := r.Summaries[l]; s != "" {
			return s
		}
	}
	return UnavailableFindings
}

// AnnotationText is the text handed to the annotator.
func (r *LiteratureRecord) AnnotationText() string {
	var sb strings.Builder
	sb.WriteString("Title: ")
	sb.WriteString(r.Title)
	if r.Abstract != "" {
		sb.WriteString("\n\nAbstract: ")
		sb.WriteString(r.Abstract)
	}
	return sb.String()
}

// ComputeContentHash returns a stable digest of the source-owned fields.
// Derived fields (summaries, key terms, timestamps) are excluded so that
// annotation never makes a record look changed upstream.
func (r *LiteratureRecord) ComputeContentHash() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(r.ExternalID)
	write(r.Title)
	write(r.Abstract)
	if r.PublicationDate != nil {
		write(r.PublicationDate.UTC().Format("2006-01-02"))
	} else {
		write("")
	}
	for _, a := range r.Authors {
		write(a.Name)
		write(a.Affiliation)
		write(a.ORCID)
	}
	write(r.ArticleType)
	write(r.Journal)
	write(r.DOI)
	write(strconv.Itoa(r.NumReferences))

	return hex.EncodeToString(h.Sum(nil))
}

// Annotation is the derived output of the analysis annotator.
type Annotation struct {
	Summaries map[string]string
	KeyTerms  []string
	Model     string
}

// Languages returns the annotated languages in sorted order.
func (a *Annotation) Languages() []string {
	langs := make([]string, 0, len(a.Summaries))
	for lang := range a.Summaries {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// RecordStats summarizes the record store for the presentation layer.
type RecordStats struct {
	Total           int64
	ByYear          map[int]int64
	ByType          map[string]int64
	LatestPublished *time.Time
	Annotated       int64
	LastUpdate      string
}

// KeyTermCount is a key term and the number of records tagged with it.
type KeyTermCount struct {
	Term  string
	Count int64
}
