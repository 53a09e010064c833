package pubmed

import (
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// defaultArticleType is used when an article lists no publication types.
const defaultArticleType = "Research Article"

func toRecord(a pubmedArticle) *domain.LiteratureRecord {
	art := a.Citation.Article

	journalName := strings.TrimSpace(art.Journal.Title)
	if journalName == "" {
		journalName = strings.TrimSpace(art.Journal.ISOAbbreviation)
	}

	articleType := defaultArticleType
	for _, pt := range art.PublicationTypes {
		if v := strings.TrimSpace(pt.Value); v != "" {
			articleType = v
			break
		}
	}

	rec := &domain.LiteratureRecord{
		ExternalID:      strings.TrimSpace(a.Citation.PMID.Value),
		Title:           cleanText(art.Title.InnerXML),
		Abstract:        extractAbstract(art.Abstract),
		PublicationDate: extractPublicationDate(art),
		Authors:         extractAuthors(art.AuthorList),
		ArticleType:     articleType,
		Journal:         journalName,
		DOI:             extractDOI(art, a.Data),
		NumReferences:   len(a.Data.References),
		Revision:        revision(a.Citation),
	}
	rec.ContentHash = rec.ComputeContentHash()
	return rec
}

// revision renders the source change marker as "<date revised>/v<version>".
func revision(c medlineCitation) string {
	version := c.PMID.Version
	if version == 0 {
		version = 1
	}
	date := ""
	if c.DateRevised != nil {
		if t := parseDate(c.DateRevised.Year, c.DateRevised.Month, c.DateRevised.Day); t != nil {
			date = t.Format("2006-01-02")
		}
	}
	return date + "/v" + strconv.Itoa(version)
}

// extractDOI prefers a valid ELocationID and falls back to ArticleIdList.
func extractDOI(art article, data pubmedData) string {
	for _, e := range art.ELocationIDs {
		if e.Type == "doi" && (e.Valid == "" || e.Valid == "Y") {
			return strings.TrimSpace(e.Value)
		}
	}
	for _, id := range data.ArticleIDs {
		if id.Type == "doi" {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// extractPublicationDate uses the electronic ArticleDate when present, then
// the journal issue PubDate, then the year of a MedlineDate.
func extractPublicationDate(art article) *time.Time {
	for _, ad := range art.ArticleDates {
		if ad.DateType == "" || strings.EqualFold(ad.DateType, "Electronic") {
			if t := parseDate(ad.Year, ad.Month, ad.Day); t != nil {
				return t
			}
		}
	}

	pd := art.Journal.PubDate
	if t := parseDate(pd.Year, pd.Month, pd.Day); t != nil {
		return t
	}
	if pd.MedlineDate != "" {
		if year := yearFromMedlineDate(pd.MedlineDate); year > 0 {
			t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			return &t
		}
	}
	return nil
}

func parseDate(year, month, day string) *time.Time {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y <= 0 {
		return nil
	}

	d := 1
	if day != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(day)); err == nil && parsed >= 1 && parsed <= 31 {
			d = parsed
		}
	}

	t := time.Date(y, parseMonth(month), d, 0, 0, 0, 0, time.UTC)
	return &t
}

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseMonth accepts a number or an English month name; anything else is January.
func parseMonth(month string) time.Month {
	month = strings.TrimSpace(month)
	if m, err := strconv.Atoi(month); err == nil && m >= 1 && m <= 12 {
		return time.Month(m)
	}
	if m, ok := monthNames[strings.ToLower(month)]; ok {
		return m
	}
	return time.January
}

// yearFromMedlineDate reads the leading year of "2020 Jan-Feb", "2020-2021".
func yearFromMedlineDate(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	year, err := strconv.Atoi(strings.Split(fields[0], "-")[0])
	if err != nil {
		return 0
	}
	return year
}

// extractAbstract renders sections as "Label: text" separated by blank lines.
func extractAbstract(abs *abstract) string {
	if abs == nil {
		return ""
	}

	parts := make([]string, 0, len(abs.Texts))
	for _, section := range abs.Texts {
		text := cleanText(section.InnerXML)
		if text == "" {
			continue
		}
		if section.Label != "" {
			text = section.Label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

func extractAuthors(list *authorList) []domain.Author {
	if list == nil {
		return nil
	}

	authors := make([]domain.Author, 0, len(list.Authors))
	for _, a := range list.Authors {
		if a.ValidYN == "N" {
			continue
		}

		name := strings.TrimSpace(a.CollectiveName)
		if name == "" {
			name = strings.TrimSpace(strings.Join(nonEmpty(a.ForeName, a.LastName), " "))
		}
		if name == "" {
			continue
		}

		author := domain.Author{Name: name}
		for _, id := range a.Identifiers {
			if strings.EqualFold(id.Source, "ORCID") {
				author.ORCID = strings.TrimSpace(id.Value)
				break
			}
		}
		if len(a.Affiliations) > 0 {
			author.Affiliation = strings.TrimSpace(a.Affiliations[0].Affiliation)
		}
		authors = append(authors, author)
	}
	return authors
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// cleanText strips inline markup, unescapes entities and collapses whitespace.
func cleanText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(sb.String())), " ")
}
