// Package pubmed implements papersources.LiteratureSource on top of the NCBI
// E-utilities API: esearch.fcgi lists PMIDs for a query window and
// efetch.fcgi returns the article record for a PMID.
//
// API documentation: https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import "encoding/xml"

// esearchResult is the esearch.fcgi response.
type esearchResult struct {
	XMLName   xml.Name      `xml:"eSearchResult"`
	Count     int           `xml:"Count"`
	RetMax    int           `xml:"RetMax"`
	RetStart  int           `xml:"RetStart"`
	IDList    idList        `xml:"IdList"`
	ErrorList *esearchError `xml:"ErrorList,omitempty"`
	// ERROR is set instead of a result when the term cannot be parsed.
	Error string `xml:"ERROR,omitempty"`
}

type idList struct {
	IDs []string `xml:"Id"`
}

type esearchError struct {
	PhraseNotFound []string `xml:"PhraseNotFound,omitempty"`
	FieldNotFound  []string `xml:"FieldNotFound,omitempty"`
}

// articleSet is the efetch.fcgi response.
type articleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation medlineCitation `xml:"MedlineCitation"`
	Data     pubmedData      `xml:"PubmedData"`
}

type medlineCitation struct {
	PMID        pmid    `xml:"PMID"`
	DateRevised *ymd    `xml:"DateRevised,omitempty"`
	Article     article `xml:"Article"`
}

type pmid struct {
	Version int    `xml:"Version,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type ymd struct {
	Year  string `xml:"Year"`
	Month string `xml:"Month,omitempty"`
	Day   string `xml:"Day,omitempty"`
}

type article struct {
	Journal          journal           `xml:"Journal"`
	Title            innerText         `xml:"ArticleTitle"`
	ELocationIDs     []elocationID     `xml:"ELocationID,omitempty"`
	Abstract         *abstract         `xml:"Abstract,omitempty"`
	AuthorList       *authorList       `xml:"AuthorList,omitempty"`
	PublicationTypes []publicationType `xml:"PublicationTypeList>PublicationType"`
	ArticleDates     []articleDate     `xml:"ArticleDate,omitempty"`
}

type journal struct {
	Title           string  `xml:"Title,omitempty"`
	ISOAbbreviation string  `xml:"ISOAbbreviation,omitempty"`
	PubDate         pubDate `xml:"JournalIssue>PubDate"`
}

// pubDate may carry Year/Month/Day or a free-form MedlineDate ("2020 Jan-Feb").
type pubDate struct {
	Year        string `xml:"Year,omitempty"`
	Month       string `xml:"Month,omitempty"`
	Day         string `xml:"Day,omitempty"`
	Season      string `xml:"Season,omitempty"`
	MedlineDate string `xml:"MedlineDate,omitempty"`
}

type elocationID struct {
	Type  string `xml:"EIdType,attr"`
	Valid string `xml:"ValidYN,attr,omitempty"`
	Value string `xml:",chardata"`
}

type abstract struct {
	Texts []abstractText `xml:"AbstractText"`
}

// innerText keeps inline markup (<i>, <sup>) whose text chardata would drop.
type innerText struct {
	InnerXML string `xml:",innerxml"`
}

// abstractText is one section of a possibly structured abstract.
type abstractText struct {
	Label    string `xml:"Label,attr,omitempty"`
	InnerXML string `xml:",innerxml"`
}

type authorList struct {
	Authors []author `xml:"Author"`
}

type author struct {
	ValidYN        string        `xml:"ValidYN,attr,omitempty"`
	LastName       string        `xml:"LastName,omitempty"`
	ForeName       string        `xml:"ForeName,omitempty"`
	CollectiveName string        `xml:"CollectiveName,omitempty"`
	Identifiers    []identifier  `xml:"Identifier,omitempty"`
	Affiliations   []affiliation `xml:"AffiliationInfo,omitempty"`
}

type identifier struct {
	Source string `xml:"Source,attr"`
	Value  string `xml:",chardata"`
}

type affiliation struct {
	Affiliation string `xml:"Affiliation"`
}

type articleDate struct {
	DateType string `xml:"DateType,attr,omitempty"`
	Year     string `xml:"Year"`
	Month    string `xml:"Month,omitempty"`
	Day      string `xml:"Day,omitempty"`
}

type publicationType struct {
	UI    string `xml:"UI,attr,omitempty"`
	Value string `xml:",chardata"`
}

type pubmedData struct {
	ArticleIDs []articleID `xml:"ArticleIdList>ArticleId"`
	References []reference `xml:"ReferenceList>Reference"`
}

type articleID struct {
	Type  string `xml:"IdType,attr"`
	Value string `xml:",chardata"`
}

type reference struct {
	Citation string `xml:"Citation,omitempty"`
}
