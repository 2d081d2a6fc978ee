// Package bib defines the core data model for document generation:
// thesis specifications, outline trees, bibliographic sources, chapter
// drafts and the audit artifacts produced along the pipeline.
package bib

import (
	"strings"
	"time"
)

// LengthUnit is the unit of a thesis target length.
type LengthUnit string

const (
	LengthUnitWords LengthUnit = "words"
	LengthUnitPages LengthUnit = "pages"
)

// WordsPerPage is the conversion factor used when a target length is
// given in pages.
const WordsPerPage = 300

// CitationStyle identifies a supported citation style.
type CitationStyle string

const (
	StyleAPA      CitationStyle = "apa"
	StyleHarvard  CitationStyle = "harvard"
	StyleMLA      CitationStyle = "mla"
	StyleFootnote CitationStyle = "deutsche-zitierweise"
)

// SupportedCitationStyles lists all styles the generator accepts.
var SupportedCitationStyles = []CitationStyle{StyleAPA, StyleHarvard, StyleMLA, StyleFootnote}

// ThesisSpec is the immutable document specification a job runs against.
// ResearchQuestion is passed through to generation verbatim and must
// never be paraphrased.
type ThesisSpec struct {
	Title            string           `json:"title" yaml:"title"`
	Field            string           `json:"field" yaml:"field"`
	ThesisType       string           `json:"thesis_type" yaml:"thesis_type"`
	ResearchQuestion string           `json:"research_question" yaml:"research_question"`
	CitationStyle    CitationStyle    `json:"citation_style" yaml:"citation_style"`
	TargetLength     int              `json:"target_length" yaml:"target_length"`
	LengthUnit       LengthUnit       `json:"length_unit" yaml:"length_unit"`
	Language         string           `json:"language" yaml:"language"`
	Outline          []OutlineChapter `json:"outline" yaml:"outline"`
	FileStoreID      string           `json:"filestore_id,omitempty" yaml:"filestore_id"`
	MandatorySources []string         `json:"mandatory_sources,omitempty" yaml:"mandatory_sources"`
}

// TargetWords returns the word budget, converting page targets at
// WordsPerPage.
func (s *ThesisSpec) TargetWords() int {
	if s.LengthUnit == LengthUnitPages {
		return s.TargetLength * WordsPerPage
	}
	return s.TargetLength
}

// OutlineChapter is one node of the outline tree. Number is dotted
// ("2", "2.3") and defines both document order and heading depth.
// Generation must not add, remove or renumber chapters.
type OutlineChapter struct {
	Number   string           `json:"number" yaml:"number"`
	Title    string           `json:"title" yaml:"title"`
	Sections []OutlineSection `json:"sections,omitempty" yaml:"sections"`
}

// OutlineSection is a second-level outline node.
type OutlineSection struct {
	Number      string              `json:"number" yaml:"number"`
	Title       string              `json:"title" yaml:"title"`
	Subsections []OutlineSubsection `json:"subsections,omitempty" yaml:"subsections"`
}

// OutlineSubsection is a third-level outline node.
type OutlineSubsection struct {
	Number string `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
}

// Depth returns the heading depth implied by a dotted number
// ("2" -> 1, "2.3" -> 2, "2.3.1" -> 3).
func Depth(number string) int {
	if number == "" {
		return 1
	}
	return strings.Count(number, ".") + 1
}

// nonContentKeywords mark outline chapters that carry no generated
// body text. Both German and English forms appear in real outlines.
var nonContentKeywords = []string{
	"anhang", "appendix",
	"abbildungsverzeichnis", "tabellenverzeichnis",
	"list of figures", "list of tables",
	"literaturverzeichnis", "bibliography", "references",
	"abkürzungsverzeichnis", "list of abbreviations",
	"eidesstattliche", "declaration of authorship",
	"inhaltsverzeichnis", "table of contents",
}

// IsContentChapter reports whether a chapter receives generated prose.
// Appendices, index lists and boilerplate sections are skipped.
func (c *OutlineChapter) IsContentChapter() bool {
	title := strings.ToLower(c.Title)
	for _, kw := range nonContentKeywords {
		if strings.Contains(title, kw) {
			return false
		}
	}
	return true
}

// ContentChapters filters an outline down to chapters that receive
// generated text, preserving order.
func ContentChapters(outline []OutlineChapter) []OutlineChapter {
	out := make([]OutlineChapter, 0, len(outline))
	for _, ch := range outline {
		if ch.IsContentChapter() {
			out = append(out, ch)
		}
	}
	return out
}

// Source is one bibliographic source. Mutable only during acquisition
// and ingestion; once handed to generation it is treated as immutable.
type Source struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Year          int      `json:"year,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	URL           string   `json:"url,omitempty"`
	PDFURL        string   `json:"pdf_url,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	CitationCount int      `json:"citation_count,omitempty"`

	// Set by acquisition/ingestion.
	RelevanceScore int    `json:"relevance_score,omitempty"` // 0-100
	ChapterNumber  string `json:"chapter_number,omitempty"`
	ChapterTitle   string `json:"chapter_title,omitempty"`
	Mandatory      bool   `json:"mandatory,omitempty"`
	PageStart      int    `json:"page_start,omitempty"`
	PageEnd        int    `json:"page_end,omitempty"`
	Ingested       bool   `json:"ingested,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

// Key returns the deduplication key for a source: the DOI when
// present, otherwise the lowercased title.
func (s *Source) Key() string {
	if s.DOI != "" {
		return strings.ToLower(s.DOI)
	}
	return strings.ToLower(strings.TrimSpace(s.Title))
}

// HasDocument reports whether a downloadable document URL is known.
func (s *Source) HasDocument() bool {
	return s.PDFURL != ""
}

// ChapterDraft is the working text of one generated chapter. Drafts
// are replaced during generation and discarded after assembly.
type ChapterDraft struct {
	ChapterNumber string `json:"chapter_number"`
	Text          string `json:"text"`
	WordCount     int    `json:"word_count"`
	Summary       string `json:"summary,omitempty"` // rolling summary, <=~200 words
}

// CritiqueCategory names one critique dimension.
type CritiqueCategory string

const (
	CritiqueStructure CritiqueCategory = "structure"
	CritiqueCoverage  CritiqueCategory = "research_question_coverage"
	CritiqueSources   CritiqueCategory = "source_fidelity"
	CritiquePages     CritiqueCategory = "page_numbers"
	CritiqueLanguage  CritiqueCategory = "language_hygiene"
)

// CritiqueReport is one iteration's review output. Reports are
// append-only audit artifacts, persisted per iteration.
type CritiqueReport struct {
	Iteration int                         `json:"iteration"`
	Findings  map[CritiqueCategory]string `json:"findings"`
	Defects   []Defect                    `json:"defects,omitempty"`
	Raw       string                      `json:"raw,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
}

// Defect is one machine-readable finding with a concrete fix
// instruction.
type Defect struct {
	Category    CritiqueCategory `json:"category"`
	Description string           `json:"description"`
	Fix         string           `json:"fix"`
}

// Clean reports whether the critique found no defects.
func (r *CritiqueReport) Clean() bool {
	return len(r.Defects) == 0
}

// DetectionResult is an AI-detectability score. A nil result means the
// detector was unavailable; a score is never fabricated.
type DetectionResult struct {
	HumanScore       float64   `json:"human_score"` // 0-100, higher = more human-like
	FlaggedSentences []string  `json:"flagged_sentences,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// PlagiarismResult is an originality score. A nil result means the
// checker was unavailable.
type PlagiarismResult struct {
	OriginalityScore float64   `json:"originality_score"` // 0-100, higher = more original
	FlaggedSpans     []string  `json:"flagged_spans,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Citation is one extracted in-text citation with its bibliographic
// metadata, used to derive the bibliography and footnotes.
type Citation struct {
	ID      string   `json:"id"`
	Authors []string `json:"authors"`
	Year    int      `json:"year,omitempty"`
	Title   string   `json:"title"`
	Venue   string   `json:"venue,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	Pages   string   `json:"pages,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// PlanChapter is one chapter's budget in a generation plan.
type PlanChapter struct {
	ChapterNumber string   `json:"chapter_number"`
	MinWords      int      `json:"min_words"`
	MaxWords      int      `json:"max_words"`
	SourceKeys    []string `json:"source_keys,omitempty"`
	Focus         string   `json:"focus,omitempty"`
}

// GenerationPlan is the optional per-chapter blueprint produced before
// generation: word ranges plus a source-to-chapter mapping.
type GenerationPlan struct {
	Chapters []PlanChapter `json:"chapters"`
}

// ChapterPlan returns the plan entry for a chapter number, or nil.
func (p *GenerationPlan) ChapterPlan(number string) *PlanChapter {
	if p == nil {
		return nil
	}
	for i := range p.Chapters {
		if p.Chapters[i].ChapterNumber == number {
			return &p.Chapters[i]
		}
	}
	return nil
}
