// Package extract turns dossier pages into record fields. Extraction is
// lenient: a missing field is left out of the map rather than failing the
// record.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

// ErrParse marks pages that could not be interpreted at all.
var ErrParse = errors.New("parse dossier page")

// Field names produced by Portal.
const (
	FieldClass      = "class"
	FieldSubject    = "subject"
	FieldRapporteur = "rapporteur"
	FieldOrigin     = "origin"
	FieldFiledAt    = "filed_at"
	FieldStatus     = "status"
	FieldParties    = "parties"
	FieldMovements  = "movements"
	FieldDocuments  = "documents"
	FieldDecisions  = "decisions"
	FieldFullText   = "full_text"
)

// Party is one litigant or representative.
type Party struct {
	Role string `json:"role"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Movement is one docket entry.
type Movement struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

// Document is a link to an attached file.
type Document struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
}

// Decision is a ruling block found on the page.
type Decision struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type labelRule struct {
	field string
	class string
	label *regexp.Regexp
}

var basicRules = []labelRule{
	{field: FieldClass, class: "classe-processual", label: regexp.MustCompile(`(?i)^\s*classe`)},
	{field: FieldSubject, class: "assunto", label: regexp.MustCompile(`(?i)^\s*assunto`)},
	{field: FieldRapporteur, class: "relator", label: regexp.MustCompile(`(?i)^\s*relator`)},
	{field: FieldOrigin, class: "origem", label: regexp.MustCompile(`(?i)^\s*origem`)},
	{field: FieldFiledAt, class: "data-autuacao", label: regexp.MustCompile(`(?i)^\s*data.*autua`)},
	{field: FieldStatus, class: "status", label: regexp.MustCompile(`(?i)^\s*status`)},
}

var (
	requesterRe  = regexp.MustCompile(`(?i)requerente|autor|impetrante|reclamante|recorrente`)
	respondentRe = regexp.MustCompile(`(?i)requerido|réu|impetrado|reclamado|recorrido`)
	counselRe    = regexp.MustCompile(`(?i)advogad|procurador|\badv\.`)
	documentRe   = regexp.MustCompile(`(?i)\.pdf|documento|anexo`)
	whitespace   = regexp.MustCompile(`\s+`)
)

const (
	minDecisionLen = 100
	minFullTextLen = 500
)

// Portal extracts dossier fields from the court portal detail page.
type Portal struct {
	baseURL *url.URL
}

var _ crawler.Extractor = (*Portal)(nil)

// NewPortal builds a Portal that resolves relative links against baseURL.
func NewPortal(baseURL string) (*Portal, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Portal{baseURL: u}, nil
}

// Extract implements crawler.Extractor.
func (p *Portal) Extract(identifier string, body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", ErrParse, identifier)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, identifier, err)
	}

	fields := make(map[string]any)
	for _, rule := range basicRules {
		if value := findLabeled(doc, rule); value != "" {
			fields[rule.field] = value
		}
	}
	if parties := extractParties(doc); len(parties) > 0 {
		fields[FieldParties] = parties
	}
	if movements := extractMovements(doc); len(movements) > 0 {
		fields[FieldMovements] = movements
	}
	if documents := p.extractDocuments(doc); len(documents) > 0 {
		fields[FieldDocuments] = documents
	}
	if decisions := extractDecisions(doc); len(decisions) > 0 {
		fields[FieldDecisions] = decisions
	}
	if text := extractFullText(doc); text != "" {
		fields[FieldFullText] = text
	}
	return fields, nil
}

func findLabeled(doc *goquery.Document, rule labelRule) string {
	if sel := doc.Find("." + rule.class).First(); sel.Length() > 0 {
		text := clean(sel.Text())
		if _, after, ok := strings.Cut(text, ":"); ok {
			text = strings.TrimSpace(after)
		}
		if text != "" {
			return text
		}
	}
	var value string
	doc.Find("td, th, strong, b, label, dt").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !rule.label.MatchString(sel.Text()) {
			return true
		}
		value = textAfterLabel(sel)
		return value == ""
	})
	return value
}

// textAfterLabel reads "Label: value" from the element itself, then from its
// next sibling, then from its parent.
func textAfterLabel(sel *goquery.Selection) string {
	text := clean(sel.Text())
	if _, after, ok := strings.Cut(text, ":"); ok && strings.TrimSpace(after) != "" {
		return strings.TrimSpace(after)
	}
	if next := sel.Next(); next.Length() > 0 {
		if value := clean(next.Text()); value != "" {
			return value
		}
	}
	if parent := sel.Parent(); parent.Length() > 0 {
		if _, after, ok := strings.Cut(clean(parent.Text()), ":"); ok {
			return strings.TrimSpace(after)
		}
	}
	if strings.HasSuffix(text, ":") {
		return ""
	}
	return text
}

func extractParties(doc *goquery.Document) []Party {
	var parties []Party
	doc.Find("[class*=part], [class*=polo]").Each(func(_ int, section *goquery.Selection) {
		rows := section.Find("tr")
		if rows.Length() == 0 {
			rows = section.Find("div, li")
		}
		rows.Each(func(_ int, row *goquery.Selection) {
			text := clean(row.Text())
			role := partyRole(text)
			if role == "" {
				return
			}
			name := text
			if _, after, ok := strings.Cut(text, ":"); ok {
				name, _, _ = strings.Cut(after, "(")
				name = strings.TrimSpace(name)
			}
			parties = append(parties, Party{Role: role, Name: name, Text: text})
		})
	})
	return parties
}

func partyRole(text string) string {
	switch {
	case counselRe.MatchString(text):
		return "counsel"
	case respondentRe.MatchString(text):
		return "respondent"
	case requesterRe.MatchString(text):
		return "requester"
	default:
		return ""
	}
}

func extractMovements(doc *goquery.Document) []Movement {
	var movements []Movement
	doc.Find("[class*=moviment], [class*=historic], [class*=andamento]").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			movements = append(movements, Movement{
				Date:        clean(cells.Eq(0).Text()),
				Description: clean(cells.Eq(1).Text()),
			})
		})
	})
	return movements
}

func (p *Portal) extractDocuments(doc *goquery.Document) []Document {
	var documents []Document
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if !documentRe.MatchString(href) {
			return
		}
		resolved := href
		if ref, err := url.Parse(href); err == nil && p.baseURL != nil {
			resolved = p.baseURL.ResolveReference(ref).String()
		}
		documents = append(documents, Document{
			Title: clean(link.Text()),
			URL:   resolved,
			Kind:  documentKind(href),
		})
	})
	return documents
}

func documentKind(href string) string {
	lower := strings.ToLower(href)
	for _, kind := range []string{"acordao", "decisao", "despacho", "sentenca", "peticao"} {
		if strings.Contains(lower, kind) {
			return kind
		}
	}
	if strings.Contains(lower, ".pdf") {
		return "pdf"
	}
	return "document"
}

func extractDecisions(doc *goquery.Document) []Decision {
	var decisions []Decision
	doc.Find("[class*=decisao], [class*=acordao], [class*=sentenca]").Each(func(_ int, section *goquery.Selection) {
		text := clean(section.Text())
		if len(text) <= minDecisionLen {
			return
		}
		decisions = append(decisions, Decision{Kind: decisionKind(text), Text: text})
	})
	return decisions
}

func decisionKind(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "acórdão"):
		return "judgment"
	case strings.Contains(lower, "decisão monocrática"):
		return "single_judge_decision"
	case strings.Contains(lower, "despacho"):
		return "order"
	case strings.Contains(lower, "sentença"):
		return "sentence"
	default:
		return "decision"
	}
}

func extractFullText(doc *goquery.Document) string {
	main := doc.Find("[class*=content], [class*=main], [class*=texto]").First()
	if main.Length() == 0 {
		return ""
	}
	main = main.Clone()
	main.Find("script, style, nav, header, footer").Remove()
	var lines []string
	for _, line := range strings.Split(main.Text(), "\n") {
		if line = clean(line); line != "" {
			lines = append(lines, line)
		}
	}
	text := strings.Join(lines, "\n")
	if len(text) <= minFullTextLen {
		return ""
	}
	return text
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
