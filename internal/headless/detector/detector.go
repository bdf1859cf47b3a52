// Package detector decides when a dossier fetch should be repeated through
// the headless browser.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/policy/simple"
)

const defaultThreshold = 2048

// Heuristic promotes failed fetches the way simple.Policy does, and also
// promotes successful responses that look like an unrendered script shell.
type Heuristic struct {
	threshold int
	failures  simple.Policy
}

// New creates a Heuristic. Bodies at or above threshold bytes are never
// promoted; zero selects the default.
func New(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{threshold: threshold, failures: simple.New()}
}

var shellMarkers = [][]byte{
	[]byte("<noscript"),
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// AllowHeadless implements fallback.Policy.
func (h *Heuristic) AllowHeadless(outcome crawler.FetchOutcome) bool {
	if !outcome.OK() {
		return h.failures.AllowHeadless(outcome)
	}
	return h.ShouldPromote(*outcome.Response)
}

// ShouldPromote reports whether a 200 response is too thin to extract from.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) >= h.threshold {
		return false
	}
	if scriptCoverage(body) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptCoverage returns the percentage of body inside <script> elements.
// An unterminated tag covers the rest of the document.
func scriptCoverage(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return 0
	}
	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
		covered  int
		pos      int
	)
	for pos < total {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if gt := bytes.IndexByte(lower[start:], '>'); gt != -1 {
			contentStart := start + gt + 1
			if closeAt := bytes.Index(lower[contentStart:], closeTag); closeAt != -1 {
				end = contentStart + closeAt + len(closeTag)
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
