package structure

import (
	"regexp"
	"strings"
)

// Lines seen at the top or bottom of a page that are candidates for
// header/footer removal.
const (
	edgeLines        = 2
	shortPageLines   = 4
	maxEdgeLineChars = 200
)

var pageNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*\d+\s*$`),
	regexp.MustCompile(`(?i)^\s*Page\s+\d+\s*$`),
	regexp.MustCompile(`(?i)^\s*Page\s+\d+\s+of\s+\d+\s*$`),
	regexp.MustCompile(`(?i)^\s*\d+\s+of\s+\d+\s*$`),
	regexp.MustCompile(`^\s*-\s*\d+\s*-\s*$`),
	regexp.MustCompile(`^\s*\|\s*\d+\s*\|\s*$`),
	regexp.MustCompile(`^\s*\[\s*\d+\s*\]\s*$`),
}

var (
	hyphenBreakRe = regexp.MustCompile(`([\p{L}\p{N}_])-\s*\n\s*([\p{L}\p{N}_])`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
	trailSpaceRe  = regexp.MustCompile(` +\n`)
	leadSpaceRe   = regexp.MustCompile(`\n +`)
)

// CleanPages removes repeated headers and footers across pages, then drops
// page-number lines, joins hyphenated line breaks and normalizes whitespace
// on each page. Legal symbols and punctuation are left alone. Page count and
// order are preserved.
func CleanPages(pages []string) []string {
	stripped := removeRepeatedEdges(pages)
	out := make([]string, len(stripped))
	for i, p := range stripped {
		out[i] = CleanPage(p)
	}
	return out
}

// CleanPage normalizes a single page of extracted text.
func CleanPage(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" || isPageNumber(line) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = trailSpaceRe.ReplaceAllString(text, "\n")
	text = leadSpaceRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

func isPageNumber(line string) bool {
	for _, re := range pageNumberPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// removeRepeatedEdges drops lines that appear at a page edge on at least
// max(2, pages/3) pages. Fewer than two pages are returned unchanged.
func removeRepeatedEdges(pages []string) []string {
	if len(pages) < 2 {
		return pages
	}

	counts := make(map[string]int)
	pageLines := make([][]string, len(pages))
	for i, page := range pages {
		var lines []string
		for _, l := range strings.Split(page, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		pageLines[i] = lines

		if len(lines) == 0 {
			continue
		}
		if len(lines) <= shortPageLines {
			counts[lines[0]]++
			if len(lines) > 1 {
				counts[lines[len(lines)-1]]++
			}
			continue
		}
		edges := append([]string{}, lines[:edgeLines]...)
		edges = append(edges, lines[max(edgeLines, len(lines)-edgeLines):]...)
		for _, l := range edges {
			if len(l) < maxEdgeLineChars {
				counts[l]++
			}
		}
	}

	threshold := max(2, len(pages)/3)
	out := make([]string, len(pages))
	for i, lines := range pageLines {
		var kept []string
		for _, l := range lines {
			if counts[l] < threshold {
				kept = append(kept, l)
			}
		}
		out[i] = strings.Join(kept, "\n")
	}
	return out
}
