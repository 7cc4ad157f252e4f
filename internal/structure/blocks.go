// Package structure turns extracted document text into heading-annotated
// blocks for the chunker.
package structure

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docrag/internal/doctree"
)

var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Article\s+[IVXLC]+`),
	regexp.MustCompile(`(?i)^Section\s+\d+(\.\d+)*`),
	regexp.MustCompile(`(?i)^Resolution\s*(No\.?)?\s*\d+`),
}

// IsHeading reports whether a trimmed line opens an Article, Section or
// Resolution block.
func IsHeading(line string) bool {
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// SplitIntoBlocks scans cleaned pages line by line and starts a new block at
// every heading line. Text before the first heading forms a block with an
// empty heading path. Pages are numbered from 1 in slice order.
func SplitIntoBlocks(pages []string) []doctree.Block {
	var (
		blocks  []doctree.Block
		current *blockBuilder
	)

	flush := func() {
		if current == nil {
			return
		}
		if b, ok := current.build(); ok {
			blocks = append(blocks, b)
		}
	}

	for i, page := range pages {
		pageNum := i + 1
		if strings.TrimSpace(page) == "" {
			continue
		}
		for _, line := range strings.Split(page, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}

			if IsHeading(trimmed) {
				if current != nil {
					current.pageEnd = max(pageNum-1, current.pageStart)
				}
				flush()
				current = newBlockBuilder(pageNum, []string{trimmed})
				current.add(line, pageNum)
				continue
			}

			if current == nil {
				current = newBlockBuilder(pageNum, nil)
			}
			current.add(line, pageNum)
		}
	}
	flush()
	return blocks
}

type blockBuilder struct {
	text      strings.Builder
	pageStart int
	pageEnd   int
	headings  []string
}

func newBlockBuilder(page int, headings []string) *blockBuilder {
	return &blockBuilder{pageStart: page, pageEnd: page, headings: headings}
}

func (b *blockBuilder) add(line string, page int) {
	b.text.WriteString(line)
	b.text.WriteByte('\n')
	b.pageEnd = page
}

func (b *blockBuilder) build() (doctree.Block, bool) {
	text := strings.TrimSpace(b.text.String())
	if text == "" {
		return doctree.Block{}, false
	}
	return doctree.Block{
		Text:        text,
		PageStart:   b.pageStart,
		PageEnd:     max(b.pageEnd, b.pageStart),
		HeadingPath: b.headings,
	}, true
}
