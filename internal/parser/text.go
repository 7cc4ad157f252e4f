package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docrag/internal/doctree"
)

// maxTextBytes bounds a plain text upload.
const maxTextBytes = 64 << 20

// TextParser handles plain text files. Form feeds separate pages, as in
// pdftotext output; a file without them is a single page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxTextBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	if len(data) > maxTextBytes {
		return nil, fmt.Errorf("text file exceeds %d bytes", maxTextBytes)
	}

	tree := &doctree.DocTree{
		Title: titleFromFilename(filename),
		Paged: true,
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	for i, page := range strings.Split(text, "\f") {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		tree.Children = append(tree.Children, &doctree.DocNode{
			Text: page,
			Page: i + 1,
		})
	}
	return tree, nil
}
