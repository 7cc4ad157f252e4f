package structure

import (
	"strings"

	"github.com/dgallion1/docrag/internal/doctree"
)

// FromTree converts a parsed document into blocks. Paged trees are cleaned
// and split on Article/Section/Resolution headings; outline trees yield one
// block per text-bearing node with its heading breadcrumb.
func FromTree(tree *doctree.DocTree) []doctree.Block {
	if tree == nil {
		return nil
	}
	if tree.Paged {
		return SplitIntoBlocks(CleanPages(Pages(tree)))
	}

	var blocks []doctree.Block
	for _, child := range tree.Children {
		blocks = walkNode(child, nil, blocks)
	}
	return blocks
}

// Pages returns page texts indexed by page number. Missing pages are empty
// so numbering survives blank or unreadable pages.
func Pages(tree *doctree.DocTree) []string {
	n := 0
	for i, node := range tree.Children {
		n = max(n, pageOf(node, i))
	}
	pages := make([]string, n)
	for i, node := range tree.Children {
		p := pageOf(node, i) - 1
		if pages[p] != "" {
			pages[p] += "\n"
		}
		pages[p] += node.Text
	}
	return pages
}

func pageOf(node *doctree.DocNode, i int) int {
	if node.Page > 0 {
		return node.Page
	}
	return i + 1
}

func walkNode(node *doctree.DocNode, breadcrumb []string, blocks []doctree.Block) []doctree.Block {
	bc := append([]string{}, breadcrumb...)
	if node.Title != "" {
		bc = append(bc, node.Title)
	}

	if text := strings.TrimSpace(node.Text); text != "" {
		page := max(node.Page, 1)
		var path []string
		if len(bc) > 0 {
			path = bc
		}
		blocks = append(blocks, doctree.Block{
			Text:        text,
			PageStart:   page,
			PageEnd:     page,
			HeadingPath: path,
		})
	}

	for _, child := range node.Children {
		blocks = walkNode(child, bc, blocks)
	}
	return blocks
}
