package doctree

import "strconv"

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Paged    bool       // Children are physical pages in order (PDF)
	Children []*DocNode // Top-level sections or pages
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page, 1-based (0 if N/A)
	Children []*DocNode // Subsections
}

// Block is a contiguous span of document text under zero or more headings.
// Blocks are produced by structure detection and consumed once by the chunker.
type Block struct {
	Text        string
	PageStart   int      // 1-based
	PageEnd     int      // >= PageStart
	HeadingPath []string // outermost first
}

// Chunk is a token-bounded slice of a Block's text.
type Chunk struct {
	Text        string   `json:"text"`
	TokenCount  int      `json:"token_count"`
	PageStart   int      `json:"page_start"`
	PageEnd     int      `json:"page_end"`
	HeadingPath []string `json:"heading_path"`
}

// PageRange formats the page span as "3" or "3-5".
func (c Chunk) PageRange() string {
	return FormatPageRange(c.PageStart, c.PageEnd)
}

// FormatPageRange formats a 1-based page span.
func FormatPageRange(start, end int) string {
	if end <= start {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}
