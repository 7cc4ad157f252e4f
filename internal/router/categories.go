// Package router maps queries to the document categories (folders) worth
// searching. The taxonomy is fixed; folder names on disk and in the store
// use the canonical names below.
package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Canonical category names. The double space in ExternalAdvocacy matches the
// folder name documents were ingested under.
const (
	Resolutions      = "Resolutions"
	Bylaws           = "By-Laws & Governance Policies"
	Proceedings      = "Board and Committee Proceedings"
	PolicyStatements = "Policy & Position Statements"
	ExternalAdvocacy = "External Advocacy &  Communications"
)

var ErrUnknownCategory = errors.New("unknown category")

// Category is one routable folder.
type Category struct {
	Name    string   `json:"name"`
	Summary string   `json:"summary"`
	Stems   []string `json:"-"` // keyword prefixes for fallback routing
}

var categories = []Category{
	{
		Name: Resolutions,
		Summary: "Council and Board resolutions from 2024-2025 including voting records. " +
			"Contains formal organizational decisions on boarding, safety events, and financial oversight.",
		Stems: []string{"resolution", "resolved", "council", "whereas", "vot"},
	},
	{
		Name: Bylaws,
		Summary: "ACEP organizational bylaws and governance structure documents. " +
			"Contains the official organizational rulebook and structural policies updated as of October 2024.",
		Stems: []string{"bylaw", "governance", "quorum", "amendment", "article", "constitution", "officer"},
	},
	{
		Name: Proceedings,
		Summary: "Board of Directors meeting minutes, executive committee meetings, and virtual sessions from 2022-2025. " +
			"Contains both confidential and non-confidential board decisions, meeting materials, and governance proceedings.",
		Stems: []string{"board", "minute", "meeting", "committee", "proceeding", "session", "agenda"},
	},
	{
		Name: PolicyStatements,
		Summary: "Official ACEP clinical and organizational policy documents including policy compendium. " +
			"Contains position statements on emergency medicine practice, corporate medicine, consultation requirements, and trauma care.",
		Stems: []string{"policy", "policies", "position", "compendium", "clinical", "guideline", "practice"},
	},
	{
		Name: ExternalAdvocacy,
		Summary: "Public statements, press releases, and advocacy positions on healthcare policy. " +
			"Includes ACEP responses to federal regulations, CDC leadership, vaccine schedules, and healthcare legislation.",
		Stems: []string{"advocacy", "press", "public", "legislat", "congress", "cdc", "regulat", "federal", "communication", "testimony"},
	},
}

// Categories returns the taxonomy in its fixed order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Names returns the canonical category names in taxonomy order.
func Names() []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = c.Name
	}
	return out
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// foldKey reduces a name to its lowercase words without "and"/"&", so
// "By-Laws_and_Governance_Policies" and "By-Laws & Governance Policies"
// share a key.
func foldKey(s string) string {
	var sb strings.Builder
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if w == "and" {
			continue
		}
		sb.WriteString(w)
	}
	return sb.String()
}

var byKey = func() map[string]string {
	m := make(map[string]string, len(categories))
	for _, c := range categories {
		m[foldKey(c.Name)] = c.Name
	}
	return m
}()

// NormalizeCategory maps a folder or file-safe spelling to its canonical
// category name.
func NormalizeCategory(s string) (string, error) {
	if name, ok := byKey[foldKey(s)]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}
