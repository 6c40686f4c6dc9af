package search

import "time"

// Config describes index behavior.
type Config struct {
	// EnableBody controls whether the index searches document bodies in
	// addition to front matter and links.
	EnableBody bool
	// IgnoredFolders contains folder names that are skipped when indexing.
	IgnoredFolders []string
}

// Query represents a search request against the index.
type Query struct {
	// Term is the free-text query, matched case-insensitively.
	Term string
	// Tags must all be present on the document.
	Tags []string
	// Metadata filters require front matter fields to contain every listed
	// value.
	Metadata map[string][]string
	// Volume restricts results to one volume when set.
	Volume string
	// Limit caps the number of results when positive.
	Limit int
}

// Result captures a document match from the index.
type Result struct {
	Path      string `json:"path"`
	Title     string `json:"title,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
	MatchFrom string `json:"matchFrom"`
	// Line is the 1-based source line of a body match.
	Line       int       `json:"line,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Related lists the documents a document links to and the documents that
// link to it.
type Related struct {
	Outbound  []string `json:"outbound"`
	Backlinks []string `json:"backlinks"`
}
