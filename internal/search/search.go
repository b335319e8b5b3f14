// Package search keeps a Meilisearch copy of document text and coded
// segments in step with committed edits.
package search

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexCodings(codings []CodingRecord) error
	DeleteCoding(id string) error
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// CodingRecord is the data we index for one coded segment.
type CodingRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	CodeID     string `json:"codeId"`
	Owner      string `json:"owner"`
	SelText    string `json:"seltext"`
	Pos0       int    `json:"pos0"`
	Pos1       int    `json:"pos1"`
}
