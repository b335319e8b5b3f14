package store

import "time"

// Document is one text source that codings, annotations and case links
// point into.
type Document struct {
	ID        int64
	Name      string
	FullText  string
	Memo      string
	Owner     string
	CreatedAt time.Time
}

// Coding is a code applied to the characters [Pos0, Pos1) of a document.
// SelText mirrors the covered text.
type Coding struct {
	ID        int64
	CodeID    int64
	FileID    int64
	SelText   string
	Pos0      int
	Pos1      int
	Owner     string
	Memo      string
	Important bool
}

type Annotation struct {
	ID     int64
	FileID int64
	Pos0   int
	Pos1   int
	Memo   string
	Owner  string
}

// CaseText links a case to a range of a document.
type CaseText struct {
	ID     int64
	CaseID int64
	FileID int64
	Pos0   int
	Pos1   int
	Owner  string
}

// Anchors is every positioned entity that refers to one document.
type Anchors struct {
	Codings     []Coding
	Annotations []Annotation
	CaseTexts   []CaseText
}

func (a Anchors) Len() int {
	return len(a.Codings) + len(a.Annotations) + len(a.CaseTexts)
}

// PositionUpdate rewrites the stored range of one entity. SelText is only
// written for codings.
type PositionUpdate struct {
	Kind    string
	ID      int64
	Pos0    int
	Pos1    int
	SelText string
}

// CodingNotes rewrites the memo and importance flag of one coding.
type CodingNotes struct {
	ID        int64
	Memo      string
	Important bool
}
