// Package anchor tracks character ranges of coded text, annotations and
// case links while the underlying document text is edited.
package anchor

import "fmt"

// Kind names the persisted table an anchored entity lives in.
type Kind string

const (
	KindCoding     Kind = "coding"
	KindAnnotation Kind = "annotation"
	KindCaseText   Kind = "case_text"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCoding, KindAnnotation, KindCaseText:
		return true
	default:
		return false
	}
}

// Key identifies one anchored entity. Ids are only unique within a kind.
type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Span is a half-open character range [Pos0, Pos1).
type Span struct {
	Pos0 int `json:"pos0"`
	Pos1 int `json:"pos1"`
}

func (s Span) Len() int {
	return s.Pos1 - s.Pos0
}

// Record is the live working copy of an anchored entity during an edit
// session. Pos0/Pos1 are the persisted positions and never change; NewPos0 and
// NewPos1 follow the edits. Invalidated records are deleted on commit.
type Record struct {
	Key         Key
	Pos0        int
	Pos1        int
	SelText     string
	NewPos0     int
	NewPos1     int
	Invalidated bool
}

// NewRecord starts tracking an entity at its persisted position.
func NewRecord(key Key, pos0, pos1 int, seltext string) Record {
	return Record{
		Key:     key,
		Pos0:    pos0,
		Pos1:    pos1,
		SelText: seltext,
		NewPos0: pos0,
		NewPos1: pos1,
	}
}

func (r Record) Valid() bool {
	return !r.Invalidated
}

// Moved reports whether the live span differs from the persisted one.
func (r Record) Moved() bool {
	return r.Invalidated || r.NewPos0 != r.Pos0 || r.NewPos1 != r.Pos1
}

func (r Record) Live() Span {
	return Span{Pos0: r.NewPos0, Pos1: r.NewPos1}
}

func (r *Record) invalidate() {
	r.Invalidated = true
}
