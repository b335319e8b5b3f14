// Package textdiff turns a before/after pair of full document texts into a
// single contiguous edit description.
package textdiff

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Shape identifies where a single edit landed in the previous text.
type Shape int

const (
	Unchanged Shape = iota
	InsertAtStart
	DeleteAtStart
	InsertAtEnd
	DeleteAtEnd
	InsertInMiddle
	DeleteInMiddle
)

func (s Shape) String() string {
	switch s {
	case InsertAtStart:
		return "insert-at-start"
	case DeleteAtStart:
		return "delete-at-start"
	case InsertAtEnd:
		return "insert-at-end"
	case DeleteAtEnd:
		return "delete-at-end"
	case InsertInMiddle:
		return "insert-in-middle"
	case DeleteInMiddle:
		return "delete-in-middle"
	default:
		return "unchanged"
	}
}

// Edit describes one contiguous insertion or deletion. All lengths are in
// characters (code points) and PreLength is an offset into the previous text.
type Edit struct {
	Shape      Shape
	Length     int
	PreLength  int
	PostLength int
	// Segments is the number of diff segments the edit was derived from.
	Segments int
	// Approximate is set when the diff did not fit one of the six shapes and
	// was narrowed to the nearest middle insertion or deletion.
	Approximate bool
}

func (e Edit) IsInsert() bool {
	return e.Shape == InsertAtStart || e.Shape == InsertAtEnd || e.Shape == InsertInMiddle
}

func (e Edit) IsDelete() bool {
	return e.Shape == DeleteAtStart || e.Shape == DeleteAtEnd || e.Shape == DeleteInMiddle
}

// Boundary is the offset in the previous text where the edit begins.
func (e Edit) Boundary() int {
	switch e.Shape {
	case InsertAtStart, DeleteAtStart:
		return 0
	default:
		return e.PreLength
	}
}

// Classifier computes edits with a reusable diff engine.
type Classifier struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewClassifier() *Classifier {
	return &Classifier{dmp: diffmatchpatch.New()}
}

// Classify is a convenience wrapper around a fresh Classifier.
func Classify(previous, current string) Edit {
	return NewClassifier().Classify(previous, current)
}

func (c *Classifier) Classify(previous, current string) Edit {
	if previous == current {
		return Edit{Shape: Unchanged, Segments: 1}
	}
	diffs := c.dmp.DiffMain(previous, current, false)
	return fromDiffs(diffs)
}

func fromDiffs(diffs []diffmatchpatch.Diff) Edit {
	n := len(diffs)
	switch {
	case n == 0:
		return Edit{Shape: Unchanged}
	case n == 1:
		// Whole-text insert into an empty document or whole-text delete.
		switch diffs[0].Type {
		case diffmatchpatch.DiffInsert:
			return Edit{Shape: InsertAtStart, Length: runeLen(diffs[0]), Segments: 1}
		case diffmatchpatch.DiffDelete:
			return Edit{Shape: DeleteAtStart, Length: runeLen(diffs[0]), Segments: 1}
		default:
			return Edit{Shape: Unchanged, Segments: 1}
		}
	case n == 2 && diffs[1].Type == diffmatchpatch.DiffEqual:
		switch diffs[0].Type {
		case diffmatchpatch.DiffInsert:
			return Edit{Shape: InsertAtStart, Length: runeLen(diffs[0]), PostLength: runeLen(diffs[1]), Segments: 2}
		case diffmatchpatch.DiffDelete:
			return Edit{Shape: DeleteAtStart, Length: runeLen(diffs[0]), PostLength: runeLen(diffs[1]), Segments: 2}
		}
	case n == 2 && diffs[0].Type == diffmatchpatch.DiffEqual:
		switch diffs[1].Type {
		case diffmatchpatch.DiffInsert:
			return Edit{Shape: InsertAtEnd, Length: runeLen(diffs[1]), PreLength: runeLen(diffs[0]), Segments: 2}
		case diffmatchpatch.DiffDelete:
			return Edit{Shape: DeleteAtEnd, Length: runeLen(diffs[1]), PreLength: runeLen(diffs[0]), Segments: 2}
		}
	case n == 3 && diffs[0].Type == diffmatchpatch.DiffEqual && diffs[2].Type == diffmatchpatch.DiffEqual:
		switch diffs[1].Type {
		case diffmatchpatch.DiffInsert:
			return Edit{
				Shape:      InsertInMiddle,
				Length:     runeLen(diffs[1]),
				PreLength:  runeLen(diffs[0]),
				PostLength: runeLen(diffs[2]),
				Segments:   3,
			}
		case diffmatchpatch.DiffDelete:
			return Edit{
				Shape:      DeleteInMiddle,
				Length:     runeLen(diffs[1]),
				PreLength:  runeLen(diffs[0]),
				PostLength: runeLen(diffs[2]),
				Segments:   3,
			}
		}
	}
	return narrow(diffs)
}

// narrow collapses a diff that is not one clean insertion or deletion into a
// single net change placed at the tail of the changed region, so spans
// before the region stay put and spans after it shift by the net delta.
func narrow(diffs []diffmatchpatch.Diff) Edit {
	first, last := -1, -1
	for i, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return Edit{Shape: Unchanged, Segments: len(diffs)}
	}

	start, total := 0, 0
	for i, d := range diffs {
		if d.Type == diffmatchpatch.DiffInsert {
			continue
		}
		if i < first {
			start += runeLen(d)
		}
		total += runeLen(d)
	}

	removed, added := 0, 0
	for _, d := range diffs[first : last+1] {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			removed += runeLen(d)
		case diffmatchpatch.DiffInsert:
			added += runeLen(d)
		default:
			removed += runeLen(d)
			added += runeLen(d)
		}
	}

	regionEnd := start + removed
	net := added - removed
	edit := Edit{Segments: len(diffs), Approximate: true, PostLength: total - regionEnd}
	switch {
	case net > 0:
		edit.Shape = InsertInMiddle
		edit.Length = net
		edit.PreLength = regionEnd
	case net < 0:
		edit.Shape = DeleteInMiddle
		edit.Length = -net
		edit.PreLength = regionEnd + net
	default:
		edit.Shape = Unchanged
		edit.PreLength = start
	}
	return edit
}

func runeLen(d diffmatchpatch.Diff) int {
	return utf8.RuneCountInString(d.Text)
}
