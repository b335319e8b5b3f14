package anchor

import "qualedit/internal/textdiff"

// Remap applies one classified edit to every live record and returns the
// updated copies in the same order. Invalidated records are left untouched.
func Remap(records []Record, edit textdiff.Edit) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	if edit.Length == 0 {
		return out
	}
	p := edit.Boundary()
	for i := range out {
		if out[i].Invalidated {
			continue
		}
		switch {
		case edit.IsInsert():
			remapInsert(&out[i], p, edit.Length)
		case edit.IsDelete():
			remapDelete(&out[i], p, edit.Length)
		}
	}
	return out
}

func remapInsert(r *Record, p, length int) {
	switch {
	case r.NewPos0 >= p:
		r.NewPos1 += length
		// A span anchored at the very start absorbs prepended text.
		if p == 0 && r.Pos0 == 0 {
			r.NewPos0 = 0
			return
		}
		r.NewPos0 += length
	case r.NewPos0 < p && p < r.NewPos1:
		r.NewPos1 += length
	}
}

// remapDelete handles removal of the run [p, p+length).
func remapDelete(r *Record, p, length int) {
	end := p + length
	switch {
	case r.NewPos0 >= end:
		r.NewPos0 -= length
		r.NewPos1 -= length
		if r.NewPos0 < 0 {
			r.NewPos0 = 0
		}
	case r.NewPos0 >= p && r.NewPos1 <= end:
		r.invalidate()
	case r.NewPos0 >= p:
		// Head of the span was removed.
		r.NewPos0 = p
		r.NewPos1 -= length
	case p < r.NewPos1:
		r.NewPos1 -= length
		if r.NewPos1 <= r.NewPos0 {
			r.invalidate()
			return
		}
		if r.NewPos1 < p {
			r.NewPos1 = p
		}
	}
}
