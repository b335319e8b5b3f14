package shift

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"qualedit/internal/store"
)

type fakeStore struct {
	texts    map[int64]string
	codings  map[int64]store.Coding
	updateFn func(codingID int64) error
	updates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{texts: map[int64]string{}, codings: map[int64]store.Coding{}}
}

func (f *fakeStore) LoadDocumentText(_ context.Context, documentID int64) (string, error) {
	text, ok := f.texts[documentID]
	if !ok {
		return "", store.ErrNotFound
	}
	return text, nil
}

func (f *fakeStore) ListCodings(_ context.Context, documentID int64) ([]store.Coding, error) {
	var out []store.Coding
	for id := int64(1); id <= int64(len(f.codings)); id++ {
		if c, ok := f.codings[id]; ok && c.FileID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOwnerCodings(_ context.Context, owner string) ([]store.Coding, error) {
	var out []store.Coding
	for id := int64(1); id <= int64(len(f.codings)); id++ {
		if c, ok := f.codings[id]; ok && c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCoding(_ context.Context, codingID int64) (store.Coding, error) {
	c, ok := f.codings[codingID]
	if !ok {
		return store.Coding{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) UpdateCodingPosition(_ context.Context, codingID int64, pos0, pos1 int, seltext string) error {
	if f.updateFn != nil {
		if err := f.updateFn(codingID); err != nil {
			return err
		}
	}
	c := f.codings[codingID]
	c.Pos0, c.Pos1, c.SelText = pos0, pos1, seltext
	f.codings[codingID] = c
	f.updates++
	return nil
}

type guardFunc func(int64) bool

func (g guardFunc) IsEditing(documentID int64) bool { return g(documentID) }

func notEditing(int64) bool { return false }

func hundredChars() string {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteByte(byte('a' + i%26))
	}
	return b.String()
}

func newTestTool(f *fakeStore, guard guardFunc) *Tool {
	return NewTool(f, guard, zap.NewNop(), -500, 500)
}

func TestShiftPositionsAfterConcreteScenario(t *testing.T) {
	f := newFakeStore()
	text := hundredChars()
	f.texts[1] = text
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: 50, Pos1: 60, SelText: text[50:60]}
	f.codings[2] = store.Coding{ID: 2, FileID: 1, Pos0: 10, Pos1: 20, SelText: text[10:20]}

	changed, err := newTestTool(f, notEditing).ShiftPositionsAfter(context.Background(), 1, 40, -5)
	if err != nil {
		t.Fatalf("ShiftPositionsAfter: %v", err)
	}
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	got := f.codings[1]
	if got.Pos0 != 45 || got.Pos1 != 55 || got.SelText != text[45:55] {
		t.Fatalf("coding = %+v", got)
	}
	if f.codings[2].Pos0 != 10 {
		t.Fatal("coding before the reference moved")
	}
}

func TestShiftPositionsAfterStrictlyAfterReference(t *testing.T) {
	f := newFakeStore()
	f.texts[1] = hundredChars()
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: 40, Pos1: 45}

	changed, err := newTestTool(f, notEditing).ShiftPositionsAfter(context.Background(), 1, 40, 3)
	if err != nil || changed != 0 {
		t.Fatalf("changed = %d, err = %v; coding at the reference must not move", changed, err)
	}
}

func TestShiftPositionsAfterSkipsOutOfBounds(t *testing.T) {
	f := newFakeStore()
	f.texts[1] = hundredChars()
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: 90, Pos1: 98}
	f.codings[2] = store.Coding{ID: 2, FileID: 1, Pos0: 60, Pos1: 70}

	changed, err := newTestTool(f, notEditing).ShiftPositionsAfter(context.Background(), 1, 50, 5)
	if err != nil {
		t.Fatalf("ShiftPositionsAfter: %v", err)
	}
	if changed != 1 || f.codings[1].Pos0 != 90 || f.codings[2].Pos0 != 65 {
		t.Fatalf("changed = %d, codings = %+v", changed, f.codings)
	}
}

func TestShiftPositionsAfterClampsDelta(t *testing.T) {
	f := newFakeStore()
	f.texts[1] = strings.Repeat("x", 2000)
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: 100, Pos1: 110}

	changed, err := newTestTool(f, notEditing).ShiftPositionsAfter(context.Background(), 1, 0, 9000)
	if err != nil || changed != 1 {
		t.Fatalf("changed = %d, err = %v", changed, err)
	}
	if f.codings[1].Pos0 != 600 {
		t.Fatalf("pos0 = %d, want 600", f.codings[1].Pos0)
	}

	changed, _ = newTestTool(f, notEditing).ShiftPositionsAfter(context.Background(), 1, 0, 0)
	if changed != 0 || f.updates != 1 {
		t.Fatal("zero delta should not write")
	}
}

func TestShiftPositionsAfterCollectsRowFailures(t *testing.T) {
	f := newFakeStore()
	f.texts[1] = hundredChars()
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: 50, Pos1: 60}
	f.codings[2] = store.Coding{ID: 2, FileID: 1, Pos0: 70, Pos1: 80}
	f.codings[3] = store.Coding{ID: 3, FileID: 1, Pos0: 85, Pos1: 90}
	f.updateFn = func(codingID int64) error {
		if codingID == 2 {
			return errors.New("locked")
		}
		return nil
	}

	changed, err := newTestTool(f, notEditing).ShiftPositionsAfter(context.Background(), 1, 40, 2)
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	if err == nil || len(multierr.Errors(err)) != 1 || !strings.Contains(err.Error(), "coding 2") {
		t.Fatalf("unexpected error %v", err)
	}
	if f.codings[3].Pos0 != 87 {
		t.Fatal("rows after a failure should still be written")
	}
}

func TestShiftRefusedWhileEditing(t *testing.T) {
	f := newFakeStore()
	f.texts[1] = hundredChars()
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: 50, Pos1: 60}
	tool := newTestTool(f, func(id int64) bool { return id == 1 })

	if _, err := tool.ShiftPositionsAfter(context.Background(), 1, 0, 1); !errors.Is(err, ErrDocumentEditing) {
		t.Fatalf("expected ErrDocumentEditing, got %v", err)
	}
	if _, err := tool.AdjustSinglePosition(context.Background(), 1, Start, 1); !errors.Is(err, ErrDocumentEditing) {
		t.Fatalf("expected ErrDocumentEditing, got %v", err)
	}
}

func TestAdjustSinglePosition(t *testing.T) {
	text := hundredChars()
	tests := []struct {
		name     string
		end      End
		delta    int
		pos0     int
		pos1     int
		wantPos0 int
		wantPos1 int
	}{
		{name: "extend start", end: Start, delta: -3, pos0: 10, pos1: 20, wantPos0: 7, wantPos1: 20},
		{name: "start clamps at zero", end: Start, delta: -30, pos0: 10, pos1: 20, wantPos0: 0, wantPos1: 20},
		{name: "start stays before end", end: Start, delta: 30, pos0: 10, pos1: 20, wantPos0: 19, wantPos1: 20},
		{name: "extend end", end: Stop, delta: 5, pos0: 10, pos1: 20, wantPos0: 10, wantPos1: 25},
		{name: "end clamps at text length", end: Stop, delta: 500, pos0: 10, pos1: 20, wantPos0: 10, wantPos1: 100},
		{name: "end stays after start", end: Stop, delta: -50, pos0: 10, pos1: 20, wantPos0: 10, wantPos1: 11},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeStore()
			f.texts[1] = text
			f.codings[1] = store.Coding{ID: 1, FileID: 1, Pos0: tc.pos0, Pos1: tc.pos1}

			got, err := newTestTool(f, notEditing).AdjustSinglePosition(context.Background(), 1, tc.end, tc.delta)
			if err != nil {
				t.Fatalf("AdjustSinglePosition: %v", err)
			}
			if got.Pos0 != tc.wantPos0 || got.Pos1 != tc.wantPos1 {
				t.Fatalf("got %d..%d, want %d..%d", got.Pos0, got.Pos1, tc.wantPos0, tc.wantPos1)
			}
			if got.SelText != text[tc.wantPos0:tc.wantPos1] {
				t.Fatalf("seltext = %q", got.SelText)
			}
			if f.codings[1] != got {
				t.Fatalf("stored %+v, returned %+v", f.codings[1], got)
			}
		})
	}
}

func TestAdjustSinglePositionErrors(t *testing.T) {
	f := newFakeStore()
	tool := newTestTool(f, notEditing)

	if _, err := tool.AdjustSinglePosition(context.Background(), 9, Start, 1); !errors.Is(err, ErrCodingNotFound) {
		t.Fatalf("expected ErrCodingNotFound, got %v", err)
	}
	if _, err := tool.AdjustSinglePosition(context.Background(), 9, End("middle"), 1); !errors.Is(err, ErrInvalidEnd) {
		t.Fatalf("expected ErrInvalidEnd, got %v", err)
	}
	if _, err := ParseEnd(" END "); err != nil {
		t.Fatalf("ParseEnd: %v", err)
	}
}

func TestResizeOwnerCodings(t *testing.T) {
	f := newFakeStore()
	f.texts[1] = hundredChars()
	f.texts[2] = "short text"
	f.codings[1] = store.Coding{ID: 1, FileID: 1, Owner: "alice", Pos0: 10, Pos1: 20}
	f.codings[2] = store.Coding{ID: 2, FileID: 2, Owner: "alice", Pos0: 1, Pos1: 5}
	f.codings[3] = store.Coding{ID: 3, FileID: 1, Owner: "bob", Pos0: 10, Pos1: 20}
	f.codings[4] = store.Coding{ID: 4, FileID: 3, Owner: "alice", Pos0: 0, Pos1: 2}
	f.texts[3] = "being edited"
	tool := newTestTool(f, func(id int64) bool { return id == 3 })

	changed, err := tool.ResizeOwnerCodings(context.Background(), "alice", Start, 3)
	if err != nil {
		t.Fatalf("ResizeOwnerCodings: %v", err)
	}
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	if f.codings[1].Pos0 != 7 || f.codings[2].Pos0 != 0 || f.codings[2].SelText != "short" {
		t.Fatalf("unexpected codings %+v", f.codings)
	}
	if f.codings[3].Pos0 != 10 || f.codings[4].Pos0 != 0 {
		t.Fatal("other coder or edited document touched")
	}

	changed, err = tool.ResizeOwnerCodings(context.Background(), "alice", Stop, 10)
	if err != nil {
		t.Fatalf("ResizeOwnerCodings(end): %v", err)
	}
	if changed != 2 || f.codings[1].Pos1 != 30 || f.codings[2].Pos1 != 10 {
		t.Fatalf("changed = %d, codings = %+v", changed, f.codings)
	}
}
