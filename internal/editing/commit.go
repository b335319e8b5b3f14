package editing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"qualedit/internal/anchor"
	"qualedit/internal/session"
	"qualedit/internal/store"
	"qualedit/internal/util"
)

type plan struct {
	updates []store.PositionUpdate
	deletes []anchor.Key
	notes   []store.CodingNotes
}

type spanKey struct {
	group      codingGroup
	pos0, pos1 int
}

// finalSpan returns where a record lands in a text of finalLen characters.
// ok is false when the record no longer covers anything.
func finalSpan(r anchor.Record, finalLen int) (pos0, pos1 int, ok bool) {
	if r.Invalidated {
		return 0, 0, false
	}
	if !r.Moved() {
		return r.Pos0, r.Pos1, true
	}
	pos0, pos1 = r.NewPos0, r.NewPos1
	if pos1 > finalLen {
		pos1 = finalLen
	}
	if pos0 < 0 {
		pos0 = 0
	}
	return pos0, pos1, pos1 > pos0
}

// planCommit decides the writes for the final text. Records that did not move
// are left alone unless the text they cover changed. Codings of the same code
// and coder that end on one range collapse into the lowest id, which takes
// over the memos of the others.
func planCommit(live *liveSession, final string) plan {
	finalLen := util.CharLen(final)
	textChanged := final != live.snapshot.Text
	var p plan

	keeper := make(map[spanKey]int64)
	touched := make(map[spanKey]bool)
	for _, r := range live.records {
		if r.Key.Kind != anchor.KindCoding {
			continue
		}
		pos0, pos1, ok := finalSpan(r, finalLen)
		if !ok {
			continue
		}
		k := spanKey{live.codings[r.Key.ID], pos0, pos1}
		if id, seen := keeper[k]; !seen || r.Key.ID < id {
			keeper[k] = r.Key.ID
		}
		if r.Moved() {
			touched[k] = true
		}
	}

	absorbed := make(map[int64][]int64)
	for _, r := range live.records {
		pos0, pos1, ok := finalSpan(r, finalLen)
		if !ok {
			p.deletes = append(p.deletes, r.Key)
			continue
		}
		if r.Key.Kind != anchor.KindCoding {
			if r.Moved() {
				p.updates = append(p.updates, positionUpdate(r.Key, pos0, pos1, ""))
			}
			continue
		}

		// Only ranges an edit moved a coding onto are merged.
		k := spanKey{live.codings[r.Key.ID], pos0, pos1}
		if id := keeper[k]; touched[k] && id != r.Key.ID {
			p.deletes = append(p.deletes, r.Key)
			absorbed[id] = append(absorbed[id], r.Key.ID)
			continue
		}
		seltext := util.Substring(final, pos0, pos1)
		if r.Moved() || (textChanged && seltext != r.SelText) {
			p.updates = append(p.updates, positionUpdate(r.Key, pos0, pos1, seltext))
		}
	}

	for _, r := range live.records {
		merged, ok := absorbed[r.Key.ID]
		if r.Key.Kind != anchor.KindCoding || !ok {
			continue
		}
		if notes, changed := mergeNotes(live.notes, r.Key.ID, merged); changed {
			p.notes = append(p.notes, notes)
		}
	}
	return p
}

// mergeNotes folds the memos and importance of merged into the kept coding.
func mergeNotes(notes map[int64]codingNote, kept int64, merged []int64) (store.CodingNotes, bool) {
	base := notes[kept]
	out := store.CodingNotes{ID: kept, Memo: base.memo, Important: base.important}
	slices.Sort(merged)
	for _, id := range merged {
		n := notes[id]
		out.Important = out.Important || n.important
		if n.memo == "" || strings.Contains(out.Memo, n.memo) {
			continue
		}
		if out.Memo != "" {
			out.Memo += "\n"
		}
		out.Memo += n.memo
	}
	return out, out.Memo != base.memo || out.Important != base.important
}

func positionUpdate(key anchor.Key, pos0, pos1 int, seltext string) store.PositionUpdate {
	return store.PositionUpdate{Kind: string(key.Kind), ID: key.ID, Pos0: pos0, Pos1: pos1, SelText: seltext}
}

func (m *Manager) commit(ctx context.Context, live *liveSession) (Result, error) {
	final := live.prevText
	textChanged := final != live.snapshot.Text
	p := planCommit(live, final)
	documentID := live.handle.DocumentID

	err := m.store.RunInTx(ctx, func(w store.Writer) error {
		for _, key := range p.deletes {
			if err := w.DeleteEntity(ctx, string(key.Kind), key.ID); err != nil {
				return err
			}
		}
		for _, update := range p.updates {
			if err := w.UpdatePosition(ctx, update); err != nil {
				return err
			}
		}
		for _, notes := range p.notes {
			if err := w.UpdateCodingNotes(ctx, notes); err != nil {
				return err
			}
		}
		if textChanged {
			return w.UpdateDocumentText(ctx, documentID, final)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: commit document %d: %w", ErrStorage, documentID, err)
	}

	var deletedCodings []int64
	for _, key := range p.deletes {
		if key.Kind == anchor.KindCoding {
			deletedCodings = append(deletedCodings, key.ID)
		}
	}
	return Result{
		SessionID:      live.handle.SessionID,
		DocumentID:     documentID,
		Updated:        len(p.updates),
		Deleted:        len(p.deletes),
		TextChanged:    textChanged,
		Text:           final,
		DeletedCodings: deletedCodings,
	}, nil
}

func (m *Manager) revert(ctx context.Context, live *liveSession) (Result, error) {
	snap, err := m.snapshots.Load(ctx, live.handle.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		m.logger.Warn("snapshot missing from session store, reverting from memory",
			zap.String("session_id", live.handle.SessionID))
		snap = live.snapshot
	case err != nil:
		return Result{}, fmt.Errorf("%w: load snapshot: %w", ErrStorage, err)
	}

	restored := 0
	err = m.store.RunInTx(ctx, func(w store.Writer) error {
		for _, entry := range snap.Entries {
			err := w.UpdatePosition(ctx, store.PositionUpdate{
				Kind:    entry.Kind,
				ID:      entry.ID,
				Pos0:    entry.Pos0,
				Pos1:    entry.Pos1,
				SelText: entry.SelText,
			})
			if errors.Is(err, store.ErrNotFound) {
				// Removed outside the session; nothing to restore.
				continue
			}
			if err != nil {
				return err
			}
			restored++
		}
		return w.UpdateDocumentText(ctx, snap.DocumentID, snap.Text)
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: revert document %d: %w", ErrStorage, snap.DocumentID, err)
	}

	return Result{
		SessionID:   live.handle.SessionID,
		DocumentID:  snap.DocumentID,
		Discarded:   true,
		Updated:     restored,
		TextChanged: live.prevText != snap.Text,
		Text:        snap.Text,
	}, nil
}
