package editing

import (
	"context"
	"fmt"
	"sort"

	"qualedit/internal/anchor"
	"qualedit/internal/store"
)

// Position is where the UI should draw one anchored range.
type Position struct {
	Kind anchor.Kind `json:"kind"`
	ID   int64       `json:"id"`
	Pos0 int         `json:"pos0"`
	Pos1 int         `json:"pos1"`
}

// LivePositions returns the tracked ranges of the open session, without the
// ones scheduled for deletion.
func (m *Manager) LivePositions(sessionID string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	return livePositions(live.records), nil
}

// CurrentPositions answers for any document: live ranges while it is being
// edited, persisted ranges otherwise.
func (m *Manager) CurrentPositions(ctx context.Context, documentID int64) ([]Position, error) {
	m.mu.Lock()
	if m.active != nil && m.active.handle.DocumentID == documentID {
		positions := livePositions(m.active.records)
		m.mu.Unlock()
		return positions, nil
	}
	m.mu.Unlock()

	anchors, err := m.store.LoadAnchors(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load anchors: %w", err)
	}
	return persistedPositions(anchors), nil
}

func livePositions(records []anchor.Record) []Position {
	positions := make([]Position, 0, len(records))
	for _, r := range records {
		if r.Invalidated {
			continue
		}
		positions = append(positions, Position{Kind: r.Key.Kind, ID: r.Key.ID, Pos0: r.NewPos0, Pos1: r.NewPos1})
	}
	sortPositions(positions)
	return positions
}

func persistedPositions(anchors store.Anchors) []Position {
	positions := make([]Position, 0, anchors.Len())
	for _, c := range anchors.Codings {
		positions = append(positions, Position{Kind: anchor.KindCoding, ID: c.ID, Pos0: c.Pos0, Pos1: c.Pos1})
	}
	for _, a := range anchors.Annotations {
		positions = append(positions, Position{Kind: anchor.KindAnnotation, ID: a.ID, Pos0: a.Pos0, Pos1: a.Pos1})
	}
	for _, ct := range anchors.CaseTexts {
		positions = append(positions, Position{Kind: anchor.KindCaseText, ID: ct.ID, Pos0: ct.Pos0, Pos1: ct.Pos1})
	}
	sortPositions(positions)
	return positions
}

func sortPositions(positions []Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].Kind != positions[j].Kind {
			return positions[i].Kind < positions[j].Kind
		}
		return positions[i].ID < positions[j].ID
	})
}
