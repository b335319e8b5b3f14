// Package shift applies manual corrections to stored coding positions
// outside of a live edit session.
package shift

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"qualedit/internal/store"
	"qualedit/internal/util"
)

var (
	ErrCodingNotFound  = errors.New("coding not found")
	ErrDocumentEditing = errors.New("document is being edited")
	ErrInvalidEnd      = errors.New("end must be start or end")
)

// End selects which boundary of a coding an adjustment moves.
type End string

const (
	Start End = "start"
	Stop  End = "end"
)

func ParseEnd(value string) (End, error) {
	switch End(strings.ToLower(strings.TrimSpace(value))) {
	case Start:
		return Start, nil
	case Stop:
		return Stop, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEnd, value)
	}
}

type Store interface {
	LoadDocumentText(ctx context.Context, documentID int64) (string, error)
	ListCodings(ctx context.Context, documentID int64) ([]store.Coding, error)
	ListOwnerCodings(ctx context.Context, owner string) ([]store.Coding, error)
	GetCoding(ctx context.Context, codingID int64) (store.Coding, error)
	UpdateCodingPosition(ctx context.Context, codingID int64, pos0, pos1 int, seltext string) error
}

// EditGuard reports whether a document has an open live edit session.
type EditGuard interface {
	IsEditing(documentID int64) bool
}

type Tool struct {
	store    Store
	guard    EditGuard
	logger   *zap.Logger
	minDelta int
	maxDelta int
}

func NewTool(dataStore Store, guard EditGuard, logger *zap.Logger, minDelta, maxDelta int) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minDelta > maxDelta {
		minDelta, maxDelta = maxDelta, minDelta
	}
	return &Tool{store: dataStore, guard: guard, logger: logger, minDelta: minDelta, maxDelta: maxDelta}
}

func (t *Tool) clampDelta(delta int) int {
	return min(max(delta, t.minDelta), t.maxDelta)
}

func (t *Tool) checkNotEditing(documentID int64) error {
	if t.guard != nil && t.guard.IsEditing(documentID) {
		return fmt.Errorf("document %d: %w", documentID, ErrDocumentEditing)
	}
	return nil
}

// ShiftPositionsAfter moves every coding of the document that starts after
// ref by delta and returns how many rows were written. Codings that would
// leave the text are skipped. Each row is written on its own; failures are
// collected and the rest still run.
func (t *Tool) ShiftPositionsAfter(ctx context.Context, documentID int64, ref, delta int) (int, error) {
	if err := t.checkNotEditing(documentID); err != nil {
		return 0, err
	}
	delta = t.clampDelta(delta)
	if delta == 0 {
		return 0, nil
	}

	text, err := t.store.LoadDocumentText(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("load document text: %w", err)
	}
	codings, err := t.store.ListCodings(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("list codings: %w", err)
	}

	textLen := util.CharLen(text)
	changed := 0
	var errs error
	for _, c := range codings {
		if c.Pos0 <= ref {
			continue
		}
		pos0, pos1 := c.Pos0+delta, c.Pos1+delta
		if pos0 < 0 || pos1 > textLen {
			t.logger.Debug("shift skips coding outside text",
				zap.Int64("coding_id", c.ID), zap.Int("pos0", pos0), zap.Int("pos1", pos1))
			continue
		}
		seltext := util.Substring(text, pos0, pos1)
		if err := t.store.UpdateCodingPosition(ctx, c.ID, pos0, pos1, seltext); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("coding %d: %w", c.ID, err))
			continue
		}
		changed++
	}

	t.logger.Info("shifted coding positions",
		zap.Int64("document_id", documentID),
		zap.Int("reference", ref),
		zap.Int("delta", delta),
		zap.Int("changed", changed),
		zap.Int("failed", len(multierr.Errors(errs))),
	)
	return changed, errs
}

// AdjustSinglePosition moves one boundary of a coding by delta, clamped so
// the coding stays non-empty and inside the text.
func (t *Tool) AdjustSinglePosition(ctx context.Context, codingID int64, end End, delta int) (store.Coding, error) {
	if end != Start && end != Stop {
		return store.Coding{}, fmt.Errorf("%w: %q", ErrInvalidEnd, end)
	}
	c, err := t.store.GetCoding(ctx, codingID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Coding{}, fmt.Errorf("coding %d: %w", codingID, ErrCodingNotFound)
	}
	if err != nil {
		return store.Coding{}, fmt.Errorf("get coding: %w", err)
	}
	if err := t.checkNotEditing(c.FileID); err != nil {
		return store.Coding{}, err
	}

	text, err := t.store.LoadDocumentText(ctx, c.FileID)
	if err != nil {
		return store.Coding{}, fmt.Errorf("load document text: %w", err)
	}

	pos0, pos1 := resize(c.Pos0, c.Pos1, end, delta, util.CharLen(text))
	if pos0 == c.Pos0 && pos1 == c.Pos1 {
		return c, nil
	}
	c.Pos0, c.Pos1 = pos0, pos1
	c.SelText = util.Substring(text, pos0, pos1)
	if err := t.store.UpdateCodingPosition(ctx, c.ID, c.Pos0, c.Pos1, c.SelText); err != nil {
		return store.Coding{}, fmt.Errorf("update coding %d: %w", c.ID, err)
	}
	return c, nil
}

// ResizeOwnerCodings widens (positive delta) or narrows every coding made
// by owner in every document: starts move left by delta, ends move right.
// Documents with an open edit session are left out.
func (t *Tool) ResizeOwnerCodings(ctx context.Context, owner string, end End, delta int) (int, error) {
	if end != Start && end != Stop {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEnd, end)
	}
	delta = t.clampDelta(delta)
	if delta == 0 {
		return 0, nil
	}

	codings, err := t.store.ListOwnerCodings(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list owner codings: %w", err)
	}

	texts := make(map[int64]string)
	changed := 0
	var errs error
	for _, c := range codings {
		if t.checkNotEditing(c.FileID) != nil {
			continue
		}
		text, ok := texts[c.FileID]
		if !ok {
			text, err = t.store.LoadDocumentText(ctx, c.FileID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("document %d: %w", c.FileID, err))
				continue
			}
			texts[c.FileID] = text
		}

		move := delta
		if end == Start {
			move = -delta
		}
		pos0, pos1 := resize(c.Pos0, c.Pos1, end, move, util.CharLen(text))
		if pos0 == c.Pos0 && pos1 == c.Pos1 {
			continue
		}
		if err := t.store.UpdateCodingPosition(ctx, c.ID, pos0, pos1, util.Substring(text, pos0, pos1)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("coding %d: %w", c.ID, err))
			continue
		}
		changed++
	}

	t.logger.Info("resized coder codings",
		zap.String("owner", owner),
		zap.String("end", string(end)),
		zap.Int("delta", delta),
		zap.Int("changed", changed),
	)
	return changed, errs
}

// resize moves one boundary and clamps it to 0 <= pos0 < pos1 <= textLen.
// A coding that cannot satisfy the bounds is returned unchanged.
func resize(pos0, pos1 int, end End, delta, textLen int) (int, int) {
	n0, n1 := pos0, pos1
	if end == Start {
		n0 = min(max(pos0+delta, 0), pos1-1)
	} else {
		n1 = min(max(pos1+delta, pos0+1), textLen)
	}
	if n0 < 0 || n1 <= n0 {
		return pos0, pos1
	}
	return n0, n1
}
