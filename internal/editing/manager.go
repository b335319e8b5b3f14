// Package editing runs live edit sessions: it keeps every anchored range of
// the edited document in step with the text and persists the result as one
// transaction when the session ends.
package editing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"qualedit/internal/anchor"
	"qualedit/internal/session"
	"qualedit/internal/store"
	"qualedit/internal/textdiff"
	"qualedit/internal/util"
)

// Store is the persistence the manager needs.
type Store interface {
	LoadDocumentText(ctx context.Context, documentID int64) (string, error)
	LoadAnchors(ctx context.Context, documentID int64) (store.Anchors, error)
	RunInTx(ctx context.Context, fn func(store.Writer) error) error
}

// Handle identifies an open edit session.
type Handle struct {
	SessionID  string    `json:"session_id"`
	DocumentID int64     `json:"document_id"`
	Anchors    int       `json:"anchors"`
	FastPath   bool      `json:"fast_path"`
	StartedAt  time.Time `json:"started_at"`
}

// Result summarizes how a session ended.
type Result struct {
	SessionID   string `json:"session_id"`
	DocumentID  int64  `json:"document_id"`
	Discarded   bool   `json:"discarded"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	TextChanged bool   `json:"text_changed"`
	Text        string `json:"-"`

	// DeletedCodings lists the coding ids removed by a commit.
	DeletedCodings []int64 `json:"deleted_codings,omitempty"`
}

type codingGroup struct {
	codeID int64
	owner  string
}

type codingNote struct {
	memo      string
	important bool
}

type liveSession struct {
	handle   Handle
	snapshot session.Snapshot
	prevText string
	records  []anchor.Record
	codings  map[int64]codingGroup
	notes    map[int64]codingNote
	edits    int
}

// Manager owns the one live edit session of the process.
type Manager struct {
	store      Store
	snapshots  session.Store
	logger     *zap.Logger
	classifier *textdiff.Classifier
	remap      func([]anchor.Record, textdiff.Edit) []anchor.Record
	now        func() time.Time

	mu     sync.Mutex
	active *liveSession
	// staleLock is a session whose lock could not be released.
	staleLock string
}

func NewManager(dataStore Store, snapshots session.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      dataStore,
		snapshots:  snapshots,
		logger:     logger,
		classifier: textdiff.NewClassifier(),
		remap:      anchor.Remap,
		now:        time.Now,
	}
}

// BeginEdit snapshots the document and starts tracking its anchors.
func (m *Manager) BeginEdit(ctx context.Context, documentID int64) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return Handle{}, fmt.Errorf("begin edit of document %d: %w (document %d)", documentID, ErrAlreadyEditing, m.active.handle.DocumentID)
	}
	if m.staleLock != "" {
		if err := m.snapshots.Release(ctx, m.staleLock); err != nil {
			return Handle{}, fmt.Errorf("begin edit of document %d: %w: %w", documentID, ErrStaleLock, err)
		}
		m.logger.Info("stale edit lock released", zap.String("session_id", m.staleLock))
		m.staleLock = ""
	}

	text, err := m.store.LoadDocumentText(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return Handle{}, fmt.Errorf("begin edit of document %d: %w", documentID, ErrDocumentNotFound)
	}
	if err != nil {
		return Handle{}, fmt.Errorf("load document text: %w", err)
	}
	anchors, err := m.store.LoadAnchors(ctx, documentID)
	if err != nil {
		return Handle{}, fmt.Errorf("load anchors: %w", err)
	}

	live := &liveSession{
		prevText: text,
		records:  make([]anchor.Record, 0, anchors.Len()),
		codings:  make(map[int64]codingGroup, len(anchors.Codings)),
		notes:    make(map[int64]codingNote, len(anchors.Codings)),
	}
	entries := make([]session.Entry, 0, anchors.Len())
	track := func(kind anchor.Kind, id int64, pos0, pos1 int, seltext string) {
		live.records = append(live.records, anchor.NewRecord(anchor.Key{Kind: kind, ID: id}, pos0, pos1, seltext))
		entries = append(entries, session.Entry{Kind: string(kind), ID: id, Pos0: pos0, Pos1: pos1, SelText: seltext})
	}
	for _, c := range anchors.Codings {
		track(anchor.KindCoding, c.ID, c.Pos0, c.Pos1, c.SelText)
		live.codings[c.ID] = codingGroup{codeID: c.CodeID, owner: c.Owner}
		live.notes[c.ID] = codingNote{memo: c.Memo, important: c.Important}
	}
	for _, a := range anchors.Annotations {
		track(anchor.KindAnnotation, a.ID, a.Pos0, a.Pos1, "")
	}
	for _, ct := range anchors.CaseTexts {
		track(anchor.KindCaseText, ct.ID, ct.Pos0, ct.Pos1, "")
	}

	live.handle = Handle{
		SessionID:  util.NewID("edit"),
		DocumentID: documentID,
		Anchors:    len(live.records),
		FastPath:   len(live.records) == 0,
		StartedAt:  m.now().UTC(),
	}
	live.snapshot = session.Snapshot{
		SessionID:  live.handle.SessionID,
		DocumentID: documentID,
		Text:       text,
		Entries:    entries,
		StartedAt:  live.handle.StartedAt,
	}

	if err := m.snapshots.Acquire(ctx, live.snapshot); err != nil {
		if errors.Is(err, session.ErrLocked) {
			if holder, err := m.snapshots.Active(ctx); err == nil {
				return Handle{}, fmt.Errorf("begin edit of document %d: %w (document %d)", documentID, ErrAlreadyEditing, holder.DocumentID)
			}
			return Handle{}, fmt.Errorf("begin edit of document %d: %w", documentID, ErrAlreadyEditing)
		}
		return Handle{}, fmt.Errorf("save snapshot: %w", err)
	}

	m.active = live
	m.logger.Info("edit session started",
		zap.String("session_id", live.handle.SessionID),
		zap.Int64("document_id", documentID),
		zap.Int("anchors", live.handle.Anchors),
		zap.Bool("fast_path", live.handle.FastPath),
	)
	return live.handle, nil
}

// OnTextChanged feeds one atomic text mutation into the session. It must be
// called once per mutation, in order.
func (m *Manager) OnTextChanged(ctx context.Context, sessionID, text string) (textdiff.Edit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, err := m.session(sessionID)
	if err != nil {
		return textdiff.Edit{}, err
	}
	if text == live.prevText {
		return textdiff.Edit{Shape: textdiff.Unchanged, Segments: 1}, nil
	}

	edit := m.classifier.Classify(live.prevText, text)
	if edit.Approximate {
		m.logger.Warn("ambiguous edit shape narrowed",
			zap.String("session_id", sessionID),
			zap.Int("segments", edit.Segments),
			zap.Stringer("shape", edit.Shape),
			zap.Int("length", edit.Length),
		)
	}
	if !live.handle.FastPath {
		live.records = m.remap(live.records, edit)
	}
	live.prevText = text
	live.edits++

	if err := m.snapshots.Touch(ctx, sessionID); err != nil {
		m.logger.Warn("extend edit lock", zap.String("session_id", sessionID), zap.Error(err))
	}
	return edit, nil
}

// EndEdit commits the session, or reverts it when discard is set. A storage
// failure leaves the session open so the edits are not lost.
func (m *Manager) EndEdit(ctx context.Context, sessionID string, discard bool) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, err := m.session(sessionID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = m.holdLock(ctx, live)
	if errors.Is(err, ErrLockLost) {
		m.active = nil
		m.logger.Error("edit lock lost, session dropped",
			zap.String("session_id", sessionID),
			zap.Int64("document_id", live.handle.DocumentID),
			zap.Int("edits", live.edits),
			zap.Error(err),
		)
		return Result{}, err
	}
	if err == nil {
		if discard {
			result, err = m.revert(ctx, live)
		} else {
			result, err = m.commit(ctx, live)
		}
	}
	if err != nil {
		m.logger.Error("end edit session",
			zap.String("session_id", sessionID),
			zap.Int64("document_id", live.handle.DocumentID),
			zap.Bool("discard", discard),
			zap.Error(err),
		)
		return Result{}, err
	}

	m.releaseLock(ctx, sessionID)
	m.active = nil

	msg := "edit session committed"
	if discard {
		msg = "edit session reverted"
	}
	m.logger.Info(msg,
		zap.String("session_id", sessionID),
		zap.Int64("document_id", result.DocumentID),
		zap.Int("edits", live.edits),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Bool("text_changed", result.TextChanged),
	)
	return result, nil
}

// holdLock checks that live still owns the edit lock before anything is
// written. A lock that expired unclaimed is taken back.
func (m *Manager) holdLock(ctx context.Context, live *liveSession) error {
	sessionID := live.handle.SessionID
	err := m.snapshots.Touch(ctx, sessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: check edit lock: %w", ErrStorage, err)
	}

	holder, err := m.snapshots.Active(ctx)
	switch {
	case err == nil:
		return fmt.Errorf("session %q: %w (held by session %q on document %d)", sessionID, ErrLockLost, holder.SessionID, holder.DocumentID)
	case !errors.Is(err, session.ErrNotFound):
		return fmt.Errorf("%w: check edit lock: %w", ErrStorage, err)
	}

	err = m.snapshots.Acquire(ctx, live.snapshot)
	if errors.Is(err, session.ErrLocked) {
		return fmt.Errorf("session %q: %w", sessionID, ErrLockLost)
	}
	if err != nil {
		return fmt.Errorf("%w: reacquire edit lock: %w", ErrStorage, err)
	}
	m.logger.Warn("edit lock expired, reacquired", zap.String("session_id", sessionID))
	return nil
}

// releaseLock frees the edit lock, retrying once. A lock that still cannot be
// released is remembered and retried by the next BeginEdit.
func (m *Manager) releaseLock(ctx context.Context, sessionID string) {
	err := m.snapshots.Release(ctx, sessionID)
	if err == nil {
		return
	}
	m.logger.Warn("release edit lock, retrying", zap.String("session_id", sessionID), zap.Error(err))
	if err = m.snapshots.Release(ctx, sessionID); err == nil {
		return
	}
	m.staleLock = sessionID
	m.logger.Error("release edit lock", zap.String("session_id", sessionID), zap.Error(err))
}

// Active returns the handle of the open session, if any.
func (m *Manager) Active() (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Handle{}, false
	}
	return m.active.handle, true
}

func (m *Manager) IsEditing(documentID int64) bool {
	handle, ok := m.Active()
	return ok && handle.DocumentID == documentID
}

func (m *Manager) session(sessionID string) (*liveSession, error) {
	if m.active == nil || m.active.handle.SessionID != sessionID {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNoActiveSession)
	}
	return m.active, nil
}
