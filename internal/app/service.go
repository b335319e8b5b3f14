package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"qualedit/internal/config"
	"qualedit/internal/editing"
	"qualedit/internal/gitrepo"
	"qualedit/internal/search"
	"qualedit/internal/session"
	"qualedit/internal/shift"
	"qualedit/internal/store"
	"qualedit/internal/textdiff"
	"qualedit/internal/util"
)

const defaultAuthor = "qualedit"

// Store is everything the service reads and writes in the project database.
type Store interface {
	editing.Store
	shift.Store
	Ping(ctx context.Context) error
	InsertDocument(ctx context.Context, doc store.Document) (store.Document, error)
	GetDocument(ctx context.Context, documentID int64) (store.Document, error)
	InsertCoding(ctx context.Context, c store.Coding) (store.Coding, error)
	InsertAnnotation(ctx context.Context, a store.Annotation) (store.Annotation, error)
	InsertCaseText(ctx context.Context, c store.CaseText) (store.CaseText, error)
}

// Archiver keeps the revision history of document text.
type Archiver interface {
	Commit(documentID int64, text string, anchors []gitrepo.Anchor, author, message string) (gitrepo.Revision, error)
	History(documentID int64, limit int) ([]gitrepo.Revision, error)
	TextAt(documentID int64, hash string) (string, []gitrepo.Anchor, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg       config.Config
	store     Store
	snapshots session.Store
	editor    *editing.Manager
	shifter   *shift.Tool
	archive   Archiver
	search    *search.Service
	logger    *zap.Logger
}

// New wires the edit-session manager and the shift tool over one store. A
// nil archive disables revision history; a nil search service disables
// indexing.
func New(cfg config.Config, dataStore Store, snapshots session.Store, archive Archiver, searchService *search.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	editor := editing.NewManager(dataStore, snapshots, logger.Named("editing"))
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		snapshots: snapshots,
		editor:    editor,
		shifter:   shift.NewTool(dataStore, editor, logger.Named("shift"), cfg.ShiftDeltaMin, cfg.ShiftDeltaMax),
		archive:   archive,
		search:    searchService,
		logger:    logger,
	}
}

// Ping checks the project database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the session store when it has a remote backend.
func (s *Service) PingSessions(ctx context.Context) error {
	if p, ok := s.snapshots.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

type CreateDocumentInput struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Memo  string `json:"memo"`
	Owner string `json:"owner"`
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	doc, err := s.store.InsertDocument(ctx, store.Document{
		Name:     name,
		FullText: input.Text,
		Memo:     input.Memo,
		Owner:    ownerOrDefault(input.Owner),
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.archiveDocument(ctx, doc.ID, doc.FullText, doc.Owner, "Import "+doc.Name)
	s.search.SyncDocument(doc, nil, nil)
	return documentJSON(doc), nil
}

func (s *Service) GetDocument(ctx context.Context, documentID int64) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := documentJSON(doc)
	payload["editing"] = s.editor.IsEditing(documentID)
	return payload, nil
}

func (s *Service) BeginEdit(ctx context.Context, documentID int64) (editing.Handle, error) {
	return s.editor.BeginEdit(ctx, documentID)
}

func (s *Service) UpdateText(ctx context.Context, sessionID, text string) (textdiff.Edit, error) {
	return s.editor.OnTextChanged(ctx, sessionID, text)
}

func (s *Service) LivePositions(sessionID string) ([]editing.Position, error) {
	return s.editor.LivePositions(sessionID)
}

func (s *Service) DocumentPositions(ctx context.Context, documentID int64) ([]editing.Position, error) {
	if !s.editor.IsEditing(documentID) {
		if _, err := s.store.GetDocument(ctx, documentID); err != nil {
			return nil, err
		}
	}
	return s.editor.CurrentPositions(ctx, documentID)
}

// EndEdit commits or reverts the session, then archives and re-indexes the
// document. Archive and index failures are only logged.
func (s *Service) EndEdit(ctx context.Context, sessionID string, discard bool, author string) (editing.Result, error) {
	result, err := s.editor.EndEdit(ctx, sessionID, discard)
	if err != nil {
		return editing.Result{}, err
	}
	if !result.TextChanged && result.Updated == 0 && result.Deleted == 0 {
		return result, nil
	}

	if result.TextChanged {
		message := "Commit edit session " + result.SessionID
		if result.Discarded {
			message = "Revert edit session " + result.SessionID
		}
		s.archiveDocument(ctx, result.DocumentID, result.Text, ownerOrDefault(author), message)
	}
	s.syncSearch(ctx, result.DocumentID, result.DeletedCodings)
	return result, nil
}

func (s *Service) Revisions(ctx context.Context, documentID int64, limit int) ([]gitrepo.Revision, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []gitrepo.Revision{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	revisions, err := s.archive.History(documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("document history: %w", err)
	}
	return revisions, nil
}

// RevisionText is the archived state of a document at one revision.
type RevisionText struct {
	Hash    string           `json:"hash"`
	Text    string           `json:"text"`
	Anchors []gitrepo.Anchor `json:"anchors"`
}

// Revision returns the text and anchor ranges archived under hash.
func (s *Service) Revision(ctx context.Context, documentID int64, hash string) (RevisionText, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return RevisionText{}, err
	}
	if s.archive == nil {
		return RevisionText{}, fmt.Errorf("document %d: %w", documentID, gitrepo.ErrRevisionNotFound)
	}
	text, anchors, err := s.archive.TextAt(documentID, hash)
	if err != nil {
		return RevisionText{}, fmt.Errorf("document revision: %w", err)
	}
	if anchors == nil {
		anchors = []gitrepo.Anchor{}
	}
	return RevisionText{Hash: hash, Text: text, Anchors: anchors}, nil
}

type CreateCodingInput struct {
	CodeID    int64  `json:"cid"`
	Pos0      int    `json:"pos0"`
	Pos1      int    `json:"pos1"`
	Owner     string `json:"owner"`
	Memo      string `json:"memo"`
	Important bool   `json:"important"`
}

// CreateCoding codes a range of a document. It is refused while the
// document is being edited since the live ranges are not persisted yet.
func (s *Service) CreateCoding(ctx context.Context, documentID int64, input CreateCodingInput) (map[string]any, error) {
	if s.editor.IsEditing(documentID) {
		return nil, fmt.Errorf("document %d: %w", documentID, shift.ErrDocumentEditing)
	}
	text, err := s.store.LoadDocumentText(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := validateRange(input.Pos0, input.Pos1, util.CharLen(text)); err != nil {
		return nil, err
	}
	coding, err := s.store.InsertCoding(ctx, store.Coding{
		CodeID:    input.CodeID,
		FileID:    documentID,
		SelText:   util.Substring(text, input.Pos0, input.Pos1),
		Pos0:      input.Pos0,
		Pos1:      input.Pos1,
		Owner:     ownerOrDefault(input.Owner),
		Memo:      input.Memo,
		Important: input.Important,
	})
	if err != nil {
		return nil, err
	}
	s.syncSearch(ctx, documentID, nil)
	return codingJSON(coding), nil
}

type CreateAnnotationInput struct {
	Pos0  int    `json:"pos0"`
	Pos1  int    `json:"pos1"`
	Memo  string `json:"memo"`
	Owner string `json:"owner"`
}

func (s *Service) CreateAnnotation(ctx context.Context, documentID int64, input CreateAnnotationInput) (map[string]any, error) {
	if s.editor.IsEditing(documentID) {
		return nil, fmt.Errorf("document %d: %w", documentID, shift.ErrDocumentEditing)
	}
	text, err := s.store.LoadDocumentText(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := validateRange(input.Pos0, input.Pos1, util.CharLen(text)); err != nil {
		return nil, err
	}
	annotation, err := s.store.InsertAnnotation(ctx, store.Annotation{
		FileID: documentID,
		Pos0:   input.Pos0,
		Pos1:   input.Pos1,
		Memo:   input.Memo,
		Owner:  ownerOrDefault(input.Owner),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":    annotation.ID,
		"fid":   annotation.FileID,
		"pos0":  annotation.Pos0,
		"pos1":  annotation.Pos1,
		"memo":  annotation.Memo,
		"owner": annotation.Owner,
	}, nil
}

type CreateCaseTextInput struct {
	CaseID int64  `json:"caseid"`
	Pos0   int    `json:"pos0"`
	Pos1   int    `json:"pos1"`
	Owner  string `json:"owner"`
}

func (s *Service) CreateCaseText(ctx context.Context, documentID int64, input CreateCaseTextInput) (map[string]any, error) {
	if s.editor.IsEditing(documentID) {
		return nil, fmt.Errorf("document %d: %w", documentID, shift.ErrDocumentEditing)
	}
	text, err := s.store.LoadDocumentText(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := validateRange(input.Pos0, input.Pos1, util.CharLen(text)); err != nil {
		return nil, err
	}
	link, err := s.store.InsertCaseText(ctx, store.CaseText{
		CaseID: input.CaseID,
		FileID: documentID,
		Pos0:   input.Pos0,
		Pos1:   input.Pos1,
		Owner:  ownerOrDefault(input.Owner),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":     link.ID,
		"caseid": link.CaseID,
		"fid":    link.FileID,
		"pos0":   link.Pos0,
		"pos1":   link.Pos1,
		"owner":  link.Owner,
	}, nil
}

// ShiftPositions runs the direct shift tool. Per-row failures are reported
// alongside the number of rows that did move.
func (s *Service) ShiftPositions(ctx context.Context, documentID int64, ref, delta int) (map[string]any, error) {
	changed, err := s.shifter.ShiftPositionsAfter(ctx, documentID, ref, delta)
	if err != nil && changed == 0 {
		return nil, err
	}
	if changed > 0 {
		s.syncSearch(ctx, documentID, nil)
	}
	return shiftResult(changed, err), nil
}

func (s *Service) AdjustCoding(ctx context.Context, codingID int64, end string, delta int) (map[string]any, error) {
	which, err := shift.ParseEnd(end)
	if err != nil {
		return nil, err
	}
	coding, err := s.shifter.AdjustSinglePosition(ctx, codingID, which, delta)
	if err != nil {
		return nil, err
	}
	s.syncSearch(ctx, coding.FileID, nil)
	return codingJSON(coding), nil
}

func (s *Service) ResizeCodings(ctx context.Context, owner, end string, delta int) (map[string]any, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, validationError("owner is required", nil)
	}
	which, err := shift.ParseEnd(end)
	if err != nil {
		return nil, err
	}
	changed, err := s.shifter.ResizeOwnerCodings(ctx, owner, which, delta)
	if err != nil && changed == 0 {
		return nil, err
	}
	return shiftResult(changed, err), nil
}

func (s *Service) archiveDocument(ctx context.Context, documentID int64, text, author, message string) {
	if s.archive == nil {
		return
	}
	var anchors []gitrepo.Anchor
	loaded, err := s.store.LoadAnchors(ctx, documentID)
	if err != nil {
		s.logger.Warn("load anchors for archive", zap.Int64("document_id", documentID), zap.Error(err))
	} else {
		anchors = archiveAnchors(loaded)
	}
	revision, err := s.archive.Commit(documentID, text, anchors, author, message)
	switch {
	case errors.Is(err, gitrepo.ErrNoChanges):
		return
	case err != nil:
		s.logger.Error("archive document revision", zap.Int64("document_id", documentID), zap.Error(err))
		return
	}
	s.logger.Debug("archived document revision",
		zap.Int64("document_id", documentID),
		zap.String("hash", revision.Hash),
	)
}

func (s *Service) syncSearch(ctx context.Context, documentID int64, deletedCodings []int64) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		s.logger.Warn("load document for search", zap.Int64("document_id", documentID), zap.Error(err))
		return
	}
	codings, err := s.store.ListCodings(ctx, documentID)
	if err != nil {
		s.logger.Warn("list codings for search", zap.Int64("document_id", documentID), zap.Error(err))
		return
	}
	s.search.SyncDocument(doc, codings, deletedCodings)
}

func archiveAnchors(a store.Anchors) []gitrepo.Anchor {
	out := make([]gitrepo.Anchor, 0, a.Len())
	for _, c := range a.Codings {
		out = append(out, gitrepo.Anchor{Kind: store.KindCoding, ID: c.ID, Pos0: c.Pos0, Pos1: c.Pos1})
	}
	for _, an := range a.Annotations {
		out = append(out, gitrepo.Anchor{Kind: store.KindAnnotation, ID: an.ID, Pos0: an.Pos0, Pos1: an.Pos1})
	}
	for _, ct := range a.CaseTexts {
		out = append(out, gitrepo.Anchor{Kind: store.KindCaseText, ID: ct.ID, Pos0: ct.Pos0, Pos1: ct.Pos1})
	}
	return out
}

func validateRange(pos0, pos1, textLen int) error {
	if pos0 < 0 || pos1 <= pos0 || pos1 > textLen {
		return validationError("range must satisfy 0 <= pos0 < pos1 <= text length", map[string]any{
			"pos0":       pos0,
			"pos1":       pos1,
			"textLength": textLen,
		})
	}
	return nil
}

func shiftResult(changed int, err error) map[string]any {
	payload := map[string]any{"changed": changed}
	if err != nil {
		var messages []string
		for _, e := range multierr.Errors(err) {
			messages = append(messages, e.Error())
		}
		payload["errors"] = messages
	}
	return payload
}

func ownerOrDefault(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return defaultAuthor
	}
	return owner
}

func documentJSON(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":     doc.ID,
		"name":   doc.Name,
		"text":   doc.FullText,
		"length": util.CharLen(doc.FullText),
		"memo":   doc.Memo,
		"owner":  doc.Owner,
	}
	if !doc.CreatedAt.IsZero() {
		payload["createdAt"] = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func codingJSON(c store.Coding) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"cid":       c.CodeID,
		"fid":       c.FileID,
		"seltext":   c.SelText,
		"pos0":      c.Pos0,
		"pos1":      c.Pos1,
		"owner":     c.Owner,
		"memo":      c.Memo,
		"important": c.Important,
	}
}
