package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ncruces/go-sqlite3"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateEntity = errors.New("duplicate entity")
)

// Entity kinds as stored in PositionUpdate.Kind and accepted by DeleteEntity.
const (
	KindCoding     = "coding"
	KindAnnotation = "annotation"
	KindCaseText   = "case_text"
)

type table struct {
	name string
	id   string
}

func tableFor(kind string) (table, error) {
	switch kind {
	case KindCoding:
		return table{name: "code_text", id: "ctid"}, nil
	case KindAnnotation:
		return table{name: "annotation", id: "anid"}, nil
	case KindCaseText:
		return table{name: "case_text", id: "id"}, nil
	default:
		return table{}, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// Writer is the set of mutations allowed inside RunInTx.
type Writer interface {
	UpdatePosition(ctx context.Context, update PositionUpdate) error
	DeleteEntity(ctx context.Context, kind string, id int64) error
	UpdateDocumentText(ctx context.Context, documentID int64, text string) error
	UpdateCodingNotes(ctx context.Context, notes CodingNotes) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

// RunInTx executes fn inside one transaction. Any error from fn rolls back
// every write it made.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txWriter{tx: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO source (name, fulltext, memo, owner)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), doc.Name, doc.FullText, doc.Memo, doc.Owner).Scan(&doc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Document{}, fmt.Errorf("insert document %q: %w", doc.Name, ErrDuplicateEntity)
		}
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) GetDocument(ctx context.Context, documentID int64) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, fulltext, memo, owner FROM source WHERE id=?`), documentID).
		Scan(&doc.ID, &doc.Name, &doc.FullText, &doc.Memo, &doc.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %d: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) LoadDocumentText(ctx context.Context, documentID int64) (string, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	return doc.FullText, nil
}

// LoadAnchors returns every coding, annotation and case link of a document.
func (s *SQLStore) LoadAnchors(ctx context.Context, documentID int64) (Anchors, error) {
	codings, err := s.ListCodings(ctx, documentID)
	if err != nil {
		return Anchors{}, err
	}
	annotations, err := s.ListAnnotations(ctx, documentID)
	if err != nil {
		return Anchors{}, err
	}
	caseTexts, err := s.ListCaseTexts(ctx, documentID)
	if err != nil {
		return Anchors{}, err
	}
	return Anchors{Codings: codings, Annotations: annotations, CaseTexts: caseTexts}, nil
}

const codingColumns = `ctid, cid, fid, seltext, pos0, pos1, owner, memo, important`

func scanCoding(scanner interface{ Scan(...any) error }) (Coding, error) {
	var c Coding
	err := scanner.Scan(&c.ID, &c.CodeID, &c.FileID, &c.SelText, &c.Pos0, &c.Pos1, &c.Owner, &c.Memo, &c.Important)
	return c, err
}

func (s *SQLStore) listCodings(ctx context.Context, where string, arg any) ([]Coding, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+codingColumns+` FROM code_text WHERE `+where+` ORDER BY pos0, ctid`), arg)
	if err != nil {
		return nil, fmt.Errorf("list codings: %w", err)
	}
	defer rows.Close()

	items := make([]Coding, 0)
	for rows.Next() {
		item, err := scanCoding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coding: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) ListCodings(ctx context.Context, documentID int64) ([]Coding, error) {
	return s.listCodings(ctx, `fid=?`, documentID)
}

func (s *SQLStore) ListOwnerCodings(ctx context.Context, owner string) ([]Coding, error) {
	return s.listCodings(ctx, `owner=?`, owner)
}

func (s *SQLStore) GetCoding(ctx context.Context, codingID int64) (Coding, error) {
	item, err := scanCoding(s.db.QueryRowContext(ctx, s.q(`SELECT `+codingColumns+` FROM code_text WHERE ctid=?`), codingID))
	if errors.Is(err, sql.ErrNoRows) {
		return Coding{}, fmt.Errorf("coding %d: %w", codingID, ErrNotFound)
	}
	if err != nil {
		return Coding{}, fmt.Errorf("get coding: %w", err)
	}
	return item, nil
}

// InsertCoding stores a new coding unless the same code already covers the
// same range for the same owner.
func (s *SQLStore) InsertCoding(ctx context.Context, c Coding) (Coding, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(1) FROM code_text
		WHERE cid=? AND fid=? AND pos0=? AND pos1=? AND owner=?
	`), c.CodeID, c.FileID, c.Pos0, c.Pos1, c.Owner).Scan(&count)
	if err != nil {
		return Coding{}, fmt.Errorf("check coding: %w", err)
	}
	if count > 0 {
		return Coding{}, ErrDuplicateEntity
	}

	err = s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO code_text (cid, fid, seltext, pos0, pos1, owner, memo, important)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ctid
	`), c.CodeID, c.FileID, c.SelText, c.Pos0, c.Pos1, c.Owner, c.Memo, c.Important).Scan(&c.ID)
	if err != nil {
		return Coding{}, fmt.Errorf("insert coding: %w", err)
	}
	return c, nil
}

// UpdateCodingPosition rewrites one coding outside any transaction.
func (s *SQLStore) UpdateCodingPosition(ctx context.Context, codingID int64, pos0, pos1 int, seltext string) error {
	return updatePosition(ctx, s.db, s.dialect, PositionUpdate{
		Kind: KindCoding, ID: codingID, Pos0: pos0, Pos1: pos1, SelText: seltext,
	})
}

func (s *SQLStore) ListAnnotations(ctx context.Context, documentID int64) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT anid, fid, pos0, pos1, memo, owner
		FROM annotation WHERE fid=? ORDER BY pos0, anid
	`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		var item Annotation
		if err := rows.Scan(&item.ID, &item.FileID, &item.Pos0, &item.Pos1, &item.Memo, &item.Owner); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) InsertAnnotation(ctx context.Context, a Annotation) (Annotation, error) {
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO annotation (fid, pos0, pos1, memo, owner)
		VALUES (?, ?, ?, ?, ?)
		RETURNING anid
	`), a.FileID, a.Pos0, a.Pos1, a.Memo, a.Owner).Scan(&a.ID)
	if err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	return a, nil
}

func (s *SQLStore) ListCaseTexts(ctx context.Context, documentID int64) ([]CaseText, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, caseid, fid, pos0, pos1, owner
		FROM case_text WHERE fid=? ORDER BY pos0, id
	`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list case text: %w", err)
	}
	defer rows.Close()

	items := make([]CaseText, 0)
	for rows.Next() {
		var item CaseText
		if err := rows.Scan(&item.ID, &item.CaseID, &item.FileID, &item.Pos0, &item.Pos1, &item.Owner); err != nil {
			return nil, fmt.Errorf("scan case text: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) InsertCaseText(ctx context.Context, c CaseText) (CaseText, error) {
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO case_text (caseid, fid, pos0, pos1, owner)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), c.CaseID, c.FileID, c.Pos0, c.Pos1, c.Owner).Scan(&c.ID)
	if err != nil {
		return CaseText{}, fmt.Errorf("insert case text: %w", err)
	}
	return c, nil
}

type txWriter struct {
	tx      *sql.Tx
	dialect Dialect
}

func (w *txWriter) UpdatePosition(ctx context.Context, update PositionUpdate) error {
	return updatePosition(ctx, w.tx, w.dialect, update)
}

func (w *txWriter) DeleteEntity(ctx context.Context, kind string, id int64) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	if _, err := w.tx.ExecContext(ctx, w.dialect.Rebind(`DELETE FROM `+t.name+` WHERE `+t.id+`=?`), id); err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	return nil
}

func (w *txWriter) UpdateDocumentText(ctx context.Context, documentID int64, text string) error {
	result, err := w.tx.ExecContext(ctx, w.dialect.Rebind(`UPDATE source SET fulltext=? WHERE id=?`), text, documentID)
	if err != nil {
		return fmt.Errorf("update document text: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document text: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %d: %w", documentID, ErrNotFound)
	}
	return nil
}

func (w *txWriter) UpdateCodingNotes(ctx context.Context, notes CodingNotes) error {
	result, err := w.tx.ExecContext(ctx, w.dialect.Rebind(`UPDATE code_text SET memo=?, important=? WHERE ctid=?`),
		notes.Memo, notes.Important, notes.ID)
	if err != nil {
		return fmt.Errorf("update coding %d notes: %w", notes.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update coding %d notes: %w", notes.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("coding %d: %w", notes.ID, ErrNotFound)
	}
	return nil
}

func updatePosition(ctx context.Context, db execer, dialect Dialect, update PositionUpdate) error {
	t, err := tableFor(update.Kind)
	if err != nil {
		return err
	}
	var result sql.Result
	if update.Kind == KindCoding {
		result, err = db.ExecContext(ctx, dialect.Rebind(`UPDATE code_text SET pos0=?, pos1=?, seltext=? WHERE ctid=?`),
			update.Pos0, update.Pos1, update.SelText, update.ID)
	} else {
		result, err = db.ExecContext(ctx, dialect.Rebind(`UPDATE `+t.name+` SET pos0=?, pos1=? WHERE `+t.id+`=?`),
			update.Pos0, update.Pos1, update.ID)
	}
	if err != nil {
		return fmt.Errorf("update %s %d: %w", update.Kind, update.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %d: %w", update.Kind, update.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", update.Kind, update.ID, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY)
}
