// Package gitrepo archives every committed revision of a document's text,
// with the anchored ranges that went with it, in one git repository per
// document.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	textFile    = "text.txt"
	anchorsFile = "anchors.json"
)

var (
	// ErrNoChanges is returned when a revision matches the previous one.
	ErrNoChanges        = errors.New("revision has no changes")
	ErrRevisionNotFound = errors.New("revision not found")
)

// Anchor is the archived range of one entity.
type Anchor struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
	Pos0 int    `json:"pos0"`
	Pos1 int    `json:"pos1"`
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type Archive struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Archive {
	return &Archive{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Commit records text and anchors as the next revision of the document,
// creating the repository on first use.
func (a *Archive) Commit(documentID int64, text string, anchors []Anchor, author, message string) (Revision, error) {
	lock := a.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := a.openOrInit(documentID)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	if anchors == nil {
		anchors = []Anchor{}
	}
	payload, err := json.MarshalIndent(anchors, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal anchors: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, textFile), []byte(text), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", textFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, anchorsFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", anchorsFile, err)
	}
	for _, name := range []string{textFile, anchorsFile} {
		if _, err := worktree.Add(name); err != nil {
			return Revision{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.qualedit", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return Revision{}, ErrNoChanges
	}
	if err != nil {
		return Revision{}, fmt.Errorf("commit revision: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists revisions newest first. A document that was never archived
// has an empty history.
func (a *Archive) History(documentID int64, limit int) ([]Revision, error) {
	lock := a.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(a.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// TextAt returns the archived text and anchors of one revision.
func (a *Archive) TextAt(documentID int64, hash string) (string, []Anchor, error) {
	lock := a.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(a.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil, fmt.Errorf("document %d has no revisions: %w", documentID, ErrRevisionNotFound)
	}
	if err != nil {
		return "", nil, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
		return "", nil, fmt.Errorf("resolve hash %s: %w", hash, ErrRevisionNotFound)
	}
	if err != nil {
		return "", nil, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", nil, fmt.Errorf("read commit %s: %w", hash, err)
	}

	text, err := readFile(commitObj, textFile)
	if err != nil {
		return "", nil, err
	}
	raw, err := readFile(commitObj, anchorsFile)
	if err != nil {
		return "", nil, err
	}
	var anchors []Anchor
	if err := json.Unmarshal([]byte(raw), &anchors); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", anchorsFile, err)
	}
	return text, anchors, nil
}

func (a *Archive) openOrInit(documentID int64) (*git.Repository, error) {
	path := a.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (a *Archive) repoPath(documentID int64) string {
	return filepath.Join(a.baseDir, "doc-"+strconv.FormatInt(documentID, 10))
}

func (a *Archive) documentLock(documentID int64) *sync.Mutex {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	lock, ok := a.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	a.locks[documentID] = lock
	return lock
}

func readFile(commitObj *object.Commit, name string) (string, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", name, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return contents, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "coder"
	}
	return string(out)
}
