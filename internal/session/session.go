// Package session holds the single active edit session: a lock that keeps a
// second session from opening and the snapshot a revert restores.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLocked   = errors.New("another edit session is active")
	ErrNotFound = errors.New("edit session not found")
)

// Entry is the persisted position of one anchored entity when editing began.
type Entry struct {
	Kind    string `json:"kind"`
	ID      int64  `json:"id"`
	Pos0    int    `json:"pos0"`
	Pos1    int    `json:"pos1"`
	SelText string `json:"seltext,omitempty"`
}

// Snapshot is the document state captured by BeginEdit.
type Snapshot struct {
	SessionID  string    `json:"session_id"`
	DocumentID int64     `json:"document_id"`
	Text       string    `json:"text"`
	Entries    []Entry   `json:"entries"`
	StartedAt  time.Time `json:"started_at"`
}

// Store keeps at most one snapshot at a time.
type Store interface {
	// Acquire saves snap and takes the lock, or returns ErrLocked.
	Acquire(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
	// Active returns the snapshot of whichever session holds the lock.
	Active(ctx context.Context) (Snapshot, error)
	// Touch extends the lock of a live session.
	Touch(ctx context.Context, sessionID string) error
	// Release drops the snapshot and frees the lock if sessionID holds it.
	Release(ctx context.Context, sessionID string) error
}
