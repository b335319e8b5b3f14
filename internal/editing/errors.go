package editing

import "errors"

var (
	ErrAlreadyEditing   = errors.New("a document is already being edited")
	ErrNoActiveSession  = errors.New("no active edit session")
	ErrDocumentNotFound = errors.New("document not found")
	// ErrStorage wraps a failed commit or revert transaction. The session
	// stays open when it is returned.
	ErrStorage = errors.New("storage error")
	// ErrLockLost means another session took the edit lock. The session is
	// closed and nothing is written.
	ErrLockLost = errors.New("edit lock lost")
	// ErrStaleLock is returned by BeginEdit while the lock of a finished
	// session still cannot be released.
	ErrStaleLock = errors.New("edit lock of a finished session is still held")
)
