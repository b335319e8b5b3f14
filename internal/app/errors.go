package app

import (
	"errors"
	"fmt"
	"net/http"

	"qualedit/internal/editing"
	"qualedit/internal/gitrepo"
	"qualedit/internal/shift"
	"qualedit/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, editing.ErrAlreadyEditing):
		return http.StatusConflict, "ALREADY_EDITING", "Another document is being edited", nil
	case errors.Is(err, store.ErrDuplicateEntity):
		return http.StatusConflict, "DUPLICATE_ENTITY", "Entity already exists", nil
	case errors.Is(err, shift.ErrDocumentEditing):
		return http.StatusConflict, "DOCUMENT_EDITING", "Document has an open edit session", nil
	case errors.Is(err, editing.ErrLockLost):
		return http.StatusConflict, "EDIT_LOCK_LOST", "Another session took the edit lock, the edits were not saved", nil
	case errors.Is(err, editing.ErrStaleLock):
		return http.StatusServiceUnavailable, "STALE_EDIT_LOCK", "The previous edit lock could not be released yet", nil
	case errors.Is(err, editing.ErrNoActiveSession):
		return http.StatusNotFound, "NO_ACTIVE_SESSION", "No active edit session", nil
	case errors.Is(err, editing.ErrDocumentNotFound),
		errors.Is(err, shift.ErrCodingNotFound),
		errors.Is(err, gitrepo.ErrRevisionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, shift.ErrInvalidEnd):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, editing.ErrStorage):
		return http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable, the edit session is still open", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
