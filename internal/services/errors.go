package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthorized     = errors.New("no access")
	ErrNotFound         = errors.New("not found")
	ErrProtectedKind    = errors.New("documents of this kind can never be deleted")
	ErrConflict         = errors.New("the record was changed by someone else; reload and try again")
	ErrInvalidOwner     = errors.New("owner must be a member of this tenant")
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)
	ErrInvalidSession   = errors.New("invalid session token")
	ErrInvalidLogin     = errors.New("invalid email or password")
	ErrAccountLocked    = errors.New("account temporarily locked after repeated failed logins")
)

// ValidationError carries field-level messages for form re-display.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

type DuplicateSlugError struct {
	Slug       string
	ExistingID string
}

func (e *DuplicateSlugError) Error() string {
	return fmt.Sprintf("a document with slug %q already exists; upload a new version instead", e.Slug)
}

type DuplicateVersionError struct {
	DocumentID string
	Version    string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("version %q already exists on this document", e.Version)
}

// StorageError wraps a failed blob operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
