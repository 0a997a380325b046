package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)

// FetchErrorKind classifies marketplace failures by whether a later retry can
// succeed.
type FetchErrorKind int

const (
	FetchTransient FetchErrorKind = iota + 1
	FetchPermanent
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTransient:
		return "transient"
	case FetchPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError is returned by a MarketplaceClient when a raw dump could not be
// retrieved.
type FetchError struct {
	Kind FetchErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the caller may retry the fetch with backoff.
func (e *FetchError) Transient() bool { return e.Kind == FetchTransient }

// ParseError means a dump payload is structurally unrecognizable. Individual
// bad rows never produce a ParseError; they are skipped and counted.
type ParseError struct {
	Dump   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: malformed payload: %s", e.Dump, e.Reason)
}

// PersistenceError wraps a failure surfaced by a store collaborator.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
