package apperr

import (
	"errors"
	"fmt"
)

// Kind tags a failure so callers can decide between "retry later",
// "malformed input" and "not authenticated" without inspecting messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindDOMChanged
	KindEmptyResults
	KindAuth
	KindInvalidIdentifier
	KindAPI
	KindWishlistConflict
	KindWishlistNotFound
	KindExtraction
	KindTimeout
	KindStorage
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindDOMChanged:        "dom_changed",
	KindEmptyResults:      "empty_results",
	KindAuth:              "auth",
	KindInvalidIdentifier: "invalid_identifier",
	KindAPI:               "api",
	KindWishlistConflict:  "wishlist_conflict",
	KindWishlistNotFound:  "wishlist_not_found",
	KindExtraction:        "extraction",
	KindTimeout:           "timeout",
	KindStorage:           "storage",
	KindNotFound:          "not_found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single failure type crossing public operation boundaries.
type Error struct {
	Kind    Kind
	Source  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, source, message string) *Error {
	return &Error{Kind: kind, Source: source, Message: message}
}

func Wrap(kind Kind, source, message string, err error) *Error {
	return &Error{Kind: kind, Source: source, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Ensure passes typed errors through and tags everything else with
// fallback, so no untyped error leaves a public operation.
func Ensure(err error, fallback Kind, source, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(fallback, source, message, err)
}
