package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRemoteNotFound reports a locator that matched no stored remote.
var ErrRemoteNotFound = errors.New("remote not found")

// ErrProjectNotFound reports a name that matched no stored project.
var ErrProjectNotFound = errors.New("project not found")

// ValidationError reports bad input caught before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MultipleMatchesError reports an ambiguous fuzzy lookup. Callers must
// surface the candidates instead of guessing.
type MultipleMatchesError struct {
	Query      string
	Candidates []string
}

func (e *MultipleMatchesError) Error() string {
	return fmt.Sprintf("locator %q matches multiple remotes: %s", e.Query, strings.Join(e.Candidates, ", "))
}

// TransactionError reports a failure of the transaction machinery
// itself, as opposed to a constraint or lookup failure inside one.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("store transaction (%s): %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
