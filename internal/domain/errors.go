// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed or missing required input. Fatal to the
// current call; never retried.
var ErrValidation = errors.New("validation failed")

// ErrVersionConflict indicates a concurrent version allocation race. Callers
// may retry after re-reading the current version.
var ErrVersionConflict = errors.New("version conflict: version already exists with different content")

// ErrDuplicateRequest indicates a request context already exists for the id.
var ErrDuplicateRequest = errors.New("duplicate request")

// ErrUpstream indicates a reasoning backend failure. The coordinator marks
// the request failed rather than silently completing.
var ErrUpstream = errors.New("upstream reasoning backend failed")

// ErrNoBasePlan indicates a replan was requested for a request that has no
// prior plan version. Wraps ErrNotFound so transport layers map it uniformly.
var ErrNoBasePlan = fmt.Errorf("no base plan exists for request: %w", ErrNotFound)

// ErrEmptyScoreSet indicates the confidence router received no agent scores.
// Wraps ErrValidation: an empty input set is bad input, not a silent zero.
var ErrEmptyScoreSet = fmt.Errorf("empty score set: %w", ErrValidation)
