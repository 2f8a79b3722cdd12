package subject

import "github.com/juju/errors"

const (
	// ErrInvalidSubject is returned for empty or malformed subjects and for
	// subjects that carry wildcard characters.
	ErrInvalidSubject = errors.ConstError("invalid subject")

	// ErrInvalidPattern is returned for malformed subscription patterns,
	// including a multi-token wildcard that is not the last token.
	ErrInvalidPattern = errors.ConstError("invalid pattern")
)
