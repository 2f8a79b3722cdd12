// Package subject implements hierarchical, dot-delimited message subjects
// and the wildcard patterns subscriptions are registered with.
//
// A subject such as "greet.bob" is a sequence of tokens. A pattern may use
// "*" to match exactly one token at its position and, as its final token
// only, ">" to match one or more trailing tokens.
package subject

import (
	"strings"
	"unicode"

	"github.com/juju/errors"
)

const (
	// Delimiter separates subject tokens.
	Delimiter = "."
	// SingleWildcard matches exactly one token.
	SingleWildcard = "*"
	// TrailingWildcard matches one or more trailing tokens.
	TrailingWildcard = ">"
)

// Subject is a validated concrete subject. The zero value is not valid.
type Subject struct {
	raw    string
	tokens []string
}

// ParseSubject validates s as a publishable subject.
func ParseSubject(s string) (Subject, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return Subject{}, errors.Annotatef(ErrInvalidSubject, "%q: %v", s, err)
	}
	for _, tok := range tokens {
		if strings.ContainsAny(tok, SingleWildcard+TrailingWildcard) {
			return Subject{}, errors.Annotatef(ErrInvalidSubject, "%q: wildcard in token %q", s, tok)
		}
	}
	return Subject{raw: s, tokens: tokens}, nil
}

// MustParseSubject is like ParseSubject but panics on error.
func MustParseSubject(s string) Subject {
	subj, err := ParseSubject(s)
	if err != nil {
		panic(err)
	}
	return subj
}

// String returns the subject as published.
func (s Subject) String() string { return s.raw }

// Tokens returns a copy of the subject's tokens.
func (s Subject) Tokens() []string {
	return append([]string(nil), s.tokens...)
}

// Len returns the number of tokens.
func (s Subject) Len() int { return len(s.tokens) }

// IsZero reports whether s was never parsed.
func (s Subject) IsZero() bool { return len(s.tokens) == 0 }

// tokenize splits s on the delimiter and rejects empty tokens and
// whitespace anywhere in the input.
func tokenize(s string) ([]string, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return nil, errors.New("contains whitespace")
	}
	tokens := strings.Split(s, Delimiter)
	for i, tok := range tokens {
		if tok == "" {
			return nil, errors.Errorf("empty token at position %d", i)
		}
	}
	return tokens, nil
}
