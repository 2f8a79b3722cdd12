package subject

import (
	"strings"

	"github.com/juju/errors"
)

// Pattern is a validated subscription filter.
type Pattern struct {
	raw    string
	tokens []string
	// trailing is set when the last token is ">".
	trailing bool
	literal  bool
}

// ParsePattern validates p as a subscription pattern.
func ParsePattern(p string) (Pattern, error) {
	tokens, err := tokenize(p)
	if err != nil {
		return Pattern{}, errors.Annotatef(ErrInvalidPattern, "%q: %v", p, err)
	}
	literal := true
	for i, tok := range tokens {
		switch tok {
		case SingleWildcard:
			literal = false
		case TrailingWildcard:
			if i != len(tokens)-1 {
				return Pattern{}, errors.Annotatef(ErrInvalidPattern, "%q: %q must be the last token", p, TrailingWildcard)
			}
			literal = false
		default:
			if strings.ContainsAny(tok, SingleWildcard+TrailingWildcard) {
				return Pattern{}, errors.Annotatef(ErrInvalidPattern, "%q: wildcard inside token %q", p, tok)
			}
		}
	}
	return Pattern{
		raw:      p,
		tokens:   tokens,
		trailing: tokens[len(tokens)-1] == TrailingWildcard,
		literal:  literal,
	}, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(p string) Pattern {
	pat, err := ParsePattern(p)
	if err != nil {
		panic(err)
	}
	return pat
}

// String returns the pattern as registered.
func (p Pattern) String() string { return p.raw }

// Tokens returns a copy of the pattern's tokens.
func (p Pattern) Tokens() []string {
	return append([]string(nil), p.tokens...)
}

// IsLiteral reports whether the pattern contains no wildcards.
func (p Pattern) IsLiteral() bool { return p.literal }

// Matches reports whether s is selected by p.
func (p Pattern) Matches(s Subject) bool {
	return Matches(p, s)
}

// Matches reports whether subject s is selected by pattern p. Both values
// must come from the parse functions; zero values never match.
func Matches(p Pattern, s Subject) bool {
	if len(p.tokens) == 0 || len(s.tokens) == 0 {
		return false
	}
	for i, tok := range p.tokens {
		if tok == TrailingWildcard {
			// ">" needs at least one subject token at its position.
			return i < len(s.tokens)
		}
		if i >= len(s.tokens) {
			return false
		}
		if tok != SingleWildcard && tok != s.tokens[i] {
			return false
		}
	}
	return len(p.tokens) == len(s.tokens)
}

// MatchString parses both arguments and reports whether they match.
// Parse failures are returned as errors.
func MatchString(pattern, subj string) (bool, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return false, errors.Trace(err)
	}
	s, err := ParseSubject(subj)
	if err != nil {
		return false, errors.Trace(err)
	}
	return Matches(p, s), nil
}
