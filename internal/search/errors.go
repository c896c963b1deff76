package search

import (
	"errors"
	"fmt"
)

// QuerySyntaxError reports a structural problem with a query: an empty
// query, a dangling keyword, unbalanced parentheses, or a term that is not
// of the form field:value.
type QuerySyntaxError struct {
	Token string
	Pos   int
	Msg   string
}

func (e *QuerySyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at position %d near %q: %s", e.Pos, e.Token, e.Msg)
}

// Position returns the byte offset of the offending token.
func (e *QuerySyntaxError) Position() int { return e.Pos }

// UnknownFieldError reports a field name the parser does not recognize.
type UnknownFieldError struct {
	Field string
	Pos   int
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q at position %d", e.Field, e.Pos)
}

func (e *UnknownFieldError) Position() int { return e.Pos }

// ValueParseError reports a value that does not parse as the type its
// field expects (date, size or boolean).
type ValueParseError struct {
	Field string
	Value string
	Pos   int
	Err   error
}

func (e *ValueParseError) Error() string {
	return fmt.Sprintf("invalid value %q for %s at position %d: %v", e.Value, e.Field, e.Pos, e.Err)
}

func (e *ValueParseError) Unwrap() error { return e.Err }

func (e *ValueParseError) Position() int { return e.Pos }

var (
	errBadDate = errors.New("expected YYYY-MM-DD or a relative date like 7d, 2w, 3m, 1y")
	errBadSize = errors.New("expected a byte count like 500, 100K or 5M")
	errBadBool = errors.New("expected true or false")
	errBadIs   = errors.New("expected unread, read, starred or flagged")
)

// ErrorPosition extracts the byte offset from any of the query error
// types. ok is false for other errors.
func ErrorPosition(err error) (pos int, ok bool) {
	var p interface{ Position() int }
	if errors.As(err, &p) {
		return p.Position(), true
	}
	return 0, false
}
