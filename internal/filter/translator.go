// Package filter translates parsed queries into IMAP search criteria and
// local predicates.
package filter

import (
	"errors"
	"fmt"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/msgctl/internal/search"
)

// ErrFolderScope is returned when an in: term appears somewhere it cannot
// scope the whole query (under OR or NOT), or when two different folders
// are requested.
var ErrFolderScope = errors.New("in: must apply to the whole query")

// Capabilities describes which searches the server evaluates natively.
// Header, flag and date searches are always assumed.
type Capabilities struct {
	Size bool // LARGER / SMALLER
	Body bool // BODY
}

// FullCapabilities is what a conforming IMAP4rev1 server supports.
func FullCapabilities() Capabilities {
	return Capabilities{Size: true, Body: true}
}

// Criterion is the result of translating a query for one folder.
type Criterion struct {
	// Remote is sent as UID SEARCH. When PostFilter is set it is a superset
	// (usually ALL) and results must be narrowed with Match.
	Remote     *imap.SearchCriteria
	PostFilter bool
	// NeedsBody is set when Match reads Attributes.Body.
	NeedsBody bool
	// Folder is the mailbox named by an in: term, or "" when unscoped.
	Folder string
	// Unsupported lists the fields that forced the local fallback.
	Unsupported []search.Field

	expr search.Expr
	now  time.Time
}

// Match reports whether a message satisfies the original query.
func (c *Criterion) Match(a Attributes) bool {
	return Eval(c.expr, a, c.now)
}

// Now is the instant relative dates were resolved against.
func (c *Criterion) Now() time.Time { return c.now }

// Option configures a Translator.
type Option func(*Translator)

// WithClock overrides the time source used to resolve relative dates.
func WithClock(now func() time.Time) Option {
	return func(t *Translator) { t.now = now }
}

// Translator converts expressions to criteria for a server with known
// capabilities.
type Translator struct {
	caps Capabilities
	now  func() time.Time
}

// NewTranslator creates a Translator.
func NewTranslator(caps Capabilities, opts ...Option) *Translator {
	t := &Translator{
		caps: caps,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate converts e into a Criterion. If any leaf cannot be evaluated by
// the server the remote part becomes ALL and PostFilter is set; a partial
// conjunction is never sent as if it were complete.
func (t *Translator) Translate(e search.Expr) (*Criterion, error) {
	folder, err := scopeFolder(e)
	if err != nil {
		return nil, err
	}

	now := t.now()
	c := &Criterion{
		Folder:    folder,
		NeedsBody: search.HasField(e, search.FieldBody),
		expr:      e,
		now:       now,
	}

	c.Unsupported = t.unsupported(e)
	if len(c.Unsupported) > 0 {
		c.Remote = &imap.SearchCriteria{}
		c.PostFilter = true
		return c, nil
	}

	remote := t.remote(e, now)
	c.Remote = &remote
	return c, nil
}

// scopeFolder returns the folder named by top-level in: terms.
func scopeFolder(e search.Expr) (string, error) {
	var folder string
	var err error
	search.Walk(e, func(n search.Expr, nested bool) {
		term, ok := n.(*search.Term)
		if !ok || term.Field != search.FieldFolder || err != nil {
			return
		}
		if nested {
			err = fmt.Errorf("%w: %s is inside OR or NOT", ErrFolderScope, term)
			return
		}
		name := CanonicalFolder(term.Value.Text)
		if folder != "" && folder != name {
			err = fmt.Errorf("%w: both %q and %q requested", ErrFolderScope, folder, name)
			return
		}
		folder = name
	})
	return folder, err
}

// unsupported returns the fields of e the server cannot search, in the
// order they first appear.
func (t *Translator) unsupported(e search.Expr) []search.Field {
	var out []search.Field
	seen := make(map[search.Field]bool)
	search.Walk(e, func(n search.Expr, _ bool) {
		term, ok := n.(*search.Term)
		if !ok || t.remoteCapable(term) || seen[term.Field] {
			return
		}
		seen[term.Field] = true
		out = append(out, term.Field)
	})
	return out
}

func (t *Translator) remoteCapable(term *search.Term) bool {
	switch term.Field {
	case search.FieldSize:
		// LARGER 0 and SMALLER 0 encode as "unset" in SearchCriteria.
		return t.caps.Size && term.Value.Size > 0
	case search.FieldBody:
		return t.caps.Body
	}
	return true
}

func (t *Translator) remote(e search.Expr, now time.Time) imap.SearchCriteria {
	switch n := e.(type) {
	case *search.Term:
		return remoteTerm(n, now)
	case *search.And:
		var c imap.SearchCriteria
		for _, sub := range n.Terms {
			s := t.remote(sub, now)
			c.And(&s)
		}
		return c
	case *search.Or:
		// IMAP OR is binary; fold from the right.
		acc := t.remote(n.Terms[len(n.Terms)-1], now)
		for i := len(n.Terms) - 2; i >= 0; i-- {
			left := t.remote(n.Terms[i], now)
			acc = imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{left, acc}}}
		}
		return acc
	case *search.Not:
		inner := t.remote(n.Expr, now)
		return imap.SearchCriteria{Not: []imap.SearchCriteria{inner}}
	}
	return imap.SearchCriteria{}
}

func remoteTerm(term *search.Term, now time.Time) imap.SearchCriteria {
	v := term.Value
	switch term.Field {
	case search.FieldFrom:
		return headerCriteria("From", v.Text)
	case search.FieldTo:
		return headerCriteria("To", v.Text)
	case search.FieldSubject:
		return headerCriteria("Subject", v.Text)
	case search.FieldBody:
		return imap.SearchCriteria{Body: []string{v.Text}}
	case search.FieldUnread:
		if v.Bool {
			return imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
		}
		return imap.SearchCriteria{Flag: []imap.Flag{imap.FlagSeen}}
	case search.FieldStarred:
		if v.Bool {
			return imap.SearchCriteria{Flag: []imap.Flag{imap.FlagFlagged}}
		}
		return imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagFlagged}}
	// Date terms use the SENT* keys: SINCE and BEFORE compare INTERNALDATE,
	// while Attributes.Date is the Date header.
	case search.FieldSince:
		return imap.SearchCriteria{SentSince: v.Date.Resolve(now)}
	case search.FieldBefore:
		return imap.SearchCriteria{SentBefore: v.Date.Resolve(now)}
	case search.FieldDate:
		day := v.Date.Resolve(now)
		if term.Op == search.OpLT {
			return imap.SearchCriteria{SentBefore: day}
		}
		// SENTSINCE is inclusive, so "after D" starts the next day.
		return imap.SearchCriteria{SentSince: day.AddDate(0, 0, 1)}
	case search.FieldSize:
		if term.Op == search.OpLT {
			return imap.SearchCriteria{Smaller: v.Size}
		}
		return imap.SearchCriteria{Larger: v.Size}
	}
	// in: scopes the SELECT, not the SEARCH.
	return imap.SearchCriteria{}
}

func headerCriteria(key, value string) imap.SearchCriteria {
	return imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: value}},
	}
}
