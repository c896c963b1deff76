package filter

import (
	"strings"
	"time"

	"github.com/wesm/msgctl/internal/search"
)

// Attributes are the locally visible properties of a message that a query
// can be evaluated against.
type Attributes struct {
	Folder  string
	From    string
	To      string
	Subject string
	Body    string
	Unread  bool
	Starred bool
	Date    time.Time // Date header, keeping its zone
	Size    int64
}

// Eval evaluates e directly against a. Relative dates resolve against now.
// Text fields match case-insensitive substrings and dates compare by the
// header's calendar day, mirroring IMAP SEARCH semantics.
func Eval(e search.Expr, a Attributes, now time.Time) bool {
	switch n := e.(type) {
	case *search.Term:
		return evalTerm(n, a, now)
	case *search.And:
		for _, t := range n.Terms {
			if !Eval(t, a, now) {
				return false
			}
		}
		return true
	case *search.Or:
		for _, t := range n.Terms {
			if Eval(t, a, now) {
				return true
			}
		}
		return false
	case *search.Not:
		return !Eval(n.Expr, a, now)
	}
	return false
}

func evalTerm(t *search.Term, a Attributes, now time.Time) bool {
	switch t.Field {
	case search.FieldFrom:
		return containsFold(a.From, t.Value.Text)
	case search.FieldTo:
		return containsFold(a.To, t.Value.Text)
	case search.FieldSubject:
		return containsFold(a.Subject, t.Value.Text)
	case search.FieldBody:
		return containsFold(a.Body, t.Value.Text)
	case search.FieldUnread:
		return a.Unread == t.Value.Bool
	case search.FieldStarred:
		return a.Starred == t.Value.Bool
	case search.FieldFolder:
		return strings.EqualFold(CanonicalFolder(a.Folder), CanonicalFolder(t.Value.Text))
	case search.FieldSize:
		if t.Op == search.OpLT {
			return a.Size < t.Value.Size
		}
		return a.Size > t.Value.Size
	case search.FieldSince, search.FieldBefore, search.FieldDate:
		msgDay := SentDay(a.Date)
		bound := t.Value.Date.Resolve(now)
		switch {
		case t.Field == search.FieldSince:
			return !msgDay.Before(bound)
		case t.Field == search.FieldBefore, t.Op == search.OpLT:
			return msgDay.Before(bound)
		default:
			return msgDay.After(bound)
		}
	}
	return false
}

// SentDay is the calendar day of a Date header as written, ignoring its
// time and zone, which is how SENTSINCE and SENTBEFORE compare it.
func SentDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// folderAliases maps the short names users type to conventional IMAP
// folder names.
var folderAliases = map[string]string{
	"inbox":    "INBOX",
	"archive":  "Archive",
	"trash":    "Trash",
	"sent":     "Sent",
	"drafts":   "Drafts",
	"spam":     "Spam",
	"junk":     "Spam",
	"all":      "All Mail",
	"all mail": "All Mail",
	"starred":  "Starred",
}

// CanonicalFolder resolves a folder alias such as "inbox" or "junk" to its
// mailbox name. Unknown names are returned unchanged.
func CanonicalFolder(name string) string {
	if mapped, ok := folderAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return mapped
	}
	return name
}
