package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field identifies a searchable message attribute.
type Field string

const (
	FieldFrom    Field = "from"
	FieldTo      Field = "to"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
	FieldUnread  Field = "unread"
	FieldStarred Field = "starred"
	FieldDate    Field = "date"
	FieldSince   Field = "since"
	FieldBefore  Field = "before"
	FieldSize    Field = "size"
	FieldFolder  Field = "in"
)

// Op is the comparator of a field predicate.
type Op int

const (
	OpEq Op = iota
	OpGT
	OpLT
)

func (o Op) String() string {
	switch o {
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	default:
		return ""
	}
}

// Kind is the type of value a field expects.
type Kind int

const (
	KindText Kind = iota
	KindBool
	KindDate
	KindSize
)

// Date is either an absolute UTC day or an offset back from "today".
// Relative dates are resolved at translation time so parsing stays pure.
// Months count as 30 days and years as 365.
type Date struct {
	Day    time.Time // UTC midnight, zero when relative
	Amount int
	Unit   byte // 'd', 'w', 'm', 'y'; zero when absolute
}

// IsRelative reports whether the date is an offset from now.
func (d Date) IsRelative() bool { return d.Unit != 0 }

// Resolve returns the UTC day the date refers to.
func (d Date) Resolve(now time.Time) time.Time {
	if !d.IsRelative() {
		return d.Day
	}
	var t time.Time
	switch d.Unit {
	case 'w':
		t = now.AddDate(0, 0, -d.Amount*7)
	case 'm':
		t = now.AddDate(0, 0, -d.Amount*30)
	case 'y':
		t = now.AddDate(0, 0, -d.Amount*365)
	default:
		t = now.AddDate(0, 0, -d.Amount)
	}
	return TruncateDay(t)
}

func (d Date) String() string {
	if d.IsRelative() {
		return strconv.Itoa(d.Amount) + string(d.Unit)
	}
	return d.Day.Format("2006-01-02")
}

// TruncateDay returns midnight UTC of the day t falls on in UTC.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Value is the typed operand of a field predicate. Only the member
// matching Kind is meaningful.
type Value struct {
	Kind Kind
	Text string
	Bool bool
	Date Date
	Size int64
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Date.String()
	case KindSize:
		return strconv.FormatInt(v.Size, 10)
	default:
		if strings.ContainsAny(v.Text, " \t()'") {
			return `"` + v.Text + `"`
		}
		return v.Text
	}
}

// Expr is a node of a parsed query. Implementations are *Term, *And,
// *Or and *Not. Trees are never mutated after parsing.
type Expr interface {
	fmt.Stringer
	expr()
}

// Term is a single field predicate such as from:alice or size:>1M.
type Term struct {
	Field Field
	Op    Op
	Value Value
}

// And matches when every operand matches.
type And struct {
	Terms []Expr
}

// Or matches when any operand matches.
type Or struct {
	Terms []Expr
}

// Not inverts its operand.
type Not struct {
	Expr Expr
}

func (*Term) expr() {}
func (*And) expr()  {}
func (*Or) expr()   {}
func (*Not) expr()  {}

func (t *Term) String() string {
	return string(t.Field) + ":" + t.Op.String() + t.Value.String()
}

func (a *And) String() string { return joinExprs(a.Terms, " AND ") }
func (o *Or) String() string  { return joinExprs(o.Terms, " OR ") }
func (n *Not) String() string { return "NOT " + n.Expr.String() }

func joinExprs(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Walk calls fn for every node of e in depth-first order. nested reports
// whether the node sits below a Not or an Or.
func Walk(e Expr, fn func(e Expr, nested bool)) {
	walk(e, false, fn)
}

func walk(e Expr, nested bool, fn func(Expr, bool)) {
	fn(e, nested)
	switch n := e.(type) {
	case *And:
		for _, t := range n.Terms {
			walk(t, nested, fn)
		}
	case *Or:
		for _, t := range n.Terms {
			walk(t, true, fn)
		}
	case *Not:
		walk(n.Expr, true, fn)
	}
}

// HasField reports whether any term of e uses field f.
func HasField(e Expr, f Field) bool {
	found := false
	Walk(e, func(n Expr, _ bool) {
		if t, ok := n.(*Term); ok && t.Field == f {
			found = true
		}
	})
	return found
}
