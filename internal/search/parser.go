// Package search provides Gmail-like search query parsing.
//
// A query is a boolean combination of field:value terms. Adjacent terms are
// joined by an implicit AND; AND, OR and NOT are case-insensitive keywords
// with NOT binding tightest and OR loosest. Parentheses group, and a leading
// "-" or "!" negates a single term.
package search

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// fieldSpec describes how a field name parses its value.
type fieldSpec struct {
	field     Field
	kind      Kind
	ordered   bool // accepts > and <
	requireOp bool // bare field:value is rejected
	impliedOp Op   // used by alias fields such as larger:
	relative  bool // only relative dates (newer:, older:)
}

// fields maps user-facing field names to their specs. Aliases share the
// underlying Field so that trees compare equal regardless of spelling.
var fields = map[string]fieldSpec{
	"from":    {field: FieldFrom, kind: KindText},
	"to":      {field: FieldTo, kind: KindText},
	"subject": {field: FieldSubject, kind: KindText},
	"body":    {field: FieldBody, kind: KindText},
	"unread":  {field: FieldUnread, kind: KindBool},
	"starred": {field: FieldStarred, kind: KindBool},
	"date":    {field: FieldDate, kind: KindDate, ordered: true, requireOp: true},
	"since":   {field: FieldSince, kind: KindDate},
	"after":   {field: FieldSince, kind: KindDate},
	"before":  {field: FieldBefore, kind: KindDate},
	"newer":   {field: FieldSince, kind: KindDate, relative: true},
	"older":   {field: FieldBefore, kind: KindDate, relative: true},
	"size":    {field: FieldSize, kind: KindSize, ordered: true, requireOp: true},
	"larger":  {field: FieldSize, kind: KindSize, impliedOp: OpGT},
	"smaller": {field: FieldSize, kind: KindSize, impliedOp: OpLT},
	"in":      {field: FieldFolder, kind: KindText},
	"folder":  {field: FieldFolder, kind: KindText},
}

// isValues are the accepted forms of is:value and the terms they expand to.
var isValues = map[string]Term{
	"unread":  {Field: FieldUnread, Value: Value{Kind: KindBool, Bool: true}},
	"read":    {Field: FieldUnread, Value: Value{Kind: KindBool, Bool: false}},
	"starred": {Field: FieldStarred, Value: Value{Kind: KindBool, Bool: true}},
	"flagged": {Field: FieldStarred, Value: Value{Kind: KindBool, Bool: true}},
}

var relativeDateRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

// Parse parses a query string into an expression tree. It performs no I/O
// and the same input always yields the same tree. Failures are one of
// *QuerySyntaxError, *UnknownFieldError or *ValueParseError.
//
// Supported fields:
//   - from:, to:, subject:, body: - case-insensitive substring match
//   - unread:true, is:unread, is:read, is:starred, starred:true
//   - date:>D, date:<D - strictly after / before day D
//   - since:D (after:D), before:D - inclusive lower / exclusive upper bound
//   - newer:7d, older:1y - relative bounds (d, w, m, y)
//   - size:>N, size:<N, larger:N, smaller:N - byte counts (500, 100K, 5M)
//   - in:folder, folder:name - restrict the query to a folder
func Parse(query string) (Expr, error) {
	toks, err := tokenize(query)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, &QuerySyntaxError{Pos: 0, Msg: "empty query"}
	}

	p := &parser{toks: toks, end: len(query)}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		return nil, &QuerySyntaxError{Token: tok.text, Pos: tok.pos, Msg: "unbalanced parenthesis"}
	}
	return e, nil
}

type parser struct {
	toks []token
	i    int
	end  int
}

func (p *parser) peek() (token, bool) {
	if p.i >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.i], true
}

func (p *parser) next() token {
	tok := p.toks[p.i]
	p.i++
	return tok
}

// parseOr handles the lowest-precedence level: a OR b OR c.
func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			break
		}
		p.next()
		if err := p.expectOperand(tok); err != nil {
			return nil, err
		}
		e, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &Or{Terms: flattenOr(terms)}, nil
}

// parseAnd joins unary expressions with explicit AND or juxtaposition.
func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for {
		tok, ok := p.peek()
		if !ok {
			break
		}
		switch tok.kind {
		case tokAnd:
			p.next()
			if err := p.expectOperand(tok); err != nil {
				return nil, err
			}
		case tokWord, tokNot, tokLParen:
			// implicit AND
		default:
			return p.andOf(terms), nil
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
	}
	return p.andOf(terms), nil
}

func (p *parser) andOf(terms []Expr) Expr {
	if len(terms) == 1 {
		return terms[0]
	}
	return &And{Terms: flattenAnd(terms)}
}

func (p *parser) parseUnary() (Expr, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, &QuerySyntaxError{Pos: p.end, Msg: "unexpected end of query"}
	}
	switch tok.kind {
	case tokNot:
		p.next()
		if err := p.expectOperand(tok); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	case tokLParen:
		p.next()
		if next, ok := p.peek(); ok && next.kind == tokRParen {
			return nil, &QuerySyntaxError{Token: "()", Pos: tok.pos, Msg: "empty group"}
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing, ok := p.peek(); !ok || closing.kind != tokRParen {
			return nil, &QuerySyntaxError{Token: "(", Pos: tok.pos, Msg: "unclosed parenthesis"}
		}
		p.next()
		return inner, nil
	case tokWord:
		p.next()
		return parseTerm(tok)
	case tokRParen:
		return nil, &QuerySyntaxError{Token: tok.text, Pos: tok.pos, Msg: "unbalanced parenthesis"}
	default:
		return nil, &QuerySyntaxError{Token: tok.text, Pos: tok.pos, Msg: "missing operand before " + strings.ToUpper(tok.text)}
	}
}

// expectOperand fails when the keyword op is not followed by something
// that can start an operand.
func (p *parser) expectOperand(op token) error {
	tok, ok := p.peek()
	if !ok {
		return &QuerySyntaxError{Token: op.text, Pos: op.pos, Msg: "dangling operator"}
	}
	switch tok.kind {
	case tokWord, tokNot, tokLParen:
		return nil
	}
	return &QuerySyntaxError{Token: op.text, Pos: op.pos, Msg: "dangling operator"}
}

// flattenAnd and flattenOr splice nested nodes of the same type into
// their parent so that "a OR (b OR c)" and "a OR b OR c" produce the same
// tree.
func flattenAnd(terms []Expr) []Expr {
	out := make([]Expr, 0, len(terms))
	for _, t := range terms {
		if a, ok := t.(*And); ok {
			out = append(out, a.Terms...)
			continue
		}
		out = append(out, t)
	}
	return out
}

func flattenOr(terms []Expr) []Expr {
	out := make([]Expr, 0, len(terms))
	for _, t := range terms {
		if o, ok := t.(*Or); ok {
			out = append(out, o.Terms...)
			continue
		}
		out = append(out, t)
	}
	return out
}

// parseTerm turns a field:value word into a Term.
func parseTerm(tok token) (Expr, error) {
	idx := strings.IndexByte(tok.text, ':')
	if idx <= 0 {
		return nil, &QuerySyntaxError{Token: tok.text, Pos: tok.pos, Msg: "expected field:value"}
	}
	name := strings.ToLower(tok.text[:idx])
	raw := tok.text[idx+1:]
	valuePos := tok.pos + idx + 1

	if name == "is" {
		term, ok := isValues[strings.ToLower(raw)]
		if !ok {
			if raw == "" {
				return nil, &QuerySyntaxError{Token: tok.text, Pos: tok.pos, Msg: "missing value"}
			}
			return nil, &ValueParseError{Field: name, Value: raw, Pos: valuePos, Err: errBadIs}
		}
		t := term
		return &t, nil
	}

	spec, ok := fields[name]
	if !ok {
		return nil, &UnknownFieldError{Field: name, Pos: tok.pos}
	}

	op := spec.impliedOp
	if raw != "" && (raw[0] == '>' || raw[0] == '<') {
		if !spec.ordered {
			return nil, &QuerySyntaxError{Token: tok.text, Pos: valuePos, Msg: name + " does not accept a comparator"}
		}
		op = OpGT
		if raw[0] == '<' {
			op = OpLT
		}
		raw = raw[1:]
		valuePos++
	} else if spec.requireOp {
		return nil, &QuerySyntaxError{Token: tok.text, Pos: valuePos, Msg: name + " requires a comparator (> or <)"}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &QuerySyntaxError{Token: tok.text, Pos: tok.pos, Msg: "missing value"}
	}

	v, err := parseValue(spec, raw)
	if err != nil {
		return nil, &ValueParseError{Field: name, Value: raw, Pos: valuePos, Err: err}
	}
	return &Term{Field: spec.field, Op: op, Value: v}, nil
}

func parseValue(spec fieldSpec, raw string) (Value, error) {
	switch spec.kind {
	case KindBool:
		b, err := parseBool(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBool, Bool: b}, nil
	case KindDate:
		d, err := parseDate(raw, spec.relative)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindDate, Date: d}, nil
	case KindSize:
		n, err := parseSize(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindSize, Size: n}, nil
	default:
		return Value{Kind: KindText, Text: raw}, nil
	}
}

// tokenize splits a query into words, keywords and parentheses, keeping
// double-quoted sections (subject:"foo bar") inside a single word.
func tokenize(query string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(query) {
		c := query[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case (c == '-' || c == '!') && i+1 < len(query) && !isSpace(query[i+1]) && query[i+1] != ')':
			toks = append(toks, token{kind: tokNot, text: string(c), pos: i})
			i++
		default:
			start := i
			quoted := false
			var b strings.Builder
			for i < len(query) {
				c := query[i]
				if c == '"' {
					end := strings.IndexByte(query[i+1:], '"')
					if end < 0 {
						return nil, &QuerySyntaxError{Token: query[i:], Pos: i, Msg: "unterminated quote"}
					}
					b.WriteString(query[i+1 : i+1+end])
					i += end + 2
					quoted = true
					continue
				}
				if isSpace(c) || c == '(' || c == ')' {
					break
				}
				b.WriteByte(c)
				i++
			}
			text := b.String()
			kind := tokWord
			if !quoted {
				switch strings.ToUpper(text) {
				case "AND":
					kind = tokAnd
				case "OR":
					kind = tokOr
				case "NOT":
					kind = tokNot
				}
			}
			toks = append(toks, token{kind: kind, text: text, pos: start})
		}
	}
	return toks, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, errBadBool
}

// parseDate parses YYYY-MM-DD, YYYY/MM/DD or a relative offset like 7d.
func parseDate(value string, relativeOnly bool) (Date, error) {
	value = strings.ToLower(value)
	if m := relativeDateRe.FindStringSubmatch(value); m != nil {
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			return Date{}, errBadDate
		}
		return Date{Amount: amount, Unit: m[2][0]}, nil
	}
	if relativeOnly {
		return Date{}, errBadDate
	}
	for _, format := range []string{"2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(format, value); err == nil {
			return Date{Day: t.UTC()}, nil
		}
	}
	return Date{}, errBadDate
}

// sizeSuffixes is ordered so that two-letter suffixes match first.
var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KB", 1024},
	{"MB", 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"K", 1024},
	{"M", 1024 * 1024},
	{"G", 1024 * 1024 * 1024},
	{"B", 1},
}

// parseSize parses size strings like 5M, 100K, 1.5G or a plain byte count.
func parseSize(value string) (int64, error) {
	value = strings.ToUpper(value)
	for _, s := range sizeSuffixes {
		if !strings.HasSuffix(value, s.suffix) {
			continue
		}
		num, err := strconv.ParseFloat(value[:len(value)-len(s.suffix)], 64)
		if err != nil || num < 0 || math.IsNaN(num) || math.IsInf(num, 0) {
			return 0, errBadSize
		}
		// float64(math.MaxInt64) rounds up to 2^63, so >= catches overflow.
		bytes := num * float64(s.mult)
		if bytes >= math.MaxInt64 {
			return 0, errBadSize
		}
		return int64(bytes), nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, errBadSize
	}
	return n, nil
}
