// Package mime turns raw RFC 5322 messages into the fields msgctl shows
// when a message is read or previewed.
package mime

import (
	"bytes"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
)

// Message is a parsed message.
type Message struct {
	Subject     string
	Date        time.Time // zero when the Date header is missing or unreadable
	From        []Address
	To          []Address
	Cc          []Address
	MessageID   string
	InReplyTo   string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	Errors      []string // non-fatal problems reported by enmime
}

// Address is a mailbox with its optional display name. Email is lowercased.
type Address struct {
	Name  string
	Email string
}

// Attachment describes a non-body part. Content is not retained.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	IsInline    bool
}

// Parse parses raw message bytes. Malformed charsets and headers are
// recorded in Errors rather than failing the parse.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:   env.GetHeader("Subject"),
		MessageID: env.GetHeader("Message-ID"),
		InReplyTo: env.GetHeader("In-Reply-To"),
		From:      addresses(env, "From"),
		To:        addresses(env, "To"),
		Cc:        addresses(env, "Cc"),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
	}
	if d := env.GetHeader("Date"); d != "" {
		msg.Date = parseDate(d)
	}

	msg.Attachments = appendAttachments(msg.Attachments, env.Attachments, false)
	msg.Attachments = appendAttachments(msg.Attachments, env.Inlines, true)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}
	return msg, nil
}

// addresses flattens groups; members without an address are dropped.
func addresses(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}

func appendAttachments(dst []Attachment, parts []*enmime.Part, inline bool) []Attachment {
	for _, p := range parts {
		if isBodyPart(p) {
			continue
		}
		dst = append(dst, Attachment{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			Size:        len(p.Content),
			IsInline:    inline,
		})
	}
	return dst
}

// isBodyPart reports whether enmime filed a text part as an attachment or
// inline even though it carries neither a filename nor an attachment
// disposition.
func isBodyPart(p *enmime.Part) bool {
	switch baseValue(p.ContentType) {
	case "text/plain", "text/html":
	default:
		return false
	}
	return p.FileName == "" && baseValue(p.Disposition) != "attachment"
}

// baseValue strips parameters from a header value and lowercases it.
func baseValue(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// fallbackLayouts covers dates net/mail rejects but mail clients still send.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
}

// parseDate returns the date in UTC, or the zero time when s cannot be
// read. A bad Date header is common enough that it never fails a parse.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC()
	}
	if i := strings.LastIndexByte(s, '('); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	blankLineRe = regexp.MustCompile(`\n{3,}`)
)

// StripHTML renders HTML as plain text for previews. Links are dropped.
func StripHTML(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	text, err := html2text.FromString(rawHTML, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		text = html.UnescapeString(tagRe.ReplaceAllString(rawHTML, " "))
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = blankLineRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// GetBodyText prefers the plain text part and falls back to stripped HTML.
func (m *Message) GetBodyText() string {
	if m.BodyText != "" {
		return m.BodyText
	}
	if m.BodyHTML != "" {
		return StripHTML(m.BodyHTML)
	}
	return ""
}

// GetFirstFrom returns the first From address, or the zero Address.
func (m *Message) GetFirstFrom() Address {
	if len(m.From) > 0 {
		return m.From[0]
	}
	return Address{}
}
