package mime

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jhillyerd/enmime"
	testemail "github.com/wesm/msgctl/internal/testutil/email"
)

func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return msg
}

func parseEmail(t *testing.T, opts testemail.Options) *Message {
	t.Helper()
	return mustParse(t, testemail.MakeRaw(opts))
}

func emails(addrs []Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Email)
	}
	return out
}

func TestParse_Headers(t *testing.T) {
	msg := parseEmail(t, testemail.Options{
		From:      `"Alice Smith" <Alice@Example.com>`,
		To:        "bob@example.com, Carol <carol@example.org>",
		Subject:   "Quarterly report",
		Date:      "Mon, 02 Jan 2006 15:04:05 -0700",
		MessageID: "<q1@example.com>",
		Body:      "Numbers attached.",
		Headers: map[string]string{
			"Cc":          "dave@example.net",
			"In-Reply-To": "<q0@example.com>",
		},
	})

	if msg.Subject != "Quarterly report" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if got := msg.GetFirstFrom(); got.Email != "alice@example.com" || got.Name != "Alice Smith" {
		t.Errorf("GetFirstFrom() = %+v", got)
	}
	if diff := cmp.Diff([]string{"bob@example.com", "carol@example.org"}, emails(msg.To)); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"dave@example.net"}, emails(msg.Cc)); diff != "" {
		t.Errorf("Cc mismatch (-want +got):\n%s", diff)
	}
	if msg.MessageID != "<q1@example.com>" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.InReplyTo != "<q0@example.com>" {
		t.Errorf("InReplyTo = %q", msg.InReplyTo)
	}
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if msg.BodyText != "Numbers attached." {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments = %+v, want none", msg.Attachments)
	}
}

func TestParse_MissingDate(t *testing.T) {
	msg := parseEmail(t, testemail.Options{Body: "x"})
	if !msg.Date.IsZero() {
		t.Errorf("Date = %v, want zero", msg.Date)
	}
}

func TestParse_Attachment(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: Files\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=XX\r\n" +
		"\r\n" +
		"--XX\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"See attached.\r\n" +
		"--XX\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"%PDF-1.4\r\n" +
		"--XX--\r\n"

	msg := mustParse(t, []byte(raw))
	if !strings.Contains(msg.BodyText, "See attached.") {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments = %+v, want 1", msg.Attachments)
	}
	a := msg.Attachments[0]
	if a.Filename != "report.pdf" || a.ContentType != "application/pdf" || a.IsInline {
		t.Errorf("attachment = %+v", a)
	}
	if a.Size == 0 {
		t.Error("attachment size = 0")
	}
}

func TestParse_Latin1Charset(t *testing.T) {
	raw := []byte("From: sender@example.com\r\nTo: recipient@example.com\r\nSubject: Caf\xe9\r\nContent-Type: text/plain; charset=iso-8859-1\r\n\r\nCaf\xe9 au lait")

	msg := mustParse(t, raw)
	if msg.BodyText != "Café au lait" {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, "Café au lait")
	}
}

func TestParse_InvalidCharset(t *testing.T) {
	msg := parseEmail(t, testemail.Options{
		ContentType: "text/plain; charset=invalid-charset-xyz",
		Body:        "Body text",
	})
	if msg.Subject != "Test" {
		t.Errorf("Subject = %q", msg.Subject)
	}
}

func TestParse_GroupAddress(t *testing.T) {
	tests := []struct {
		name string
		to   string
		want []string
	}{
		{"empty group", "undisclosed-recipients:;", []string{}},
		{"group with members", "team: alice@example.com, bob@example.com;", []string{"alice@example.com", "bob@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := parseEmail(t, testemail.Options{To: tt.to, Body: "Body"})
			if diff := cmp.Diff(tt.want, emails(msg.To)); diff != "" {
				t.Errorf("To mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time // zero means unreadable
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"single digit day", "Mon, 2 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"no weekday", "02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"double space", "Mon,  2 Dec 2024 11:42:03 +0000 (UTC)", time.Date(2024, 12, 2, 11, 42, 3, 0, time.UTC)},
		{"ISO 8601", "2006-01-02T15:04:05Z", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"ISO 8601 offset", "2006-01-02T15:04:05-07:00", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like", "2006-01-02 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like no zone", "2006-01-02 15:04:05", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"empty", "", time.Time{}},
		{"garbage", "not a date", time.Time{}},
		{"date only", "2006-01-02", time.Time{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseDate(tc.input)
			if tc.want.IsZero() {
				if !got.IsZero() {
					t.Errorf("parseDate(%q) = %v, want zero", tc.input, got)
				}
				return
			}
			if !got.Equal(tc.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tc.input, got, tc.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("parseDate(%q) location = %v, want UTC", tc.input, got.Location())
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		notWant []string
	}{
		{"paragraph", "<p>Hello</p>", []string{"Hello"}, []string{"<p>"}},
		{"entities", "Tom &amp; Jerry", []string{"Tom & Jerry"}, nil},
		{"nbsp", "Hello&nbsp;World", []string{"Hello World"}, nil},
		{"script dropped", "<script>alert('x')</script><p>Text</p>", []string{"Text"}, []string{"alert"}},
		{"style dropped", "<style>.c{color:red}</style><p>Content</p>", []string{"Content"}, []string{"color"}},
		{"links omitted", `<a href="https://example.com/track">Click</a>`, []string{"Click"}, []string{"https://"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripHTML(tt.input)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("StripHTML(%q) = %q, want it to contain %q", tt.input, got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("StripHTML(%q) = %q, should not contain %q", tt.input, got, w)
				}
			}
		})
	}

	if got := StripHTML("  "); got != "" {
		t.Errorf("StripHTML(blank) = %q, want empty", got)
	}
	got := StripHTML("<p>One</p><p>Two</p>")
	if strings.Contains(got, "\n\n\n") || !strings.Contains(got, "One") || !strings.Contains(got, "Two") {
		t.Errorf("StripHTML(paragraphs) = %q", got)
	}
}

func TestMessage_GetBodyText(t *testing.T) {
	msg := &Message{BodyText: "plain", BodyHTML: "<p>html</p>"}
	if got := msg.GetBodyText(); got != "plain" {
		t.Errorf("GetBodyText() = %q, want plain", got)
	}
	msg = &Message{BodyHTML: "<p>html only</p>"}
	if got := msg.GetBodyText(); got != "html only" {
		t.Errorf("GetBodyText() = %q, want %q", got, "html only")
	}
	if got := (&Message{}).GetBodyText(); got != "" {
		t.Errorf("GetBodyText() = %q, want empty", got)
	}
}

func TestMessage_GetFirstFrom(t *testing.T) {
	if got := (&Message{}).GetFirstFrom(); got != (Address{}) {
		t.Errorf("GetFirstFrom() on empty = %+v", got)
	}
}

func TestIsBodyPart(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		filename    string
		disposition string
		want        bool
	}{
		{"plain with charset", "text/plain; charset=utf-8", "", "", true},
		{"html", "text/html", "", "", true},
		{"uppercase", "TEXT/PLAIN; CHARSET=UTF-8", "", "", true},
		{"inline disposition", "text/plain", "", "inline", true},
		{"pdf", "application/pdf", "", "", false},
		{"text with filename", "text/plain", "notes.txt", "", false},
		{"attachment disposition", "text/plain", "", "attachment", false},
		{"attachment with params", "text/html", "", `ATTACHMENT; filename="x.html"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &enmime.Part{ContentType: tt.contentType, FileName: tt.filename, Disposition: tt.disposition}
			if got := isBodyPart(p); got != tt.want {
				t.Errorf("isBodyPart() = %v, want %v", got, tt.want)
			}
		})
	}
}
