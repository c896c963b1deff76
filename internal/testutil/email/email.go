// Package email provides test helpers for constructing raw RFC 5322 messages.
package email

import (
	"sort"
	"strings"
)

// Options configures a raw message. Empty From, To and Subject get
// placeholder values; an empty Date or MessageID omits the header.
type Options struct {
	From        string
	To          string
	Subject     string
	Date        string
	MessageID   string
	ContentType string
	Body        string
	Headers     map[string]string
}

// MakeRaw constructs a message with \r\n line endings.
func MakeRaw(opts Options) []byte {
	var b strings.Builder

	if opts.From == "" {
		opts.From = "sender@example.com"
	}
	if opts.To == "" {
		opts.To = "recipient@example.com"
	}
	if opts.Subject == "" {
		opts.Subject = "Test"
	}

	b.WriteString("From: " + opts.From + "\r\n")
	b.WriteString("To: " + opts.To + "\r\n")
	b.WriteString("Subject: " + opts.Subject + "\r\n")
	if opts.Date != "" {
		b.WriteString("Date: " + opts.Date + "\r\n")
	}
	if opts.MessageID != "" {
		b.WriteString("Message-ID: " + opts.MessageID + "\r\n")
	}
	ct := opts.ContentType
	if ct == "" {
		ct = `text/plain; charset="utf-8"`
	}
	b.WriteString("Content-Type: " + ct + "\r\n")

	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + ": " + opts.Headers[k] + "\r\n")
	}

	b.WriteString("\r\n")
	b.WriteString(opts.Body)

	return []byte(b.String())
}
