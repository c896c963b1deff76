package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	imap "github.com/emersion/go-imap/v2"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/mime"
	"github.com/wesm/msgctl/internal/store"
	"github.com/wesm/msgctl/internal/textutil"
)

// ReadOptions controls the side effects of Read.
type ReadOptions struct {
	MarkSeen    bool // set \Seen on the server
	NoAgentMark bool // leave the local agent-read flag alone
}

// ReadAttachment describes an attachment without its content.
type ReadAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Inline      bool   `json:"inline,omitempty"`
}

// ReadResult is a fully fetched and decoded message.
type ReadResult struct {
	ShadowID    int64            `json:"id"`
	MessageID   string           `json:"message_id,omitempty"`
	Folder      string           `json:"folder"`
	UID         uint32           `json:"uid"`
	From        []string         `json:"from"`
	To          []string         `json:"to,omitempty"`
	Cc          []string         `json:"cc,omitempty"`
	Subject     string           `json:"subject"`
	Date        time.Time        `json:"date"`
	Flags       []string         `json:"flags"`
	Size        int64            `json:"size"`
	Body        string           `json:"body"`
	Attachments []ReadAttachment `json:"attachments,omitempty"`
	Raw         []byte           `json:"-"`
}

// Read fetches one message by shadow ID, or by folder and UID when the ref
// has no shadow ID, and marks it agent-read.
func (e *Engine) Read(ctx context.Context, account string, ref store.Ref, opts ReadOptions) (*ReadResult, error) {
	resolved, _, err := e.ResolveRefs(ctx, account, []store.Ref{ref})
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		if ref.ShadowID != 0 {
			return nil, &store.IdentityNotFoundError{ShadowIDs: []int64{ref.ShadowID}}
		}
		return nil, errors.New("a message id or folder and uid is required")
	}
	ref = resolved[0]

	raw, err := e.remote.FetchRaw(ctx, ref.Folder, imap.UID(ref.UID))
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	parsed, err := mime.Parse(raw.Raw)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	from := parsed.GetFirstFrom()
	id, err := e.store.Observe(ctx, store.Observation{
		Account:   account,
		Folder:    ref.Folder,
		UID:       ref.UID,
		MessageID: parsed.MessageID,
		Subject:   textutil.EnsureUTF8(parsed.Subject),
		From:      from.Email,
		Date:      dateOr(parsed.Date, raw.InternalDate),
		Size:      raw.Size,
	})
	if err != nil {
		return nil, err
	}

	res := &ReadResult{
		ShadowID:  id,
		MessageID: store.NormalizeMessageID(parsed.MessageID),
		Folder:    ref.Folder,
		UID:       ref.UID,
		From:      formatMIMEAddresses(parsed.From),
		To:        formatMIMEAddresses(parsed.To),
		Cc:        formatMIMEAddresses(parsed.Cc),
		Subject:   textutil.EnsureUTF8(parsed.Subject),
		Date:      dateOr(parsed.Date, raw.InternalDate),
		Size:      raw.Size,
		Body:      textutil.EnsureUTF8(parsed.GetBodyText()),
		Raw:       raw.Raw,
	}
	for _, f := range raw.Flags {
		res.Flags = append(res.Flags, string(f))
	}
	for _, a := range parsed.Attachments {
		res.Attachments = append(res.Attachments, ReadAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			Inline:      a.IsInline,
		})
	}

	if opts.MarkSeen {
		results, err := e.remote.Mutate(ctx, ref.Folder, []imap.UID{imap.UID(ref.UID)}, msgimap.Mutation{
			Kind:     msgimap.MutateFlags,
			AddFlags: []imap.Flag{imap.FlagSeen},
		})
		if err == nil && len(results) > 0 {
			err = results[0].Err
		}
		if err != nil {
			return nil, fmt.Errorf("mark seen: %w", err)
		}
	}
	if !opts.NoAgentMark {
		if err := e.store.MarkAgentRead(ctx, id); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func formatMIMEAddresses(addrs []mime.Address) []string {
	var out []string
	for _, a := range addrs {
		if a.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", textutil.EnsureUTF8(a.Name), a.Email))
		} else {
			out = append(out, a.Email)
		}
	}
	return out
}

func dateOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
