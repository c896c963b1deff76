// Package engine runs queries against a remote mailbox: it translates a
// parsed query, searches, post-filters locally when needed, assigns
// identities to what it sees and records the result generation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/msgctl/internal/filter"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/search"
	"github.com/wesm/msgctl/internal/store"
	"github.com/wesm/msgctl/internal/textutil"
)

// DefaultFetchBatchSize is the number of messages fetched per FETCH.
const DefaultFetchBatchSize = 25

// DefaultFolder is searched when neither the query nor the caller names one.
const DefaultFolder = "INBOX"

// Remote is the part of a mailbox the engine uses. Mutations are limited
// to marking messages seen on read.
type Remote interface {
	msgimap.Searcher
	msgimap.Reader
	Mutate(ctx context.Context, folder string, uids []imap.UID, m msgimap.Mutation) ([]msgimap.MutationResult, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCapabilities sets what the server can search natively.
func WithCapabilities(caps filter.Capabilities) Option {
	return func(e *Engine) { e.caps = caps }
}

// WithFetchBatchSize sets how many headers are fetched per round trip.
func WithFetchBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fetchBatchSize = n
		}
	}
}

// WithClock overrides the time source for relative dates and the inbox
// window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine executes queries for one account.
type Engine struct {
	store          *store.Store
	remote         Remote
	logger         *slog.Logger
	caps           filter.Capabilities
	fetchBatchSize int
	now            func() time.Time
	translator     *filter.Translator
}

// New creates an Engine.
func New(st *store.Store, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		remote:         remote,
		logger:         slog.Default(),
		caps:           filter.FullCapabilities(),
		fetchBatchSize: DefaultFetchBatchSize,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.translator = filter.NewTranslator(e.caps, filter.WithClock(e.now))
	return e
}

// Message is one query result.
type Message struct {
	ShadowID  int64     `json:"id"`
	MessageID string    `json:"message_id,omitempty"`
	Folder    string    `json:"folder"`
	UID       uint32    `json:"uid"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Size      int64     `json:"size"`
	Unread    bool      `json:"unread"`
	Starred   bool      `json:"starred"`
	AgentRead bool      `json:"agent_read"`
	Preview   string    `json:"preview,omitempty"`
}

// Ref returns a reference to m suitable for the selection or history.
func (m *Message) Ref() store.Ref {
	return store.Ref{
		ShadowID:  m.ShadowID,
		MessageID: m.MessageID,
		Folder:    m.Folder,
		UID:       m.UID,
		Subject:   m.Subject,
	}
}

// QueryOptions tunes RunQuery.
type QueryOptions struct {
	// Limit caps the number of returned messages, newest first. Zero means
	// no limit.
	Limit int
	// WithBody fetches body text for previews even when the query does
	// not need it.
	WithBody bool
	// AgentUnread drops messages already marked agent-read.
	AgentUnread bool
	// HistoryKey is stored as the query string in the history. Defaults to
	// the canonical form of the expression.
	HistoryKey string
}

// QueryResult is the outcome of RunQuery.
type QueryResult struct {
	Account    string     `json:"account"`
	Folder     string     `json:"folder"`
	Query      string     `json:"query"`
	PostFilter bool       `json:"post_filter"`
	Matched    int        `json:"matched"`
	Messages   []*Message `json:"messages"`
}

// RunQuery evaluates expr against folder (or the folder named by an in:
// term, or INBOX) and records the results as the folder's latest
// generation.
func (e *Engine) RunQuery(ctx context.Context, account, folder string, expr search.Expr, opts QueryOptions) (*QueryResult, error) {
	crit, err := e.translator.Translate(expr)
	if err != nil {
		return nil, err
	}
	folder, err = scopedFolder(folder, crit.Folder)
	if err != nil {
		return nil, err
	}

	key := opts.HistoryKey
	if key == "" {
		key = expr.String()
	}

	e.logger.Debug("running query",
		"account", account,
		"folder", folder,
		"query", key,
		"post_filter", crit.PostFilter,
	)

	uids, err := e.remote.Search(ctx, folder, crit.Remote)
	if err != nil && !crit.PostFilter && isRejectedSearch(err) {
		// Servers that advertise IMAP4rev1 sometimes still reject LARGER or
		// BODY. Fall back to scanning everything.
		e.logger.Warn("server rejected search, filtering locally", "folder", folder, "error", err)
		crit.Remote = &imap.SearchCriteria{}
		crit.PostFilter = true
		uids, err = e.remote.Search(ctx, folder, crit.Remote)
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}

	// UIDs grow with arrival order.
	slices.SortFunc(uids, func(a, b imap.UID) int { return compareUID(b, a) })

	result := &QueryResult{
		Account:    account,
		Folder:     folder,
		Query:      key,
		PostFilter: crit.PostFilter,
	}
	if !crit.PostFilter {
		result.Matched = len(uids)
	}

	withBody := crit.NeedsBody || opts.WithBody
	for start := 0; start < len(uids); start += e.fetchBatchSize {
		if opts.Limit > 0 && len(result.Messages) >= opts.Limit {
			break
		}
		end := min(start+e.fetchBatchSize, len(uids))
		chunk := uids[start:end]

		headers, err := e.remote.FetchHeaders(ctx, folder, chunk, withBody)
		if err != nil {
			return nil, fmt.Errorf("fetch headers: %w", err)
		}
		slices.SortFunc(headers, func(a, b *msgimap.Header) int { return compareUID(b.UID, a.UID) })

		var matched []*msgimap.Header
		for _, h := range headers {
			if crit.PostFilter && !crit.Match(attributesOf(folder, h)) {
				continue
			}
			matched = append(matched, h)
		}
		if crit.PostFilter {
			result.Matched += len(matched)
		}

		msgs, err := e.observe(ctx, account, folder, matched)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if opts.AgentUnread && m.AgentRead {
				continue
			}
			if opts.Limit > 0 && len(result.Messages) >= opts.Limit {
				break
			}
			result.Messages = append(result.Messages, m)
		}
	}

	refs := make([]store.Ref, len(result.Messages))
	for i, m := range result.Messages {
		refs[i] = m.Ref()
	}
	if err := e.store.RecordResults(ctx, account, folder, key, refs); err != nil {
		return nil, err
	}

	e.logger.Info("query complete",
		"account", account,
		"folder", folder,
		"uids", len(uids),
		"returned", len(result.Messages),
	)
	return result, nil
}

// observe records identities for headers and builds result messages in
// the same order.
func (e *Engine) observe(ctx context.Context, account, folder string, headers []*msgimap.Header) ([]*Message, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	obs := make([]store.Observation, len(headers))
	for i, h := range headers {
		obs[i] = store.Observation{
			Account:   account,
			Folder:    folder,
			UID:       uint32(h.UID),
			MessageID: h.MessageID,
			Subject:   h.Subject,
			From:      h.From,
			Date:      h.Date,
			Size:      h.Size,
		}
	}
	ids, err := e.store.ObserveBatch(ctx, obs)
	if err != nil {
		return nil, err
	}
	agentRead, err := e.store.AgentReadSet(ctx, account, ids)
	if err != nil {
		return nil, err
	}

	msgs := make([]*Message, len(headers))
	for i, h := range headers {
		msgs[i] = &Message{
			ShadowID:  ids[i],
			MessageID: store.NormalizeMessageID(h.MessageID),
			Folder:    folder,
			UID:       uint32(h.UID),
			From:      h.From,
			To:        h.To,
			Subject:   h.Subject,
			Date:      h.Date,
			Size:      h.Size,
			Unread:    h.Unread(),
			Starred:   h.Starred(),
			AgentRead: agentRead[ids[i]],
			Preview:   preview(h.Body),
		}
	}
	return msgs, nil
}

// scopedFolder reconciles the caller's folder with one named in the query.
func scopedFolder(requested, fromQuery string) (string, error) {
	requested = filter.CanonicalFolder(requested)
	fromQuery = filter.CanonicalFolder(fromQuery)
	switch {
	case fromQuery == "":
		if requested == "" {
			return DefaultFolder, nil
		}
		return requested, nil
	case requested == "" || requested == fromQuery:
		return fromQuery, nil
	}
	return "", fmt.Errorf("%w: query names %q but folder %q was requested", filter.ErrFolderScope, fromQuery, requested)
}

func attributesOf(folder string, h *msgimap.Header) filter.Attributes {
	return filter.Attributes{
		Folder:  folder,
		From:    h.From,
		To:      h.To,
		Subject: h.Subject,
		Body:    h.Body,
		Unread:  h.Unread(),
		Starred: h.Starred(),
		Date:    h.Date,
		Size:    h.Size,
	}
}

func compareUID(a, b imap.UID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// isRejectedSearch reports whether the server refused the search keys
// rather than failing for another reason.
func isRejectedSearch(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr) && imapErr.Type == imap.StatusResponseTypeBad
}

const previewRunes = 200

func preview(body string) string {
	return textutil.Preview(body, previewRunes)
}
