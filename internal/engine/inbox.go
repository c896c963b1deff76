package engine

import (
	"context"

	"github.com/wesm/msgctl/internal/search"
)

// InboxOptions selects which recent messages Inbox lists.
type InboxOptions struct {
	Days        int // only messages from the last Days days; 0 for all
	UnreadOnly  bool
	AgentUnread bool
	Limit       int
	Query       search.Expr // optional extra filter
	Preview     bool
}

// Inbox lists the newest messages of folder. It is a query like any other
// and replaces the folder's last results.
func (e *Engine) Inbox(ctx context.Context, account, folder string, opts InboxOptions) (*QueryResult, error) {
	expr := InboxExpr(opts)
	key := "inbox"
	if len(expr.Terms) > 0 {
		key += " " + expr.String()
	}
	return e.RunQuery(ctx, account, folder, expr, QueryOptions{
		Limit:       opts.Limit,
		WithBody:    opts.Preview,
		AgentUnread: opts.AgentUnread,
		HistoryKey:  key,
	})
}

// InboxExpr builds the query Inbox runs.
func InboxExpr(opts InboxOptions) *search.And {
	var terms []search.Expr
	if opts.Days > 0 {
		terms = append(terms, &search.Term{
			Field: search.FieldSince,
			Value: search.Value{Kind: search.KindDate, Date: search.Date{Amount: opts.Days, Unit: 'd'}},
		})
	}
	if opts.UnreadOnly {
		terms = append(terms, &search.Term{
			Field: search.FieldUnread,
			Value: search.Value{Kind: search.KindBool, Bool: true},
		})
	}
	if opts.Query != nil {
		terms = append(terms, opts.Query)
	}
	return &search.And{Terms: terms}
}
