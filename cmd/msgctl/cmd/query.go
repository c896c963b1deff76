package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/engine"
	"github.com/wesm/msgctl/internal/filter"
	"github.com/wesm/msgctl/internal/search"
	"github.com/wesm/msgctl/internal/store"
)

var (
	queryFolder      string
	queryLimit       int
	queryFields      string
	querySelect      bool
	queryPreview     bool
	queryAgentUnread bool
)

var queryCmd = &cobra.Command{
	Use:   "query <query>",
	Short: "Search a folder with a Gmail-style query",
	Long: `Search a folder with a Gmail-style query. Results are listed newest
first and remembered as the folder's last results, so they can be acted on
with --last or added to the selection.

Run 'msgctl query-help' for the query grammar.

Examples:
  msgctl query 'from:alice is:unread'
  msgctl query 'in:archive subject:invoice newer:30d' --limit 10
  msgctl query 'larger:5M' --fields id,from,size --select`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")
		expr, err := search.Parse(q)
		if err != nil {
			printQueryError(cmd.ErrOrStderr(), q, err)
			return err
		}
		fields, err := parseFields(queryFields)
		if err != nil {
			return err
		}
		format, err := resolveFormat(os.Stdout)
		if err != nil {
			return err
		}

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		res, err := sess.engine.RunQuery(cmd.Context(), sess.account.Email, filter.CanonicalFolder(queryFolder), expr, engine.QueryOptions{
			Limit:       queryLimit,
			WithBody:    queryPreview,
			AgentUnread: queryAgentUnread,
		})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}

		if querySelect {
			if err := selectResults(cmd, sess.store, sess.account.Email, res); err != nil {
				return err
			}
		}
		return printQueryResult(cmd.OutOrStdout(), format, res, fields)
	},
}

var (
	inboxFolder      string
	inboxDays        int
	inboxUnreadOnly  bool
	inboxAgentUnread bool
	inboxLimit       int
	inboxFields      string
	inboxPreview     bool
)

var inboxCmd = &cobra.Command{
	Use:   "inbox [query]",
	Short: "List recent messages",
	Long: `List the newest messages in a folder (INBOX by default) from the last
few days. An optional query narrows the listing further.

The window defaults to [preferences] date_filter_days; --days 0 lists
regardless of date.

Examples:
  msgctl inbox
  msgctl inbox --unread-only --days 7
  msgctl inbox --agent-unread 'from:github'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := engine.InboxOptions{
			Days:        cfg.Preferences.DateFilterDays,
			UnreadOnly:  inboxUnreadOnly,
			AgentUnread: inboxAgentUnread,
			Limit:       inboxLimit,
			Preview:     inboxPreview,
		}
		if cmd.Flags().Changed("days") {
			opts.Days = inboxDays
		}
		if len(args) > 0 {
			q := strings.Join(args, " ")
			expr, err := search.Parse(q)
			if err != nil {
				printQueryError(cmd.ErrOrStderr(), q, err)
				return err
			}
			opts.Query = expr
		}
		fields, err := parseFields(inboxFields)
		if err != nil {
			return err
		}
		format, err := resolveFormat(os.Stdout)
		if err != nil {
			return err
		}

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		res, err := sess.engine.Inbox(cmd.Context(), sess.account.Email, filter.CanonicalFolder(inboxFolder), opts)
		if err != nil {
			return fmt.Errorf("inbox: %w", err)
		}
		return printQueryResult(cmd.OutOrStdout(), format, res, fields)
	},
}

// selectResults adds every listed message to the selection.
func selectResults(cmd *cobra.Command, st *store.Store, account string, res *engine.QueryResult) error {
	refs := make([]store.Ref, len(res.Messages))
	for i, m := range res.Messages {
		refs[i] = m.Ref()
	}
	added, err := st.AddToSelection(cmd.Context(), account, refs)
	if err != nil {
		return fmt.Errorf("select results: %w", err)
	}
	total, err := st.SelectionCount(cmd.Context(), account, "")
	if err != nil {
		return fmt.Errorf("count selection: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Selected %d new %s (%d total)\n", added, pluralize(added, "message", "messages"), total)
	return nil
}

const queryGrammar = `Query syntax

Terms are combined with AND by default. Use OR between terms, NOT or a
leading - to negate, and parentheses to group. Quote values with spaces.

  from:alice               sender contains "alice"
  to:team@example.com      recipient contains the text
  subject:"weekly report"  subject contains the phrase
  body:invoice             body contains the text (may be slow)
  is:unread  is:read       unread state
  is:starred is:flagged    starred state
  unread:true starred:false

  since:2024-01-01         on or after the day (alias after:)
  before:2024-02-01        before the day
  date:>2024-01-01         strictly after the day (date:< for before)
  newer:7d  older:1y       relative to today: d, w, m (30 days), y (365 days)

  larger:5M  smaller:100K  size in bytes, K, M or G
  size:>1M   size:<10K

  in:archive  folder:Sent  search this folder instead of INBOX
                           (must apply to the whole query)

Folder aliases: inbox, archive, trash, sent, drafts, spam/junk,
all/"all mail", starred.

Examples:
  from:alice is:unread
  (from:alice OR from:bob) subject:report newer:2w
  in:archive -is:read larger:1M
`

var queryHelpCmd = &cobra.Command{
	Use:   "query-help",
	Short: "Show the query grammar",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), queryGrammar)
	},
}

func init() {
	queryCmd.Flags().StringVarP(&queryFolder, "folder", "f", "", "folder to search (default INBOX, or the query's in:)")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 50, "maximum messages to list (0 for no limit)")
	queryCmd.Flags().StringVar(&queryFields, "fields", "", "comma-separated fields to show")
	queryCmd.Flags().BoolVar(&querySelect, "select", false, "add the results to the selection")
	queryCmd.Flags().BoolVar(&queryPreview, "preview", false, "include a body preview")
	queryCmd.Flags().BoolVar(&queryAgentUnread, "agent-unread", false, "skip messages already read with msgctl")
	rootCmd.AddCommand(queryCmd)

	inboxCmd.Flags().StringVarP(&inboxFolder, "folder", "f", "", "folder to list (default INBOX)")
	inboxCmd.Flags().IntVar(&inboxDays, "days", 0, "only messages from the last N days (default from config)")
	inboxCmd.Flags().BoolVar(&inboxUnreadOnly, "unread-only", false, "only unread messages")
	inboxCmd.Flags().BoolVar(&inboxAgentUnread, "agent-unread", false, "skip messages already read with msgctl")
	inboxCmd.Flags().IntVarP(&inboxLimit, "limit", "n", 20, "maximum messages to list (0 for no limit)")
	inboxCmd.Flags().StringVar(&inboxFields, "fields", "", "comma-separated fields to show")
	inboxCmd.Flags().BoolVar(&inboxPreview, "preview", false, "include a body preview")
	rootCmd.AddCommand(inboxCmd)

	rootCmd.AddCommand(queryHelpCmd)
}
