package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/filter"
	"github.com/wesm/msgctl/internal/store"
)

var selectFolder string

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Manage the selection",
	Long: `The selection is a persistent set of messages that action commands
can target with --selection. It survives between runs and follows
messages when they move.`,
}

var selectAddCmd = &cobra.Command{
	Use:   "add <id>...",
	Short: "Add messages to the selection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		added, missing, err := selectIDs(cmd.Context(), st, acc.Email, ids)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), (&store.IdentityNotFoundError{ShadowIDs: missing}).Error())
		}
		return printSelectionChange(cmd, st, acc.Email, "Added", added)
	},
}

var selectAddLastCmd = &cobra.Command{
	Use:   "add-last",
	Short: "Add the last query results to the selection",
	Long: `Add the results of the last query to the selection. With --folder,
the last query run in that folder is used; otherwise the most recent query
in any folder.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		added, err := selectLast(cmd.Context(), st, acc.Email, filter.CanonicalFolder(selectFolder))
		if err != nil {
			return err
		}
		return printSelectionChange(cmd, st, acc.Email, "Added", added)
	},
}

var selectRemoveCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove messages from the selection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.RemoveShadowIDsFromSelection(cmd.Context(), acc.Email, ids)
		if err != nil {
			return err
		}
		return printSelectionChange(cmd, st, acc.Email, "Removed", removed)
	},
}

var selectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the selection, grouped by folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(os.Stdout)
		if err != nil {
			return err
		}
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.GetSelection(cmd.Context(), acc.Email, filter.CanonicalFolder(selectFolder))
		if err != nil {
			return err
		}
		return printSelection(cmd.OutOrStdout(), format, entries)
	},
}

var selectClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the selection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ClearSelection(cmd.Context(), acc.Email, filter.CanonicalFolder(selectFolder))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s\n", n, pluralize(n, "message", "messages"))
		return nil
	},
}

var selectCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of selected messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.SelectionCount(cmd.Context(), acc.Email, filter.CanonicalFolder(selectFolder))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

// selectIDs adds the messages with the given ids to the selection at
// their current locations. Ids without a known location are returned in
// missing.
func selectIDs(ctx context.Context, st *store.Store, account string, ids []int64) (added int, missing []int64, err error) {
	records, err := st.GetMessages(ctx, account, ids)
	if err != nil {
		return 0, nil, err
	}
	var refs []store.Ref
	for _, id := range ids {
		rec, ok := records[id]
		if !ok || !rec.Present() {
			missing = append(missing, id)
			continue
		}
		refs = append(refs, store.Ref{
			ShadowID:  rec.ShadowID,
			MessageID: rec.MessageID,
			Folder:    rec.Folder,
			UID:       rec.UID,
			Subject:   rec.Subject,
		})
	}
	if len(refs) == 0 {
		return 0, missing, nil
	}
	added, err = st.AddToSelection(ctx, account, refs)
	return added, missing, err
}

// selectLast adds the last results of folder (or of the most recent query
// when folder is empty) to the selection.
func selectLast(ctx context.Context, st *store.Store, account, folder string) (int, error) {
	if folder == "" {
		last, err := st.LastQuery(ctx, account, "")
		if err != nil {
			return 0, err
		}
		if last == nil {
			return 0, fmt.Errorf("no query has been run yet")
		}
		folder = last.Folder
	}
	refs, err := st.LastResults(ctx, account, folder)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, fmt.Errorf("the last query in %s returned no messages", folder)
	}
	return st.AddToSelection(ctx, account, refs)
}

func printSelectionChange(cmd *cobra.Command, st *store.Store, account, verb string, n int) error {
	total, err := st.SelectionCount(cmd.Context(), account, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s (%d selected)\n", verb, n, pluralize(n, "message", "messages"), total)
	return nil
}

type selectionJSON struct {
	ID        int64  `json:"id,omitempty"`
	Folder    string `json:"folder"`
	UID       uint32 `json:"uid"`
	MessageID string `json:"message_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

func printSelection(w io.Writer, format string, entries []store.SelectionEntry) error {
	if format == formatJSON {
		byFolder := make(map[string][]selectionJSON)
		for _, e := range entries {
			byFolder[e.Folder] = append(byFolder[e.Folder], selectionJSON{
				ID:        e.ShadowID,
				Folder:    e.Folder,
				UID:       e.UID,
				MessageID: e.MessageID,
				Subject:   e.Subject,
			})
		}
		return printJSON(w, map[string]any{"count": len(entries), "folders": byFolder})
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "Selection is empty.")
		return nil
	}
	// entries are ordered by folder
	for i := 0; i < len(entries); {
		folder := entries[i].Folder
		j := i
		var rows [][]string
		for ; j < len(entries) && entries[j].Folder == folder; j++ {
			e := entries[j]
			id := "-"
			if e.ShadowID != 0 {
				id = strconv.FormatInt(e.ShadowID, 10)
			}
			rows = append(rows, []string{id, strconv.FormatUint(uint64(e.UID), 10), e.Subject})
		}
		if format == formatMarkdown {
			fmt.Fprintf(w, "## %s (%d)\n\n", folder, len(rows))
		} else {
			fmt.Fprintf(w, "%s (%d)\n", folder, len(rows))
		}
		renderTable(w, format, []string{"id", "uid", "subject"}, rows)
		fmt.Fprintln(w)
		i = j
	}
	fmt.Fprintf(w, "%d selected\n", len(entries))
	return nil
}

func init() {
	selectCmd.PersistentFlags().StringVarP(&selectFolder, "folder", "f", "", "limit to one folder")
	selectCmd.AddCommand(selectAddCmd, selectAddLastCmd, selectRemoveCmd, selectShowCmd, selectClearCmd, selectCountCmd)
	rootCmd.AddCommand(selectCmd)
}
