package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/batch"
	"github.com/wesm/msgctl/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local message cache",
}

var cacheResetYes bool

var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every local record for the account",
	Long: `Delete the account's message ids, agent-read marks, selection, query
history and any staged draft. Nothing on the server is changed. Ids issued
before the reset are never reused.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if !cacheResetYes {
			return fmt.Errorf("this forgets all local state for %s; rerun with --yes to confirm", acc.Email)
		}
		if err := st.ResetCache(cmd.Context(), acc.Email); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cache reset for %s\n", acc.Email)
		return nil
	},
}

type statusJSON struct {
	Account   string       `json:"account"`
	Database  string       `json:"database"`
	Messages  int64        `json:"messages"`
	AgentRead int64        `json:"agent_read"`
	Gone      int64        `json:"gone"`
	Selected  int64        `json:"selected"`
	LastQuery *lastQuery   `json:"last_query,omitempty"`
	Draft     *draftStatus `json:"draft,omitempty"`
}

type lastQuery struct {
	Folder  string `json:"folder"`
	Query   string `json:"query"`
	Results int    `json:"results"`
	At      string `json:"at"`
}

type draftStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local state for the account",
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

		ctx := cmd.Context()
		stats, err := st.GetStats(ctx, acc.Email)
		if err != nil {
			return err
		}
		out := statusJSON{
			Account:   acc.Email,
			Database:  st.Path(),
			Messages:  stats.Messages,
			AgentRead: stats.AgentRead,
			Gone:      stats.Gone,
			Selected:  stats.SelectionCount,
		}
		q, err := st.LastQuery(ctx, acc.Email, "")
		if err != nil {
			return err
		}
		if q != nil {
			out.LastQuery = &lastQuery{
				Folder:  q.Folder,
				Query:   q.Query,
				Results: q.ResultCount,
				At:      q.ExecutedAt.Local().Format("2006-01-02 15:04"),
			}
		}
		d, err := st.GetDraft(ctx, acc.Email)
		switch {
		case errors.Is(err, store.ErrNoDraft):
		case err != nil:
			return err
		default:
			out.Draft = &draftStatus{ID: d.ID, Status: string(d.Status), Description: batch.Describe(d)}
		}

		if format == formatJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Account:    %s\n", out.Account)
		fmt.Fprintf(w, "Database:   %s\n", out.Database)
		fmt.Fprintf(w, "Messages:   %d known, %d read by msgctl, %d gone\n", out.Messages, out.AgentRead, out.Gone)
		fmt.Fprintf(w, "Selection:  %d\n", out.Selected)
		if out.LastQuery != nil {
			fmt.Fprintf(w, "Last query: %s in %s (%d results, %s)\n", out.LastQuery.Query, out.LastQuery.Folder, out.LastQuery.Results, out.LastQuery.At)
		}
		if out.Draft != nil {
			fmt.Fprintf(w, "Draft:      %s [%s] %s\n", out.Draft.ID, out.Draft.Status, out.Draft.Description)
		}
		return nil
	},
}

func init() {
	cacheResetCmd.Flags().BoolVarP(&cacheResetYes, "yes", "y", false, "confirm the reset")
	cacheCmd.AddCommand(cacheResetCmd)
	rootCmd.AddCommand(cacheCmd, statusCmd)
}
