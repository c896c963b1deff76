package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/batch"
	"github.com/wesm/msgctl/internal/store"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Review, apply or drop the staged draft",
	Long: `Action commands run with --draft stage their changes instead of
applying them. Each account holds at most one draft at a time.`,
}

var draftShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the staged draft",
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

		d, err := st.GetDraft(cmd.Context(), acc.Email)
		if errors.Is(err, store.ErrNoDraft) {
			fmt.Fprintln(cmd.OutOrStdout(), "No draft staged.")
			return nil
		}
		if err != nil {
			return err
		}
		return printDraft(cmd.OutOrStdout(), format, d)
	},
}

var draftDiscardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Drop the staged draft without applying it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, acc, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		// discarding needs no connection
		eng := batch.New(st, nil).WithLogger(logger)
		if err := eng.Discard(cmd.Context(), acc.Email); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Draft discarded.")
		return nil
	},
}

var draftCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Apply the staged draft",
	Long: `Apply the staged draft. Targets that already succeeded are skipped,
so committing a partially applied draft retries only what is left.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(os.Stdout)
		if err != nil {
			return err
		}
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		eng := sess.batchEngine().WithProgress(newCLIBatchProgress(cmd.ErrOrStderr()))
		outcome, err := eng.Commit(cmd.Context(), sess.account.Email)
		if errors.Is(err, store.ErrNoDraft) {
			return errors.New("no draft staged; stage one with an action command and --draft")
		}
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if err := printOutcome(cmd.OutOrStdout(), format, outcome); err != nil {
			return err
		}
		if !outcome.Committed {
			return incompleteError(outcome)
		}
		return nil
	},
}

type draftTargetJSON struct {
	ID      int64  `json:"id,omitempty"`
	Folder  string `json:"folder"`
	UID     uint32 `json:"uid"`
	Subject string `json:"subject,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func printDraft(w io.Writer, format string, d *store.Draft) error {
	succeeded, failed, pending := d.Counts()
	if format == formatJSON {
		targets := make([]draftTargetJSON, len(d.Targets))
		for i, t := range d.Targets {
			targets[i] = draftTargetJSON{
				ID:      t.ShadowID,
				Folder:  t.Folder,
				UID:     t.UID,
				Subject: t.Subject,
				Outcome: string(t.Outcome),
				Error:   t.Error,
			}
		}
		return printJSON(w, map[string]any{
			"draft_id":    d.ID,
			"action":      d.Action,
			"status":      d.Status,
			"description": batch.Describe(d),
			"params":      d.Params,
			"created_at":  d.CreatedAt,
			"succeeded":   succeeded,
			"failed":      failed,
			"pending":     pending,
			"targets":     targets,
		})
	}

	fmt.Fprintf(w, "Draft %s (%s, created %s)\n", d.ID, d.Status, d.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "%s\n", batch.Describe(d))
	fmt.Fprintf(w, "  succeeded: %d  failed: %d  pending: %d\n\n", succeeded, failed, pending)

	rows := make([][]string, len(d.Targets))
	for i, t := range d.Targets {
		id := "-"
		if t.ShadowID != 0 {
			id = strconv.FormatInt(t.ShadowID, 10)
		}
		rows[i] = []string{id, t.Folder, strconv.FormatUint(uint64(t.UID), 10), t.Subject, string(t.Outcome), t.Error}
	}
	renderTable(w, format, []string{"id", "folder", "uid", "subject", "outcome", "error"}, rows)
	return nil
}

func init() {
	draftCmd.AddCommand(draftShowCmd, draftDiscardCmd, draftCommitCmd)
	rootCmd.AddCommand(draftCmd)
}
