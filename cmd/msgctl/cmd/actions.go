package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/batch"
	"github.com/wesm/msgctl/internal/filter"
	"github.com/wesm/msgctl/internal/store"
)

// targetFlags are shared by every action command.
type targetFlags struct {
	selection bool
	last      bool
	folder    string
	draft     bool
	keep      bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.selection, "selection", false, "act on the selection")
	cmd.Flags().BoolVar(&f.last, "last", false, "act on the last query results")
	cmd.Flags().StringVarP(&f.folder, "folder", "f", "", "with --selection or --last, only this folder")
	cmd.Flags().BoolVar(&f.draft, "draft", false, "stage a draft instead of applying now")
	cmd.Flags().BoolVar(&f.keep, "keep", false, "keep the selection after a successful action")
}

var (
	flagTargets  targetFlags
	flagRead     bool
	flagUnread   bool
	flagStar     bool
	flagUnstar   bool
	flagLabels   []string
	flagUnlabels []string
	flagMoveTo   string
)

var flagCmd = &cobra.Command{
	Use:   "flag [id]...",
	Short: "Change flags and labels",
	Long: `Mark messages read or unread, star or unstar them, add or remove
labels (IMAP keywords), and optionally move them afterwards.

Examples:
  msgctl flag 12 13 --read --starred
  msgctl flag --last --label receipts --move Archive
  msgctl flag --selection --unread --draft`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &store.FlagParams{
			Labels:   flagLabels,
			Unlabels: flagUnlabels,
			MoveTo:   flagMoveTo,
		}
		switch {
		case flagRead:
			p.Read = boolPtr(true)
		case flagUnread:
			p.Read = boolPtr(false)
		}
		switch {
		case flagStar:
			p.Starred = boolPtr(true)
		case flagUnstar:
			p.Starred = boolPtr(false)
		}
		if !p.HasAnyAction() {
			return errors.New("nothing to change: give --read, --unread, --starred, --unstarred, --label, --unlabel or --move")
		}
		return runAction(cmd, args, &flagTargets, store.ActionFlag, store.DraftParams{Flags: p})
	},
}

var moveTargets targetFlags

var moveCmd = &cobra.Command{
	Use:   "move <folder> [id]...",
	Short: "Move messages to a folder",
	Long: `Move messages to a folder.

Examples:
  msgctl move Archive 12 13
  msgctl move receipts --last`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[1:], &moveTargets, store.ActionMove, store.DraftParams{DestFolder: args[0]})
	},
}

var copyTargets targetFlags

var copyCmd = &cobra.Command{
	Use:   "copy <folder> [id]...",
	Short: "Copy messages to a folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[1:], &copyTargets, store.ActionCopy, store.DraftParams{DestFolder: args[0]})
	},
}

var archiveTargets targetFlags

var archiveCmd = &cobra.Command{
	Use:   "archive [id]...",
	Short: "Move messages to the archive folder",
	Long: `Move messages to the archive folder ([imap] archive_folder,
"Archive" by default).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args, &archiveTargets, store.ActionArchive, store.DraftParams{})
	},
}

var (
	deleteTargets   targetFlags
	deletePermanent bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete [id]...",
	Short: "Move messages to trash, or delete them permanently",
	Long: `Move messages to the trash folder. With --permanent, or for messages
already in the trash, they are expunged instead.

The trash folder is detected from the server's \Trash attribute unless
[imap] trash_folder is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args, &deleteTargets, store.ActionDelete, store.DraftParams{Permanent: deletePermanent})
	},
}

// runAction stages a draft for the targets and, unless --draft is given,
// commits it straight away.
func runAction(cmd *cobra.Command, args []string, tf *targetFlags, action store.ActionKind, params store.DraftParams) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 && !tf.selection && !tf.last {
		return errors.New("no messages given: pass ids, --selection or --last")
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

	ctx := cmd.Context()
	account := sess.account.Email
	eng := sess.batchEngine().WithProgress(newCLIBatchProgress(cmd.ErrOrStderr()))

	staged, err := eng.Stage(ctx, batch.StageRequest{
		Account:   account,
		Action:    action,
		Params:    params,
		ShadowIDs: ids,
		Selection: tf.selection,
		Last:      tf.last,
		Folder:    tf.folder,
	})
	if err != nil {
		return stageError(err)
	}
	if len(staged.Missing) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), (&store.IdentityNotFoundError{ShadowIDs: staged.Missing}).Error())
	}

	if tf.draft {
		return printStaged(cmd.OutOrStdout(), format, staged)
	}

	outcome, err := eng.Commit(ctx, account)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := printOutcome(cmd.OutOrStdout(), format, outcome); err != nil {
		return err
	}
	if !outcome.Committed {
		return incompleteError(outcome)
	}

	if tf.selection && !tf.keep {
		if _, err := sess.store.ClearSelection(ctx, account, filter.CanonicalFolder(tf.folder)); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}
	}
	return nil
}

func stageError(err error) error {
	var conflict *store.DraftConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w\n  review it:  msgctl draft show\n  apply it:   msgctl draft commit\n  drop it:    msgctl draft discard", err)
	}
	return err
}

func incompleteError(o *batch.Outcome) error {
	if o.Aborted != "" {
		return fmt.Errorf("stopped early (%s); %d failed, %d not attempted; run 'msgctl draft commit' to retry", o.Aborted, o.Failed, o.Pending)
	}
	return fmt.Errorf("%d of %d failed; run 'msgctl draft commit' to retry", o.Failed, o.Succeeded+o.Failed+o.Pending)
}

func printStaged(w io.Writer, format string, r *batch.StageResult) error {
	if format == formatJSON {
		return printJSON(w, map[string]any{
			"draft_id":    r.Draft.ID,
			"action":      r.Draft.Action,
			"description": r.Description,
			"targets":     len(r.Draft.Targets),
			"missing":     r.Missing,
		})
	}
	fmt.Fprintf(w, "Staged draft %s: %s\n", r.Draft.ID, r.Description)
	fmt.Fprintln(w, "Review with 'msgctl draft show', apply with 'msgctl draft commit'.")
	return nil
}

func printOutcome(w io.Writer, format string, o *batch.Outcome) error {
	if format == formatJSON {
		return printJSON(w, o)
	}
	fmt.Fprintln(w, o.Description)
	fmt.Fprintf(w, "  succeeded: %d  failed: %d  pending: %d\n", o.Succeeded, o.Failed, o.Pending)
	if len(o.Failures) > 0 {
		rows := make([][]string, len(o.Failures))
		for i, f := range o.Failures {
			rows[i] = []string{fmt.Sprint(f.ShadowID), f.Folder, fmt.Sprint(f.UID), f.Subject, f.Error}
		}
		fmt.Fprintln(w)
		renderTable(w, format, []string{"id", "folder", "uid", "subject", "error"}, rows)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func init() {
	flagCmd.Flags().BoolVar(&flagRead, "read", false, "mark read")
	flagCmd.Flags().BoolVar(&flagUnread, "unread", false, "mark unread")
	flagCmd.Flags().BoolVar(&flagStar, "starred", false, "star")
	flagCmd.Flags().BoolVar(&flagUnstar, "unstarred", false, "unstar")
	flagCmd.Flags().StringArrayVar(&flagLabels, "label", nil, "add a label (repeatable)")
	flagCmd.Flags().StringArrayVar(&flagUnlabels, "unlabel", nil, "remove a label (repeatable)")
	flagCmd.Flags().StringVar(&flagMoveTo, "move", "", "move to this folder after flagging")
	flagCmd.MarkFlagsMutuallyExclusive("read", "unread")
	flagCmd.MarkFlagsMutuallyExclusive("starred", "unstarred")
	flagTargets.register(flagCmd)

	moveTargets.register(moveCmd)
	copyTargets.register(copyCmd)
	archiveTargets.register(archiveCmd)
	deleteCmd.Flags().BoolVar(&deletePermanent, "permanent", false, "expunge instead of moving to trash")
	deleteTargets.register(deleteCmd)

	rootCmd.AddCommand(flagCmd, moveCmd, copyCmd, archiveCmd, deleteCmd)
}
