package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/engine"
	"github.com/wesm/msgctl/internal/filter"
	"github.com/wesm/msgctl/internal/store"
)

var (
	readFolder   string
	readUID      uint32
	readMarkSeen bool
	readNoMark   bool
	readRaw      bool
)

var readCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Show a full message",
	Long: `Fetch and show a full message by its msgctl id, or by --folder and --uid.

Reading marks the message as read by msgctl (see --agent-unread on query
and inbox). The server's \Seen flag is left alone unless --mark-seen is
given.

Examples:
  msgctl read 42
  msgctl read --folder Archive --uid 1234
  msgctl read 42 --raw > message.eml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref store.Ref
		switch {
		case len(args) == 1:
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ref.ShadowID = ids[0]
		case readUID != 0:
			ref.Folder = filter.CanonicalFolder(readFolder)
			if ref.Folder == "" {
				ref.Folder = engine.DefaultFolder
			}
			ref.UID = readUID
		default:
			return errors.New("give a message id, or --uid with --folder")
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

		res, err := sess.engine.Read(cmd.Context(), sess.account.Email, ref, engine.ReadOptions{
			MarkSeen:    readMarkSeen,
			NoAgentMark: readNoMark,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if readRaw {
			_, err := out.Write(res.Raw)
			return err
		}
		if format == formatJSON {
			return printJSON(out, res)
		}
		printMessage(out, format, res)
		return nil
	},
}

func printMessage(w io.Writer, format string, m *engine.ReadResult) {
	if format == formatMarkdown {
		fmt.Fprintf(w, "# %s\n\n", m.Subject)
		fmt.Fprintf(w, "- **ID:** %d\n", m.ShadowID)
		fmt.Fprintf(w, "- **From:** %s\n", strings.Join(m.From, ", "))
		if len(m.To) > 0 {
			fmt.Fprintf(w, "- **To:** %s\n", strings.Join(m.To, ", "))
		}
		if len(m.Cc) > 0 {
			fmt.Fprintf(w, "- **Cc:** %s\n", strings.Join(m.Cc, ", "))
		}
		fmt.Fprintf(w, "- **Date:** %s\n", m.Date.Local().Format("2006-01-02 15:04 MST"))
		fmt.Fprintf(w, "- **Folder:** %s (uid %d)\n", m.Folder, m.UID)
		for _, a := range m.Attachments {
			fmt.Fprintf(w, "- **Attachment:** %s (%s, %s)\n", a.Filename, a.ContentType, formatSize(int64(a.Size)))
		}
		fmt.Fprintf(w, "\n%s\n", m.Body)
		return
	}

	fmt.Fprintf(w, "ID:      %d\n", m.ShadowID)
	fmt.Fprintf(w, "From:    %s\n", strings.Join(m.From, ", "))
	if len(m.To) > 0 {
		fmt.Fprintf(w, "To:      %s\n", strings.Join(m.To, ", "))
	}
	if len(m.Cc) > 0 {
		fmt.Fprintf(w, "Cc:      %s\n", strings.Join(m.Cc, ", "))
	}
	fmt.Fprintf(w, "Subject: %s\n", m.Subject)
	fmt.Fprintf(w, "Date:    %s\n", m.Date.Local().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(w, "Folder:  %s (uid %d)\n", m.Folder, m.UID)
	if len(m.Flags) > 0 {
		fmt.Fprintf(w, "Flags:   %s\n", strings.Join(m.Flags, " "))
	}
	for _, a := range m.Attachments {
		fmt.Fprintf(w, "Attach:  %s (%s, %s)\n", a.Filename, a.ContentType, formatSize(int64(a.Size)))
	}
	fmt.Fprintf(w, "\n%s\n", m.Body)
}

func init() {
	readCmd.Flags().StringVarP(&readFolder, "folder", "f", "", "folder of --uid (default INBOX)")
	readCmd.Flags().Uint32Var(&readUID, "uid", 0, "read by UID instead of id")
	readCmd.Flags().BoolVar(&readMarkSeen, "mark-seen", false, "also set \\Seen on the server")
	readCmd.Flags().BoolVar(&readNoMark, "no-mark", false, "do not mark as read by msgctl")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "print the raw RFC 822 message")
	rootCmd.AddCommand(readCmd)
}
