package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	msgimap "github.com/wesm/msgctl/internal/imap"
)

var foldersAll bool

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List folders on the server",
	Long: `List selectable folders with their special-use role (\Archive, \Sent,
\Trash, ...). Use --all to include folders that cannot hold messages.`,
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

		folders, err := sess.client.ListFolders(cmd.Context())
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		folders = visibleFolders(folders, foldersAll)

		if format == formatJSON {
			type folderJSON struct {
				Name       string `json:"name"`
				SpecialUse string `json:"special_use,omitempty"`
				Selectable bool   `json:"selectable"`
			}
			out := make([]folderJSON, len(folders))
			for i, f := range folders {
				out[i] = folderJSON{Name: f.Name, SpecialUse: f.SpecialUse(), Selectable: f.Selectable()}
			}
			return printJSON(cmd.OutOrStdout(), out)
		}

		rows := make([][]string, len(folders))
		for i, f := range folders {
			rows[i] = []string{f.Name, strings.TrimPrefix(f.SpecialUse(), `\`)}
		}
		renderTable(cmd.OutOrStdout(), format, []string{"folder", "role"}, rows)
		return nil
	},
}

// visibleFolders drops non-selectable folders unless all is set and sorts
// INBOX first, then by name.
func visibleFolders(folders []msgimap.Folder, all bool) []msgimap.Folder {
	var out []msgimap.Folder
	for _, f := range folders {
		if all || f.Selectable() {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Name, out[j].Name
		if strings.EqualFold(a, "INBOX") != strings.EqualFold(b, "INBOX") {
			return strings.EqualFold(a, "INBOX")
		}
		return strings.ToLower(a) < strings.ToLower(b)
	})
	return out
}

func init() {
	foldersCmd.Flags().BoolVar(&foldersAll, "all", false, "include non-selectable folders")
	rootCmd.AddCommand(foldersCmd)
}
