package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/wesm/msgctl/internal/engine"
	"github.com/wesm/msgctl/internal/search"
)

const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
	formatTable    = "table"
)

// resolveFormat picks the output format: the --output flag, then the
// configured default. "auto" (or nothing at all) means a table on a
// terminal and JSON otherwise.
func resolveFormat(out *os.File) (string, error) {
	f := outputFormat
	if f == "" && cfg != nil {
		f = cfg.Preferences.DefaultOutput
	}
	switch f {
	case formatJSON, formatMarkdown, formatTable:
		return f, nil
	case "", "auto":
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			return formatTable, nil
		}
		return formatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected json, markdown or table)", f)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// column limits for table output, in terminal cells
var columnWidths = map[string]int{
	"from":       30,
	"to":         30,
	"subject":    60,
	"preview":    60,
	"message_id": 40,
	"folder":     24,
}

// renderTable writes rows as an aligned text table or a Markdown table.
func renderTable(w io.Writer, format string, headers []string, rows [][]string) {
	if format == formatMarkdown {
		renderMarkdown(w, headers, rows)
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(row))
		for i, c := range row {
			c = cleanCell(c)
			if limit, ok := columnWidths[strings.ToLower(headers[i])]; ok {
				c = truncateWidth(c, limit)
			}
			cells[r][i] = c
			if cw := runewidth.StringWidth(c); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	// Styles degrade to plain text when w is not a terminal.
	r := lipgloss.NewRenderer(w)
	headerStyle := r.NewStyle().Bold(true)
	ruleStyle := r.NewStyle().Faint(true)

	writeRow := func(row []string, style *lipgloss.Style) {
		var sb strings.Builder
		for i, c := range row {
			if i == len(row)-1 {
				sb.WriteString(c)
				break
			}
			sb.WriteString(runewidth.FillRight(c, widths[i]))
			sb.WriteString("  ")
		}
		line := strings.TrimRight(sb.String(), " ")
		if style != nil {
			line = style.Render(line)
		}
		fmt.Fprintln(w, line)
	}

	upper := make([]string, len(headers))
	rules := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
		rules[i] = strings.Repeat("─", runewidth.StringWidth(h))
	}
	writeRow(upper, &headerStyle)
	writeRow(rules, &ruleStyle)
	for _, row := range cells {
		writeRow(row, nil)
	}
}

func renderMarkdown(w io.Writer, headers []string, rows [][]string) {
	esc := func(s string) string {
		return strings.ReplaceAll(cleanCell(s), "|", `\|`)
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(headers, " | "))
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))
	for _, row := range rows {
		escaped := make([]string, len(row))
		for i, c := range row {
			escaped[i] = esc(c)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(escaped, " | "))
	}
}

// cleanCell flattens control characters that would break a row.
func cleanCell(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\t", " ")
}

// truncateWidth truncates s to fit within limit terminal cells.
func truncateWidth(s string, limit int) string {
	if runewidth.StringWidth(s) <= limit {
		return s
	}
	if limit <= 3 {
		return runewidth.Truncate(s, limit, "")
	}
	return runewidth.Truncate(s, limit, "...")
}

// Message fields accepted by --fields.
var messageFields = []string{
	"id", "date", "from", "to", "subject", "folder", "uid", "size",
	"unread", "starred", "agent_read", "message_id", "preview",
}

var defaultTableFields = []string{"id", "date", "from", "subject", "unread"}

// parseFields validates a comma-separated --fields value.
func parseFields(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var fields []string
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		known := false
		for _, k := range messageFields {
			if k == f {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown field %q (available: %s)", f, strings.Join(messageFields, ", "))
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func fieldValue(m *engine.Message, field string) any {
	switch field {
	case "id":
		return m.ShadowID
	case "date":
		return m.Date
	case "from":
		return m.From
	case "to":
		return m.To
	case "subject":
		return m.Subject
	case "folder":
		return m.Folder
	case "uid":
		return m.UID
	case "size":
		return m.Size
	case "unread":
		return m.Unread
	case "starred":
		return m.Starred
	case "agent_read":
		return m.AgentRead
	case "message_id":
		return m.MessageID
	case "preview":
		return m.Preview
	}
	return nil
}

func fieldText(m *engine.Message, field string) string {
	switch v := fieldValue(m, field).(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		return v.Local().Format("2006-01-02 15:04")
	case bool:
		if v {
			return "yes"
		}
		return ""
	case int64:
		if field == "size" {
			return formatSize(v)
		}
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case string:
		return v
	}
	return ""
}

// printQueryResult writes a query result in the chosen format.
func printQueryResult(w io.Writer, format string, res *engine.QueryResult, fields []string) error {
	if format == formatJSON {
		if len(fields) == 0 {
			return printJSON(w, res)
		}
		msgs := make([]map[string]any, len(res.Messages))
		for i, m := range res.Messages {
			row := make(map[string]any, len(fields))
			for _, f := range fields {
				row[f] = fieldValue(m, f)
			}
			msgs[i] = row
		}
		return printJSON(w, map[string]any{
			"account":     res.Account,
			"folder":      res.Folder,
			"query":       res.Query,
			"post_filter": res.PostFilter,
			"matched":     res.Matched,
			"messages":    msgs,
		})
	}

	if len(fields) == 0 {
		fields = defaultTableFields
	}
	rows := make([][]string, len(res.Messages))
	for i, m := range res.Messages {
		row := make([]string, len(fields))
		for j, f := range fields {
			row[j] = fieldText(m, f)
		}
		rows[i] = row
	}
	if len(rows) > 0 {
		renderTable(w, format, fields, rows)
		fmt.Fprintln(w)
	}
	shown := len(res.Messages)
	switch {
	case shown == 0:
		fmt.Fprintf(w, "No messages in %s match %s\n", res.Folder, res.Query)
	case res.Matched > shown:
		fmt.Fprintf(w, "Showing %d of %d matches in %s\n", shown, res.Matched, res.Folder)
	default:
		fmt.Fprintf(w, "%d %s in %s\n", shown, pluralize(shown, "message", "messages"), res.Folder)
	}
	return nil
}

// printQueryError shows where a query failed to parse with a caret under
// the offending position.
func printQueryError(w io.Writer, query string, err error) {
	pos, ok := search.ErrorPosition(err)
	if !ok {
		return
	}
	if pos > len(query) {
		pos = len(query)
	}
	if pos < 0 {
		pos = 0
	}
	fmt.Fprintf(w, "  %s\n  %s^\n", query, strings.Repeat(" ", runewidth.StringWidth(query[:pos])))
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1fG", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1fM", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1fK", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
