package batch

import (
	"fmt"
	"strings"

	"github.com/wesm/msgctl/internal/store"
)

// Describe returns a one-line summary of what committing d will do, such
// as "Move 3 messages from 'INBOX' to 'Archive'".
func Describe(d *store.Draft) string {
	n := len(d.Targets)
	count := fmt.Sprintf("%d %s", n, plural(n, "message", "messages"))
	from := source(d)
	p := d.Params

	switch d.Action {
	case store.ActionFlag:
		return fmt.Sprintf("Flag %s in %s: %s", count, from, strings.Join(flagSummary(p.Flags), ", "))
	case store.ActionMove:
		return fmt.Sprintf("Move %s from %s to '%s'", count, from, p.DestFolder)
	case store.ActionCopy:
		return fmt.Sprintf("Copy %s from %s to '%s'", count, from, p.DestFolder)
	case store.ActionArchive:
		return fmt.Sprintf("Archive %s from %s to '%s'", count, from, p.DestFolder)
	case store.ActionDelete:
		if p.Permanent {
			return fmt.Sprintf("Permanently delete %s from %s", count, from)
		}
		return fmt.Sprintf("Move %s from %s to trash ('%s')", count, from, p.DestFolder)
	}
	return fmt.Sprintf("%s %s", d.Action, count)
}

func source(d *store.Draft) string {
	if d.SourceFolder != "" {
		return "'" + d.SourceFolder + "'"
	}
	folders := make(map[string]bool)
	for _, t := range d.Targets {
		folders[t.Folder] = true
	}
	return fmt.Sprintf("%d folders", len(folders))
}

func flagSummary(p *store.FlagParams) []string {
	if p == nil {
		return nil
	}
	var parts []string
	switch {
	case p.Read == nil:
	case *p.Read:
		parts = append(parts, "mark read")
	default:
		parts = append(parts, "mark unread")
	}
	switch {
	case p.Starred == nil:
	case *p.Starred:
		parts = append(parts, "star")
	default:
		parts = append(parts, "unstar")
	}
	for _, l := range p.Labels {
		parts = append(parts, "add label "+l)
	}
	for _, l := range p.Unlabels {
		parts = append(parts, "remove label "+l)
	}
	if p.MoveTo != "" {
		parts = append(parts, fmt.Sprintf("move to '%s'", p.MoveTo))
	}
	return parts
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
