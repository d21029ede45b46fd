package diag

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Item is one rendered overlay line. Line and Col are 1-based for
// display.
type Item struct {
	Text     string
	Severity Severity
	Line     int
	Col      int
}

// BuildItems formats each diagnostic through the style template for its
// severity, or the fallback format when that severity has no template.
// Messages with embedded newlines are truncated at the first one.
func BuildItems(diags []*Diagnostic, styles map[string]string) []*Item {
	items := make([]*Item, 0, len(diags))
	for _, d := range diags {
		line := d.Line() + 1
		col := d.Column() + 1

		msg := d.Message
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}

		items = append(items, &Item{
			Text:     renderLine(styles[d.Severity.String()], d.Severity, line, col, msg),
			Severity: d.Severity,
			Line:     line,
			Col:      col,
		})
	}
	return items
}

func renderLine(tmpl string, sev Severity, line, col int, msg string) string {
	if tmpl == "" {
		return fmt.Sprintf("%d:%d %s %s", line, col, sev.Icon(), msg)
	}
	r := strings.NewReplacer(
		"%l", strconv.Itoa(line),
		"%c", strconv.Itoa(col),
		"%m", msg,
	)
	return r.Replace(tmpl)
}

// SortItems orders items by line, then column, then severity ordinal
// (more severe first), then rendered text. The order is total, so equal
// inputs always render identically.
func SortItems(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Col != b.Col {
			return a.Col < b.Col
		}
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		return a.Text < b.Text
	})
}
