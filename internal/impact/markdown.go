package impact

import (
	"fmt"
	"io"
	"strings"
)

// WriteMarkdown renders r as a two-column table, one row per entry point,
// files in sorted order. An empty result renders a one-line notice.
func WriteMarkdown(w io.Writer, r Result) error {
	if r.Len() == 0 {
		_, err := fmt.Fprintln(w, "No affected entry points.")
		return err
	}
	var b strings.Builder
	b.WriteString("| Filename | Entry Point |\n")
	b.WriteString("|----------|-------------|\n")
	for _, file := range r.Files() {
		for _, e := range r[file] {
			fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(file), escapeCell(e.EntryPoint))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
