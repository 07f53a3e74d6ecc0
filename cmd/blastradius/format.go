package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/jward/blastradius"
	"github.com/jward/blastradius/internal/impact"
)

// formatImpactText formats an impact result as aligned columns.
func formatImpactText(w io.Writer, res blastradius.Impact) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tENTRY POINT\tIDENTIFIER")
	for _, file := range res.Files() {
		for _, e := range res[file] {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", file, e.EntryPoint, e.Identifier)
		}
	}
	tw.Flush()
}

// formatEndpointsText formats endpoint groups as aligned columns.
func formatEndpointsText(w io.Writer, groups []CLIEndpointGroup) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSIGNATURE\tIDENTIFIER\tPLAN\tPREFS")
	for _, g := range groups {
		for _, ep := range g.Endpoints {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				g.File, ep.Signature, ep.Identifier, yesNo(ep.HasTestPlan), yesNo(ep.HasPreferences))
		}
	}
	tw.Flush()
}

// formatReportText formats an index run summary.
func formatReportText(w io.Writer, r *blastradius.IndexReport) {
	fmt.Fprintf(w, "Run:        %s\n", r.RunID)
	fmt.Fprintf(w, "Root:       %s\n", r.Root)
	fmt.Fprintf(w, "Files:      %d (%d failed to parse)\n", r.Files, r.ParseFailures)
	fmt.Fprintf(w, "Nodes:      %d\n", r.Nodes)
	fmt.Fprintf(w, "Edges:      %d\n", r.Edges)
	fmt.Fprintf(w, "Routes:     %d (%d duplicates rejected)\n", r.Routes, r.DuplicateEndpoints)
	fmt.Fprintf(w, "Unresolved: %d\n", r.Unresolved)
}

// formatDocumentText prints a stored document as indented JSON.
func formatDocumentText(w io.Writer, d CLIDocument) error {
	if d.Value == nil {
		fmt.Fprintf(w, "No %s stored for %s\n", d.Field, d.Identifier)
		return nil
	}
	out, err := json.MarshalIndent(d.Value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// writeResultText dispatches to the text formatter for the result type.
func writeResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case *blastradius.IndexReport:
		formatReportText(w, v)
	case []string:
		for _, id := range v {
			fmt.Fprintln(w, id)
		}
	case blastradius.Impact:
		formatImpactText(w, v)
	case []CLIEndpointGroup:
		formatEndpointsText(w, v)
	case CLIDocument:
		return formatDocumentText(w, v)
	case CLIUpdate:
		fmt.Fprintf(w, "Updated %s for %s\n", v.Field, v.Identifier)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// writeResult writes result to w in format. Markdown renders impact
// results as a table and everything else as text.
func writeResult(w io.Writer, format string, result CLIResult) error {
	switch format {
	case "text":
		return writeResultText(w, result)
	case "markdown":
		if res, ok := result.Results.(blastradius.Impact); ok {
			return impact.WriteMarkdown(w, res)
		}
		return writeResultText(w, result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text", "markdown", "yaml"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be one of %s", format, strings.Join(validFormats, ", "))
}
