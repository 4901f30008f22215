package summarizer

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Formatter defines the interface for formatting a Summary.
type Formatter interface {
	// Format converts a Summary to a formatted string.
	Format(summary *Summary) string
}

// FormatFunc is a function adapter for the Formatter interface.
type FormatFunc func(summary *Summary) string

// Format implements the Formatter interface.
func (f FormatFunc) Format(summary *Summary) string {
	return f(summary)
}

// NewTextFormatter returns the aligned console table.
func NewTextFormatter() Formatter {
	return FormatFunc(formatText)
}

func formatText(s *Summary) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	if s.Jobs == nil {
		fmt.Fprintln(w, "CHANNEL\tFORMAT\tFRAMES\tDURATION\tERRORS")
		for _, r := range s.Listing {
			format := r.Format
			if !r.Supported {
				format += " (unsupported)"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", r.Channel, format, r.Frames, formatDuration(r.Duration), r.DecodeErrors)
		}
		w.Flush()
		return b.String()
	}

	fmt.Fprintln(w, "CHANNEL\tCODEC\tSTATUS\tFRAMES\tDROPPED\tDURATION\tOUTPUT")
	for _, r := range s.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Channel, dash(r.Codec), status(r.OK), r.Frames, r.Dropped, formatDuration(r.Duration), dash(r.Output))
	}
	w.Flush()

	for _, r := range s.Jobs {
		if r.Error != "" {
			fmt.Fprintf(&b, "%s: %s\n", r.Channel, r.Error)
		}
	}
	return b.String()
}

// NewMarkdownFormatter returns a Markdown report suitable for --report.
func NewMarkdownFormatter() Formatter {
	return FormatFunc(formatMarkdown)
}

func formatMarkdown(s *Summary) string {
	var b strings.Builder

	b.WriteString("# Video Extraction Summary\n\n")
	if s.Recording != "" {
		fmt.Fprintf(&b, "- **Recording**: `%s`\n", s.Recording)
	}
	if s.Backend != "" {
		fmt.Fprintf(&b, "- **Backend**: %s\n", s.Backend)
	}
	fmt.Fprintf(&b, "- **Generated**: %s\n", s.GeneratedAt.Format(time.RFC3339))
	if s.Elapsed > 0 {
		fmt.Fprintf(&b, "- **Elapsed**: %s\n", s.Elapsed.Round(time.Millisecond))
	}
	b.WriteString("\n")

	if s.Jobs == nil {
		b.WriteString("## Channels\n\n")
		b.WriteString("| Channel | Format | Frames | Duration | Decode errors |\n")
		b.WriteString("|---------|--------|-------:|---------:|--------------:|\n")
		for _, r := range s.Listing {
			format := r.Format
			if !r.Supported {
				format += " (unsupported)"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %d | %s | %d |\n", r.Channel, format, r.Frames, formatDuration(r.Duration), r.DecodeErrors)
		}
		return b.String()
	}

	b.WriteString("## Jobs\n\n")
	b.WriteString("| Channel | Codec | Status | Frames | Dropped | Duration | Output |\n")
	b.WriteString("|---------|-------|--------|-------:|--------:|---------:|--------|\n")
	for _, r := range s.Jobs {
		output := "-"
		if r.Output != "" {
			output = "`" + r.Output + "`"
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %d | %d | %s | %s |\n",
			r.Channel, dash(r.Codec), status(r.OK), r.Frames, r.Dropped, formatDuration(r.Duration), output)
	}

	var notes []string
	for _, r := range s.Jobs {
		if r.Error != "" {
			notes = append(notes, fmt.Sprintf("- `%s`: %s", r.Channel, escapePipes(r.Error)))
		}
		for _, w := range r.Warnings {
			notes = append(notes, fmt.Sprintf("- `%s` (warning): %s", r.Channel, escapePipes(w)))
		}
	}
	if len(notes) > 0 {
		b.WriteString("\n## Problems\n\n")
		b.WriteString(strings.Join(notes, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func status(ok bool) string {
	if ok {
		return "Completed"
	}
	return "Failed"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// formatDuration prints seconds with millisecond precision.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
