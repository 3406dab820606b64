// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

const (
	// FormatText is a plain summary for terminals and logs.
	FormatText Format = "text"
	// FormatMarkdown is rendered through glamour.
	FormatMarkdown Format = "markdown"
	// FormatYAML is the full report as YAML.
	FormatYAML Format = "yaml"
	// FormatJSON is the full report as indented JSON.
	FormatJSON Format = "json"
)

// ErrInvalidFormat is returned by ParseFormat.
var ErrInvalidFormat = errors.New("invalid report format")

// Format selects a report rendering.
type Format string

// Formats lists every supported format.
func Formats() []Format { return []Format{FormatText, FormatMarkdown, FormatYAML, FormatJSON} }

// ParseFormat validates s as a Format. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	if s == "md" {
		return FormatMarkdown, nil
	}
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrInvalidFormat, s)
}

// Render writes the report in format. style is the glamour style used for
// markdown ("auto", "dark", "light", "notty").
func (r *Report) Render(w io.Writer, format Format, style string) error {
	switch format {
	case FormatText, "":
		return r.renderText(w)
	case FormatMarkdown:
		if style == "" {
			style = "auto"
		}
		out, err := glamour.Render(r.Markdown(), style)
		if err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		_, err = io.WriteString(w, out)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = w.Write(append(out, '\n'))
		return err
	default:
		return fmt.Errorf("%w %q", ErrInvalidFormat, format)
	}
}

func (r *Report) verdict() string {
	if r.Passed {
		return "PASS"
	}
	return "FAIL"
}

func (r *Report) renderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\trun %s\n", r.verdict(), r.Repository, r.RunID)
	if r.BaseURL != "" {
		fmt.Fprintf(tw, "server\t%s\n", r.BaseURL)
	}
	for _, s := range r.Steps {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", mark(s), s.Name, s.Duration.Round(time.Millisecond))
	}
	for _, rd := range r.Rounds {
		fmt.Fprintf(tw, "  round\t%s\t%s\t%s\n", rd.Tag, short(rd.Commit), roundState(rd))
	}
	for _, s := range r.Cleanup {
		fmt.Fprintf(tw, "  %s\tcleanup: %s\t%s\n", mark(s), s.Name, s.Duration.Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", firstLine(r.Error))
	}
	return tw.Flush()
}

// Markdown returns the report as a markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s `%s`\n\n", r.verdict(), r.Repository)
	fmt.Fprintf(&b, "Run `%s`", r.RunID)
	if r.BaseURL != "" {
		fmt.Fprintf(&b, " against `%s`", r.BaseURL)
	}
	b.WriteString(".\n\n## Steps\n\n| | Step | Duration |\n|---|---|---|\n")
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", mark(s), s.Name, s.Duration.Round(time.Millisecond))
	}
	if len(r.Rounds) > 0 {
		b.WriteString("\n## Rounds\n\n| Tag | Commit | Installed |\n|---|---|---|\n")
		for _, rd := range r.Rounds {
			fmt.Fprintf(&b, "| `%s` | `%s` | %s |\n", rd.Tag, short(rd.Commit), roundState(rd))
		}
	}
	if len(r.Cleanup) > 0 {
		b.WriteString("\n## Cleanup\n\n")
		for _, s := range r.Cleanup {
			fmt.Fprintf(&b, "- %s %s\n", mark(s), s.Name)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\n## Failure\n\n```\n%s\n```\n", r.Error)
	}
	return b.String()
}

func mark(s Step) string {
	if s.Error != "" {
		return "✗"
	}
	return "✓"
}

func roundState(rd Round) string {
	switch {
	case rd.Verified:
		return "verified " + rd.InstalledVersion
	case rd.InstalledVersion != "":
		return "stale " + rd.InstalledVersion
	case rd.Installed:
		return "installed"
	default:
		return "not installed"
	}
}

func short(hash string) string {
	if len(hash) > 10 {
		return hash[:10]
	}
	return hash
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
