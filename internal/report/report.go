// Package report persists research results as markdown and provides small
// markdown inspection helpers for display.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

// Save writes a research result to path as a markdown document: a metadata
// header, the report body, and a numbered sources section.
func Save(result *domain.Result, path string) error {
	var b strings.Builder

	b.WriteString("# Research Report\n\n")
	fmt.Fprintf(&b, "**Interaction ID:** `%s`\n\n", result.InteractionID)
	fmt.Fprintf(&b, "**Status:** %s\n\n", result.Status)
	fmt.Fprintf(&b, "**Created:** %s\n\n", result.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	if !result.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "**Completed:** %s\n\n", result.CompletedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Fprintf(&b, "**Tokens:** %d (input: %d, output: %d)\n\n",
		result.Usage.TotalTokens, result.Usage.InputTokens, result.Usage.OutputTokens)
	b.WriteString("---\n\n")

	b.WriteString(result.Report)
	b.WriteString("\n\n")

	if len(result.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for i, source := range result.Sources {
			title := source.Title
			if title == "" {
				title = source.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)", i+1, title, source.URL)
			if source.Snippet != "" {
				fmt.Fprintf(&b, "\n   > %s", source.Snippet)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
