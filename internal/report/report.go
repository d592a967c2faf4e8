// Package report renders generated markdown content (postmortems,
// insights) to the HTML visualization files named in spec.md §6:
// visualizations/session-{batchId}.html. Grounded on the teacher's
// use of goldmark for markdown handling (internal/parser/markdown.go),
// repurposed here from "parse plan files" (a non-goal) to "render
// generated reports."
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/undercity-dev/undercity/internal/models"
)

// Postmortem summarizes one batch's outcome for the `postmortem`
// CLI command and its rendered HTML report.
type Postmortem struct {
	BatchID          string
	StartedAt        time.Time
	CompletedTasks   []models.Task
	FailedTasks      []models.Task
	PermanentFailures []*models.PermanentFailure
	Learnings        []*models.Learning
}

// ToMarkdown renders p as a markdown document, grounded on the
// teacher's reporting convention of a top-level heading followed by
// a tally table and per-section bullet lists.
func (p Postmortem) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Postmortem: %s\n\n", p.BatchID)
	fmt.Fprintf(&b, "Started: %s\n\n", p.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Completed: %d\n- Failed: %d\n- Permanent failures: %d\n\n",
		len(p.CompletedTasks), len(p.FailedTasks), len(p.PermanentFailures))

	if len(p.FailedTasks) > 0 {
		b.WriteString("## Failed tasks\n\n")
		for _, t := range p.FailedTasks {
			fmt.Fprintf(&b, "- `%s` — %s\n", t.ID, t.Objective)
		}
		b.WriteString("\n")
	}

	if len(p.PermanentFailures) > 0 {
		b.WriteString("## Permanent failures\n\n")
		for _, f := range p.PermanentFailures {
			fmt.Fprintf(&b, "- %s: %s (%d attempts)\n", f.TaskObjective, f.SampleMessage, f.AttemptCount)
		}
		b.WriteString("\n")
	}

	if len(p.Learnings) > 0 {
		b.WriteString("## New learnings\n\n")
		for _, l := range p.Learnings {
			fmt.Fprintf(&b, "- [%s] %s\n", l.Category, l.Content)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Insights aggregates recent activity across batches for the
// `insights` CLI command.
type Insights struct {
	Since            time.Time
	TaskCount        int
	SuccessRate      float64
	TopErrorPatterns []*models.ErrorPattern
	TopCorrelations  []models.KeywordCorrelation
}

// ToMarkdown renders i as a markdown document.
func (i Insights) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("# Insights\n\n")
	fmt.Fprintf(&b, "Since: %s\n\n", i.Since.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Tasks observed: %d\n- Success rate: %.1f%%\n\n", i.TaskCount, i.SuccessRate*100)

	if len(i.TopErrorPatterns) > 0 {
		b.WriteString("## Recurring error patterns\n\n")
		sorted := append([]*models.ErrorPattern(nil), i.TopErrorPatterns...)
		sort.Slice(sorted, func(a, c int) bool { return sorted[a].OccurrenceCount > sorted[c].OccurrenceCount })
		for _, p := range sorted {
			fmt.Fprintf(&b, "- `%s` (%d occurrences)\n", p.Signature, p.OccurrenceCount)
		}
		b.WriteString("\n")
	}

	if len(i.TopCorrelations) > 0 {
		b.WriteString("## File/keyword correlations\n\n")
		for _, c := range i.TopCorrelations {
			fmt.Fprintf(&b, "- %q → `%s` (%d)\n", c.Keyword, c.FilePath, c.OccurrenceCount)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderHTML converts markdown to a minimal standalone HTML document
// and writes it to dir/session-{batchId}.html, per spec.md §6.
func RenderHTML(dir, batchID, title, markdown string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create visualizations dir: %w", err)
	}

	var body bytes.Buffer
	if err := goldmark.New().Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	var doc bytes.Buffer
	fmt.Fprintf(&doc, "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", title)
	doc.Write(body.Bytes())
	doc.WriteString("\n</body>\n</html>\n")

	path := filepath.Join(dir, fmt.Sprintf("session-%s.html", batchID))
	if err := os.WriteFile(path, doc.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write html report: %w", err)
	}
	return path, nil
}
