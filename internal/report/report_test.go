package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/models"
)

func TestPostmortem_ToMarkdown_IncludesTallies(t *testing.T) {
	p := Postmortem{
		BatchID:        "batch-1",
		StartedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CompletedTasks: []models.Task{{ID: "t1"}},
		FailedTasks:    []models.Task{{ID: "t2", Objective: "broke"}},
		PermanentFailures: []*models.PermanentFailure{
			{TaskObjective: "broke", SampleMessage: "panic", AttemptCount: 3},
		},
		Learnings: []*models.Learning{{Category: models.LearningCategory("fix"), Content: "retry with backoff"}},
	}

	md := p.ToMarkdown()
	assert.Contains(t, md, "# Postmortem: batch-1")
	assert.Contains(t, md, "Completed: 1")
	assert.Contains(t, md, "Failed: 1")
	assert.Contains(t, md, "t2")
	assert.Contains(t, md, "panic")
	assert.Contains(t, md, "retry with backoff")
}

func TestInsights_ToMarkdown_IncludesSuccessRate(t *testing.T) {
	i := Insights{
		Since:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TaskCount:   10,
		SuccessRate: 0.8,
		TopErrorPatterns: []*models.ErrorPattern{
			{Signature: "sig-a", OccurrenceCount: 5},
		},
		TopCorrelations: []models.KeywordCorrelation{
			{Keyword: "retry", FilePath: "internal/worker/worker.go", OccurrenceCount: 4},
		},
	}

	md := i.ToMarkdown()
	assert.Contains(t, md, "# Insights")
	assert.Contains(t, md, "Success rate: 80.0%")
	assert.Contains(t, md, "sig-a")
	assert.Contains(t, md, "internal/worker/worker.go")
}

func TestRenderHTML_WritesFile(t *testing.T) {
	dir := t.TempDir()
	path, err := RenderHTML(dir, "batch-7", "Postmortem: batch-7", "# Hello\n\nSome **bold** text.\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session-batch-7.html"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "<h1>Hello</h1>")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.Contains(t, html, "Postmortem: batch-7")
}
