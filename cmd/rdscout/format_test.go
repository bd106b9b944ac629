package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/rdscout/internal/types"
)

func init() {
	color.NoColor = true
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{42, "42"},
		{999, "999"},
		{1000, "1,000"},
		{99999, "99,999"},
		{100000, "100,000"},
		{1234567, "1,234,567"},
		{2147483647, "2,147,483,647"},
		{-1, "-1"},
		{-1234567, "-1,234,567"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatNumber(tt.input), "formatNumber(%d)", tt.input)
	}
}

func TestPrintCandidates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printCandidates(&buf, []types.ProjectCandidate{{
		DocumentIDs:      []string{"d1", "d2", "d3"},
		Name:             "Kestrel",
		StartDate:        start,
		EndDate:          start.AddDate(0, 0, 30),
		TeamMembers:      []string{"Ada Lovelace", "Grace Hopper"},
		Confidence:       0.82,
		EligibilityScore: 0.74,
		Tier:             types.TierHigh,
		Summary:          "Battery cell cycling trials.",
	}})

	out := buf.String()
	assert.Contains(t, out, "[HIGH] Kestrel")
	assert.Contains(t, out, "confidence 0.82, eligibility 0.74")
	assert.Contains(t, out, "3 documents, 2024-01-01 to 2024-01-31 (30 days)")
	assert.Contains(t, out, "Team: Ada Lovelace, Grace Hopper")
	assert.Contains(t, out, "Battery cell cycling trials.")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	assert.Equal(t, "No discovery runs recorded\n", buf.String())

	run := types.NewDiscoveryRun("acme")
	require.NoError(t, run.Start(time.Now()))
	run.DocumentsAnalyzed = 1200
	run.MarkDegraded(types.DegradedInsufficientData)
	require.NoError(t, run.Complete(time.Now(), 1, 2, 0, 3))

	buf.Reset()
	printRuns(&buf, []*types.DiscoveryRun{run})
	out := buf.String()
	assert.Contains(t, out, run.ID)
	assert.Contains(t, out, "1,200 docs, 3 candidates (1/2/0), 3 unassigned")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "(degraded: insufficient_data)")
}

func TestPrintRun_Failed(t *testing.T) {
	run := types.NewDiscoveryRun("acme")
	require.NoError(t, run.Start(time.Now()))
	require.NoError(t, run.Fail(time.Now(), assert.AnError))

	var buf bytes.Buffer
	printRun(&buf, run)
	out := buf.String()
	assert.Contains(t, out, "Status:     failed")
	assert.Contains(t, out, "Error:      "+assert.AnError.Error())
}

func TestPrintChanges(t *testing.T) {
	var buf bytes.Buffer
	printChanges(&buf, &types.ChangeAnalysisResult{
		Scope: "acme",
		Additions: []types.ProjectAddition{{
			ProjectID:   "p1",
			ProjectName: "Kestrel",
			Documents:   []types.DocumentMatch{{DocumentID: "x1", Similarity: 0.93, Tier: types.TierHigh}},
		}},
		NarrativeImpacts: []types.NarrativeImpact{{
			ProjectID: "p1", DocumentID: "x1", Type: types.ImpactContradiction,
			Severity: types.SeverityHigh, Description: "Reports the opposite result",
		}},
		Unassigned: []string{"z1"},
	})

	out := buf.String()
	assert.Contains(t, out, "Additions to existing projects: 1 documents across 1 projects")
	assert.Contains(t, out, "[HIGH] x1 (similarity 0.93)")
	assert.Contains(t, out, "contradiction high on p1: Reports the opposite result")
	assert.NotContains(t, out, "New candidate projects\n")
}

func TestReadDocumentsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"n1","scope":"acme","title":"Cell test","uploaded_at":"2024-03-01T00:00:00Z"}]`), 0644))

	docs, err := readDocumentsFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "n1", docs[0].ID)

	require.NoError(t, os.WriteFile(path, []byte(`{"id":"n1"}`), 0644))
	_, err = readDocumentsFile(path)
	assert.ErrorContains(t, err, "parsing")

	_, err = readDocumentsFile(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "reading")
}

func TestWriteExampleConfig(t *testing.T) {
	root := t.TempDir()
	path, err := writeExampleConfig(root, false)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = writeExampleConfig(root, false)
	assert.ErrorContains(t, err, "already exists")

	_, err = writeExampleConfig(root, true)
	assert.NoError(t, err)
}
