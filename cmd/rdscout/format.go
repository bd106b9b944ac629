package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/rdscout/internal/types"
)

// formatNumber formats an integer with thousand separators
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// tierLabel renders a tier in its display color
func tierLabel(t types.Tier) string {
	label := strings.ToUpper(string(t))
	switch t {
	case types.TierHigh:
		return color.GreenString("%s", label)
	case types.TierMedium:
		return color.YellowString("%s", label)
	default:
		return color.New(color.FgHiBlack).Sprint(label)
	}
}

func statusLabel(s types.RunStatus) string {
	switch s {
	case types.RunCompleted:
		return color.GreenString("%s", s)
	case types.RunFailed:
		return color.RedString("%s", s)
	case types.RunRunning:
		return color.CyanString("%s", s)
	default:
		return string(s)
	}
}

// printCandidates writes one block per candidate, in the order given
func printCandidates(w io.Writer, candidates []types.ProjectCandidate) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	for _, c := range candidates {
		fmt.Fprintf(w, "  [%s] %s  %s\n", tierLabel(c.Tier), color.CyanString("%s", c.Name),
			gray(fmt.Sprintf("confidence %.2f, eligibility %.2f", c.Confidence, c.EligibilityScore)))
		fmt.Fprintf(w, "    %d documents, %s to %s (%.0f days)\n",
			c.DocumentCount(), c.StartDate.Format(time.DateOnly), c.EndDate.Format(time.DateOnly), c.SpanDays())
		if len(c.TeamMembers) > 0 {
			fmt.Fprintf(w, "    Team: %s\n", strings.Join(c.TeamMembers, ", "))
		}
		if c.Summary != "" {
			fmt.Fprintf(w, "    %s\n", c.Summary)
		}
		fmt.Fprintln(w)
	}
}

// printRuns writes a one-line summary per run
func printRuns(w io.Writer, runs []*types.DiscoveryRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No discovery runs recorded")
		return
	}
	for _, r := range runs {
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%s  %-10s %s  %s docs, %d candidates (%d/%d/%d), %d unassigned",
			r.ID, r.Scope, started, formatNumber(r.DocumentsAnalyzed), r.CandidateCount(),
			r.HighCount, r.MediumCount, r.LowCount, r.NoiseCount)
		fmt.Fprintf(w, "%s  %s", line, statusLabel(r.Status))
		if r.Degraded {
			fmt.Fprintf(w, " %s", color.YellowString("(degraded: %s)", r.DegradedReason))
		}
		fmt.Fprintln(w)
	}
}

// printRun writes the full detail of one run
func printRun(w io.Writer, r *types.DiscoveryRun) {
	fmt.Fprintf(w, "Run:        %s\n", r.ID)
	fmt.Fprintf(w, "Scope:      %s\n", r.Scope)
	fmt.Fprintf(w, "Status:     %s\n", statusLabel(r.Status))
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:    %s\n", r.StartedAt.Local().Format(time.RFC3339))
	}
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:  %s (%v)\n", r.CompletedAt.Local().Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Documents:  %s\n", formatNumber(r.DocumentsAnalyzed))
	fmt.Fprintf(w, "Candidates: %d (high: %d, medium: %d, low: %d)\n", r.CandidateCount(), r.HighCount, r.MediumCount, r.LowCount)
	fmt.Fprintf(w, "Unassigned: %d\n", r.NoiseCount)
	if r.Degraded {
		fmt.Fprintf(w, "Degraded:   %s\n", r.DegradedReason)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", color.RedString("%s", r.Error))
	}
}

// printChanges writes a change-analysis proposal grouped by kind
func printChanges(w io.Writer, r *types.ChangeAnalysisResult) {
	fmt.Fprintln(w, r.Summary())

	if len(r.Additions) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint("Proposed additions"))
		for _, a := range r.Additions {
			fmt.Fprintf(w, "  %s\n", color.CyanString("%s", a.ProjectName))
			for _, m := range a.Documents {
				fmt.Fprintf(w, "    [%s] %s (similarity %.2f)\n", tierLabel(m.Tier), m.DocumentID, m.Similarity)
			}
		}
	}
	if len(r.NewCandidates) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint("New candidate projects"))
		printCandidates(w, r.NewCandidates)
	}
	if len(r.NarrativeImpacts) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint("Narrative impacts"))
		for _, n := range r.NarrativeImpacts {
			fmt.Fprintf(w, "  %s %s on %s: %s\n",
				color.YellowString("%s", n.Type), n.Severity, n.ProjectID, n.Description)
			fmt.Fprintf(w, "    document %s\n", n.DocumentID)
		}
	}
}

// writeJSON writes v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
