package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/rdscout/internal/types"
)

const (
	// maxPromptItems caps the titles or excerpts sent in one prompt
	maxPromptItems = 5

	// maxExcerptChars truncates each excerpt before it goes into a prompt
	maxExcerptChars = 1200

	// maxNameChars bounds a generated project name
	maxNameChars = 60
)

type shortNameResponse struct {
	Name string `json:"name"`
}

type narrativeImpactResponse struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// GenerateShortName proposes a 2-5 word project name for a cluster from its
// member document titles
func (s *Supervisor) GenerateShortName(ctx context.Context, titles []string) (string, error) {
	titles = nonEmpty(titles, maxPromptItems)
	if len(titles) == 0 {
		return "", fmt.Errorf("no titles to name")
	}

	text, err := s.callAI(ctx, buildShortNamePrompt(titles), "short-name", s.simpleModel, 128)
	if err != nil {
		return "", err
	}

	parsed := Parse[shortNameResponse](text, "short name response")
	if !parsed.Success {
		return "", fmt.Errorf("failed to parse short name response: %s", parsed.Error)
	}
	name := cleanName(parsed.Data.Name)
	if name == "" {
		return "", fmt.Errorf("model returned an empty name")
	}
	return name, nil
}

// GenerateSummary writes a short plain-text summary of what a cluster's
// documents have in common
func (s *Supervisor) GenerateSummary(ctx context.Context, excerpts []string) (string, error) {
	excerpts = nonEmpty(excerpts, maxPromptItems)
	if len(excerpts) == 0 {
		return "", fmt.Errorf("no excerpts to summarize")
	}

	text, err := s.callAI(ctx, buildSummaryPrompt(excerpts), "summary", s.model, 512)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(text)
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

// ClassifyNarrativeImpact decides whether a document excerpt contradicts,
// fills a gap in, or adds evidence to a project summary. The returned impact
// has no project or document ID; the caller fills those in.
func (s *Supervisor) ClassifyNarrativeImpact(ctx context.Context, projectSummary, documentExcerpt string) (*types.NarrativeImpact, error) {
	projectSummary = strings.TrimSpace(projectSummary)
	documentExcerpt = strings.TrimSpace(documentExcerpt)
	if projectSummary == "" || documentExcerpt == "" {
		return nil, fmt.Errorf("project summary and document excerpt are required")
	}

	prompt := buildNarrativeImpactPrompt(projectSummary, truncateExcerpt(documentExcerpt))
	text, err := s.callAI(ctx, prompt, "narrative-impact", s.simpleModel, 256)
	if err != nil {
		return nil, err
	}

	parsed := Parse[narrativeImpactResponse](text, "narrative impact response")
	if !parsed.Success {
		return nil, fmt.Errorf("failed to parse narrative impact response: %s", parsed.Error)
	}

	impact := &types.NarrativeImpact{
		Type:        types.ImpactType(strings.ToLower(strings.TrimSpace(parsed.Data.Type))),
		Severity:    types.Severity(strings.ToLower(strings.TrimSpace(parsed.Data.Severity))),
		Description: strings.TrimSpace(parsed.Data.Description),
	}
	if !impact.Type.IsValid() {
		return nil, fmt.Errorf("unknown impact type %q", parsed.Data.Type)
	}
	if impact.Type != types.ImpactNone && !impact.Severity.IsValid() {
		impact.Severity = types.SeverityLow
	}
	return impact, nil
}

func buildShortNamePrompt(titles []string) string {
	var sb strings.Builder
	sb.WriteString("The following documents were grouped together because they appear to describe the same research and development project.\n\n")
	sb.WriteString("Document titles:\n")
	for _, t := range titles {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	sb.WriteString(`
Propose a short project name of 2 to 5 words that a technical lead would recognize.
Do not include dates, document types or the words "project" or "document".

Respond with JSON only:
{"name": "..."}`)
	return sb.String()
}

func buildSummaryPrompt(excerpts []string) string {
	var sb strings.Builder
	sb.WriteString("The following excerpts come from documents that appear to describe the same research and development project.\n\n")
	for i, e := range excerpts {
		fmt.Fprintf(&sb, "Excerpt %d:\n%s\n\n", i+1, truncateExcerpt(e))
	}
	sb.WriteString(`Write a summary of two or three sentences describing the technical objective of the work,
the main uncertainty being investigated and the approach taken.
Respond with the summary text only, without a heading or bullet points.`)
	return sb.String()
}

func buildNarrativeImpactPrompt(projectSummary, excerpt string) string {
	return fmt.Sprintf(`A new document is being proposed as evidence for an existing research and development project.

Current project summary:
%s

New document excerpt:
%s

Classify how the new document affects the project narrative:
- "contradiction": it contradicts a claim or result in the summary
- "gap_filled": it supplies evidence for something the summary leaves open
- "new_evidence": it adds substantial supporting evidence
- "none": it does not materially change the narrative

Severity is "high", "medium" or "low" and reflects how much the summary would need to change.

Respond with JSON only:
{"type": "...", "severity": "...", "description": "one sentence"}`, projectSummary, excerpt)
}

// nonEmpty returns at most limit trimmed, non-blank items
func nonEmpty(items []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

// cleanName trims quotes and whitespace and bounds the length on a word boundary
func cleanName(name string) string {
	name = strings.Trim(strings.TrimSpace(name), `"'`+"`")
	name = strings.Join(strings.Fields(name), " ")
	if len(name) <= maxNameChars {
		return name
	}
	cut := name[:maxNameChars]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func truncateExcerpt(s string) string {
	r := []rune(s)
	if len(r) <= maxExcerptChars {
		return s
	}
	return string(r[:maxExcerptChars]) + "..."
}
