package types

import "fmt"

// ExistingProject is an already-confirmed project handed to the change
// detector together with its current member documents.
type ExistingProject struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Summary string     `json:"summary,omitempty"`
	Members []Document `json:"members"`
}

// DocumentMatch is one new document proposed for an existing project
type DocumentMatch struct {
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
	Tier       Tier    `json:"tier"`
}

// ProjectAddition batches every document proposed for one existing project
type ProjectAddition struct {
	ProjectID   string          `json:"project_id"`
	ProjectName string          `json:"project_name"`
	Documents   []DocumentMatch `json:"documents"`
}

// ImpactType classifies how a new document affects a project narrative
type ImpactType string

const (
	ImpactNone          ImpactType = "none"
	ImpactContradiction ImpactType = "contradiction" // Contradicts the current summary
	ImpactGapFilled     ImpactType = "gap_filled"    // Fills a previously noted evidentiary gap
	ImpactNewEvidence   ImpactType = "new_evidence"  // Adds substantial supporting evidence
)

// IsValid checks if the impact type value is valid
func (t ImpactType) IsValid() bool {
	switch t {
	case ImpactNone, ImpactContradiction, ImpactGapFilled, ImpactNewEvidence:
		return true
	}
	return false
}

// Severity ranks a narrative impact
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// NarrativeImpact flags a proposed addition that affects the project's story
type NarrativeImpact struct {
	ProjectID   string     `json:"project_id"`
	DocumentID  string     `json:"document_id"`
	Type        ImpactType `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
}

// ChangeAnalysisResult is the proposal returned by the change detector. It is
// never applied by the core; the caller decides what to accept.
type ChangeAnalysisResult struct {
	Scope            string             `json:"scope"`
	Additions        []ProjectAddition  `json:"additions"`
	NewCandidates    []ProjectCandidate `json:"new_candidates"`
	NarrativeImpacts []NarrativeImpact  `json:"narrative_impacts"`
	Unassigned       []string           `json:"unassigned"`
}

// ProposedAdditionCount returns the number of documents proposed for existing projects
func (r *ChangeAnalysisResult) ProposedAdditionCount() int {
	n := 0
	for _, a := range r.Additions {
		n += len(a.Documents)
	}
	return n
}

// Summary returns a human-readable summary of the analysis
func (r *ChangeAnalysisResult) Summary() string {
	return fmt.Sprintf(
		"Change analysis for %s\n"+
			"Additions to existing projects: %d documents across %d projects\n"+
			"New candidate projects: %d\n"+
			"Narrative impacts flagged: %d\n"+
			"Unassigned documents: %d",
		r.Scope,
		r.ProposedAdditionCount(), len(r.Additions),
		len(r.NewCandidates),
		len(r.NarrativeImpacts),
		len(r.Unassigned),
	)
}
