package types

import (
	"fmt"
	"time"
)

// Tier buckets candidates (and change-detection matches) by confidence
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// IsValid checks if the tier value is valid
func (t Tier) IsValid() bool {
	switch t {
	case TierHigh, TierMedium, TierLow:
		return true
	}
	return false
}

// NameSource records where a candidate's name came from
type NameSource string

const (
	NameFromHint        NameSource = "hint"        // Most frequent project-name hint
	NameFromGenerator   NameSource = "generated"   // Text-generation service
	NameFromPlaceholder NameSource = "placeholder" // Deterministic fallback
)

// ProjectCandidate is the scored summary of one cluster of documents.
// The persistence sink turns it into a durable project plus one tag row per
// member document.
type ProjectCandidate struct {
	DocumentIDs      []string     `json:"document_ids"`
	Name             string       `json:"name"`
	NameSource       NameSource   `json:"name_source"`
	StartDate        time.Time    `json:"start_date"`
	EndDate          time.Time    `json:"end_date"`
	TeamMembers      []string     `json:"team_members,omitempty"`
	Signals          SignalCounts `json:"signals"`
	EligibilityScore float64      `json:"eligibility_score"`
	Confidence       float64      `json:"confidence"`
	Tier             Tier         `json:"tier"`
	Summary          string       `json:"summary"`
}

// DocumentCount returns the number of member documents
func (c *ProjectCandidate) DocumentCount() int {
	return len(c.DocumentIDs)
}

// SpanDays returns the number of days between the first and last member date
func (c *ProjectCandidate) SpanDays() float64 {
	return c.EndDate.Sub(c.StartDate).Hours() / 24
}

// Validate checks if the candidate has valid field values
func (c *ProjectCandidate) Validate() error {
	if len(c.DocumentIDs) == 0 {
		return fmt.Errorf("candidate must have at least one document")
	}
	if c.Name == "" {
		return fmt.Errorf("candidate name is required")
	}
	if c.EligibilityScore < 0.0 || c.EligibilityScore > 1.0 {
		return fmt.Errorf("eligibility_score must be between 0.0 and 1.0 (got %.2f)", c.EligibilityScore)
	}
	if c.Confidence < 0.0 || c.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", c.Confidence)
	}
	if c.Tier != "" && !c.Tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", c.Tier)
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end_date %s is before start_date %s",
			c.EndDate.Format(time.RFC3339), c.StartDate.Format(time.RFC3339))
	}
	return nil
}
