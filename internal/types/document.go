package types

import (
	"fmt"
	"strings"
	"time"
)

// Document is a fully processed document as handed to the discovery core by
// the document store. The core never mutates documents.
type Document struct {
	ID           string       `json:"id"`
	Scope        string       `json:"scope"`
	Title        string       `json:"title"`
	Summary      string       `json:"summary,omitempty"`
	Date         *time.Time   `json:"date,omitempty"` // Explicit document date, if one was extracted
	UploadedAt   time.Time    `json:"uploaded_at"`
	Signals      SignalCounts `json:"signals"`
	TeamMembers  []string     `json:"team_members,omitempty"`
	ProjectHints []string     `json:"project_hints,omitempty"`
}

// EffectiveDate returns the explicit date when present, else the upload time.
func (d Document) EffectiveDate() time.Time {
	if d.Date != nil && !d.Date.IsZero() {
		return *d.Date
	}
	return d.UploadedAt
}

// Excerpt returns the text used when a document is shown to the text
// generator: the summary if there is one, otherwise the title.
func (d Document) Excerpt() string {
	if s := strings.TrimSpace(d.Summary); s != "" {
		return s
	}
	return strings.TrimSpace(d.Title)
}

// Validate checks if the document has valid field values
func (d Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if d.EffectiveDate().IsZero() {
		return fmt.Errorf("document %s has neither a date nor an upload time", d.ID)
	}
	if err := d.Signals.Validate(); err != nil {
		return fmt.Errorf("document %s: %w", d.ID, err)
	}
	return nil
}

// SignalCounts holds the per-category eligibility signal counts extracted
// upstream from a document (or summed across a cluster).
type SignalCounts struct {
	Uncertainty int `json:"uncertainty"`
	Systematic  int `json:"systematic"`
	Failure     int `json:"failure"`
	Advancement int `json:"advancement"`
}

// Add returns the element-wise sum of two signal counts.
func (s SignalCounts) Add(other SignalCounts) SignalCounts {
	return SignalCounts{
		Uncertainty: s.Uncertainty + other.Uncertainty,
		Systematic:  s.Systematic + other.Systematic,
		Failure:     s.Failure + other.Failure,
		Advancement: s.Advancement + other.Advancement,
	}
}

// Total returns the number of signals across all categories.
func (s SignalCounts) Total() int {
	return s.Uncertainty + s.Systematic + s.Failure + s.Advancement
}

// Validate checks that no category is negative
func (s SignalCounts) Validate() error {
	switch {
	case s.Uncertainty < 0:
		return fmt.Errorf("uncertainty signal count cannot be negative (got %d)", s.Uncertainty)
	case s.Systematic < 0:
		return fmt.Errorf("systematic signal count cannot be negative (got %d)", s.Systematic)
	case s.Failure < 0:
		return fmt.Errorf("failure signal count cannot be negative (got %d)", s.Failure)
	case s.Advancement < 0:
		return fmt.Errorf("advancement signal count cannot be negative (got %d)", s.Advancement)
	}
	return nil
}

// FeatureVector is the numeric representation of one document for the
// duration of a single run. It is never persisted.
type FeatureVector []float64
