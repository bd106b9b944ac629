package storage

import (
	"context"
	"fmt"

	"github.com/steveyegge/rdscout/internal/types"
)

// ProjectView reads persisted projects from one store and resolves their
// member documents through another. It is used when documents live in the
// processing pipeline's database while projects live in the local sink.
type ProjectView struct {
	Projects  ProjectReader
	Documents DocumentStore
}

var _ ProjectReader = ProjectView{}

// ListProjects implements ProjectReader
func (v ProjectView) ListProjects(ctx context.Context, scope string) ([]StoredProject, error) {
	return v.Projects.ListProjects(ctx, scope)
}

// ExistingProjects implements ProjectReader. Members are looked up among the
// scope's processed documents; tagged documents no longer there are skipped.
func (v ProjectView) ExistingProjects(ctx context.Context, scope string) ([]types.ExistingProject, error) {
	stored, err := v.Projects.ListProjects(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return []types.ExistingProject{}, nil
	}

	docs, err := v.Documents.FetchProcessedDocuments(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("fetching project members: %w", err)
	}
	byID := make(map[string]types.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	existing := make([]types.ExistingProject, 0, len(stored))
	for _, p := range stored {
		ep := types.ExistingProject{ID: p.ID, Name: p.Name, Summary: p.Summary}
		for _, id := range p.DocumentIDs {
			if doc, ok := byID[id]; ok {
				ep.Members = append(ep.Members, doc)
			}
		}
		existing = append(existing, ep)
	}
	return existing, nil
}
