package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

// ListProjects returns the persisted projects of a scope with their tagged
// document IDs, ordered by creation time then ID
func (s *Store) ListProjects(ctx context.Context, scope string) ([]storage.StoredProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, scope, name, summary, tier, confidence, eligibility, created_at
		FROM projects
		WHERE scope = ?
		ORDER BY created_at, id
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []storage.StoredProject
	index := make(map[string]int)
	for rows.Next() {
		var (
			p         storage.StoredProject
			tier      string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.RunID, &p.Scope, &p.Name, &p.Summary, &tier,
			&p.Confidence, &p.Eligibility, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Tier = types.Tier(tier)
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("project %s: %w", p.ID, err)
		}
		index[p.ID] = len(projects)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return projects, nil
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT t.project_id, t.document_id
		FROM document_project_tags t
		JOIN projects p ON p.id = t.project_id
		WHERE p.scope = ?
		ORDER BY t.project_id, t.document_id
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query project tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var projectID, documentID string
		if err := tagRows.Scan(&projectID, &documentID); err != nil {
			return nil, fmt.Errorf("failed to scan project tag: %w", err)
		}
		if i, ok := index[projectID]; ok {
			projects[i].DocumentIDs = append(projects[i].DocumentIDs, documentID)
		}
	}
	return projects, tagRows.Err()
}

// ExistingProjects returns the persisted projects of a scope with their
// member documents loaded. Tagged documents that no longer exist are skipped.
func (s *Store) ExistingProjects(ctx context.Context, scope string) ([]types.ExistingProject, error) {
	stored, err := s.ListProjects(ctx, scope)
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, p := range stored {
		for _, id := range p.DocumentIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)

	docs, err := s.getDocumentsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	existing := make([]types.ExistingProject, 0, len(stored))
	for _, p := range stored {
		ep := types.ExistingProject{ID: p.ID, Name: p.Name, Summary: p.Summary}
		for _, id := range p.DocumentIDs {
			if doc, ok := docs[id]; ok {
				ep.Members = append(ep.Members, doc)
			}
		}
		existing = append(existing, ep)
	}
	return existing, nil
}
