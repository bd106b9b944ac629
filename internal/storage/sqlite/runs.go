package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

const runColumns = `id, scope, status, started_at, completed_at, documents_analyzed,
	high_count, medium_count, low_count, noise_count, degraded, degraded_reason,
	duration_ms, error`

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordRun inserts or updates a run record
func (s *Store) RecordRun(ctx context.Context, run *types.DiscoveryRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return upsertRun(ctx, s.db, run)
}

func upsertRun(ctx context.Context, db execer, run *types.DiscoveryRun) error {
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		// A pending run has not started yet; keep the column non-null
		startedAt = time.Unix(0, 0)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO discovery_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			documents_analyzed = excluded.documents_analyzed,
			high_count = excluded.high_count,
			medium_count = excluded.medium_count,
			low_count = excluded.low_count,
			noise_count = excluded.noise_count,
			degraded = excluded.degraded,
			degraded_reason = excluded.degraded_reason,
			duration_ms = excluded.duration_ms,
			error = excluded.error
	`,
		run.ID, run.Scope, string(run.Status), formatTime(startedAt), formatNullTime(run.CompletedAt),
		run.DocumentsAnalyzed, run.HighCount, run.MediumCount, run.LowCount, run.NoiseCount,
		run.Degraded, run.DegradedReason, run.Duration.Milliseconds(), run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// SaveCandidates persists every candidate of a run and the run record itself
// in one transaction: a project row plus one tag row per member document.
// The scope's projects from earlier runs are replaced, not appended to.
func (s *Store) SaveCandidates(ctx context.Context, run *types.DiscoveryRun, candidates []types.ProjectCandidate) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	for i := range candidates {
		if err := candidates[i].Validate(); err != nil {
			return fmt.Errorf("invalid candidate %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertRun(ctx, tx, run); err != nil {
		return err
	}
	if err := clearScopeProjects(ctx, tx, run.Scope); err != nil {
		return err
	}

	projectStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO projects (id, run_id, scope, name, name_source, summary, tier, confidence,
			eligibility, start_date, end_date, team_members, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare project insert: %w", err)
	}
	defer projectStmt.Close()

	tagStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO document_project_tags (document_id, project_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tag insert: %w", err)
	}
	defer tagStmt.Close()

	createdAt := formatTime(s.now())
	for _, c := range candidates {
		team, err := encodeStrings(c.TeamMembers)
		if err != nil {
			return fmt.Errorf("failed to encode team members: %w", err)
		}
		projectID := uuid.New().String()
		if _, err := projectStmt.ExecContext(ctx,
			projectID, run.ID, run.Scope, c.Name, string(c.NameSource), c.Summary, string(c.Tier),
			c.Confidence, c.EligibilityScore, formatTime(c.StartDate), formatTime(c.EndDate), team, createdAt,
		); err != nil {
			return fmt.Errorf("failed to insert project %q: %w", c.Name, err)
		}
		for _, docID := range c.DocumentIDs {
			if _, err := tagStmt.ExecContext(ctx, docID, projectID); err != nil {
				return fmt.Errorf("failed to tag document %s: %w", docID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candidates for run %s: %w", run.ID, err)
	}
	return nil
}

func clearScopeProjects(ctx context.Context, tx *sql.Tx, scope string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_project_tags
		WHERE project_id IN (SELECT id FROM projects WHERE scope = ?)`, scope); err != nil {
		return fmt.Errorf("failed to clear project tags for scope %s: %w", scope, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("failed to clear projects for scope %s: %w", scope, err)
	}
	return nil
}

// GetRun returns a run by ID, or storage.ErrNotFound
func (s *Store) GetRun(ctx context.Context, id string) (*types.DiscoveryRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM discovery_runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs of a scope, newest first. An empty
// scope lists runs across all scopes.
func (s *Store) ListRuns(ctx context.Context, scope string, limit int) ([]*types.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM discovery_runs`
	args := []any{}
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*types.DiscoveryRun, error) {
	var runs []*types.DiscoveryRun
	for rows.Next() {
		var (
			run         types.DiscoveryRun
			status      string
			startedAt   string
			completedAt sql.NullString
			durationMs  int64
		)
		if err := rows.Scan(
			&run.ID, &run.Scope, &status, &startedAt, &completedAt, &run.DocumentsAnalyzed,
			&run.HighCount, &run.MediumCount, &run.LowCount, &run.NoiseCount,
			&run.Degraded, &run.DegradedReason, &durationMs, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = types.RunStatus(status)
		run.Duration = time.Duration(durationMs) * time.Millisecond

		var err error
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
		if run.Status == types.RunPending {
			run.StartedAt = time.Time{}
		}
		if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneRuns deletes finished runs of a scope that completed before cutoff and
// own no projects. The keep most recent runs of the scope are never deleted.
// Returns the number of runs removed.
func (s *Store) PruneRuns(ctx context.Context, scope string, cutoff time.Time, keep int) (int, error) {
	if scope == "" {
		return 0, fmt.Errorf("scope is required")
	}
	if keep < 0 {
		return 0, fmt.Errorf("keep cannot be negative (got %d)", keep)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM discovery_runs
		WHERE scope = ?
		  AND status IN ('completed', 'failed')
		  AND completed_at IS NOT NULL
		  AND completed_at < ?
		  AND NOT EXISTS (SELECT 1 FROM projects p WHERE p.run_id = discovery_runs.id)
		  AND id NOT IN (
			SELECT id FROM discovery_runs WHERE scope = ?
			ORDER BY started_at DESC, id LIMIT ?
		  )
	`, scope, formatTime(cutoff), scope, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs for %s: %w", scope, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned runs: %w", err)
	}
	return int(n), nil
}
