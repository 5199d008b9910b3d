// internal/store/monitor.go
package store

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const monitorColumns = `id, workspace_id, name_with_owner, repo_synced_at, labels_synced_at,
	milestones_synced_at, collaborators_synced_at, issues_prs_synced_at, issue_cursor, pr_cursor,
	backfill_high_water_mark, backfill_checkpoint, backfill_last_run_at, created_at, updated_at`

// MonitorStore persists repository monitors. (workspace, name_with_owner) is
// unique case-insensitively.
type MonitorStore struct {
	db *DB
}

func scanMonitor(row pgx.Row) (*model.RepositoryMonitor, error) {
	var m model.RepositoryMonitor
	err := row.Scan(&m.ID, &m.WorkspaceID, &m.NameWithOwner, &m.RepoSyncedAt, &m.LabelsSyncedAt,
		&m.MilestonesSyncedAt, &m.CollaboratorsSyncedAt, &m.IssuesPRsSyncedAt,
		&m.IssueCursor, &m.PRCursor,
		&m.BackfillHighWaterMark, &m.BackfillCheckpoint, &m.BackfillLastRunAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MonitorStore) Create(ctx context.Context, m *model.RepositoryMonitor) error {
	row := s.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO repository_monitors (workspace_id, name_with_owner)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		m.WorkspaceID, m.NameWithOwner)
	return row.Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (s *MonitorStore) Get(ctx context.Context, workspaceID int64, nameWithOwner string) (*model.RepositoryMonitor, error) {
	m, err := scanMonitor(s.db.conn(ctx).QueryRow(ctx, `
		SELECT `+monitorColumns+` FROM repository_monitors
		WHERE workspace_id = $1 AND lower(name_with_owner) = lower($2)`,
		workspaceID, nameWithOwner))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Kind: "monitor", Key: nameWithOwner}
	}
	return m, err
}

func (s *MonitorStore) ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error) {
	rows, err := s.db.conn(ctx).Query(ctx, `
		SELECT `+monitorColumns+` FROM repository_monitors
		WHERE workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RepositoryMonitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *MonitorStore) Delete(ctx context.Context, workspaceID int64, nameWithOwner string) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `
		DELETE FROM repository_monitors
		WHERE workspace_id = $1 AND lower(name_with_owner) = lower($2)`,
		workspaceID, nameWithOwner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{Kind: "monitor", Key: nameWithOwner}
	}
	return nil
}

// ExistsForRepository reports whether any workspace still monitors the
// repository. Used for the orphan-cleanup check after a monitor is removed.
func (s *MonitorStore) ExistsForRepository(ctx context.Context, nameWithOwner string) (bool, error) {
	var exists bool
	err := s.db.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM repository_monitors
			WHERE lower(name_with_owner) = lower($1))`, nameWithOwner).Scan(&exists)
	return exists, err
}

// UpdateSyncState writes the watermarks, cursors and backfill triple back.
func (s *MonitorStore) UpdateSyncState(ctx context.Context, m *model.RepositoryMonitor) error {
	row := s.db.conn(ctx).QueryRow(ctx, `
		UPDATE repository_monitors SET
			repo_synced_at = $2, labels_synced_at = $3, milestones_synced_at = $4,
			collaborators_synced_at = $5, issues_prs_synced_at = $6,
			issue_cursor = $7, pr_cursor = $8,
			backfill_high_water_mark = $9, backfill_checkpoint = $10, backfill_last_run_at = $11,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.RepoSyncedAt, m.LabelsSyncedAt, m.MilestonesSyncedAt, m.CollaboratorsSyncedAt,
		m.IssuesPRsSyncedAt, m.IssueCursor, m.PRCursor,
		m.BackfillHighWaterMark, m.BackfillCheckpoint, m.BackfillLastRunAt)
	err := row.Scan(&m.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return &apperrors.NotFoundError{Kind: "monitor", Key: m.NameWithOwner}
	}
	return err
}

// RetargetOwner rewrites the owner prefix of every monitor in the workspace
// whose owner matches oldOwner case-insensitively, preserving the repository
// name suffix. Returns the number of monitors rewritten.
func (s *MonitorStore) RetargetOwner(ctx context.Context, workspaceID int64, oldOwner, newOwner string) (int64, error) {
	tag, err := s.db.conn(ctx).Exec(ctx, `
		UPDATE repository_monitors
		SET name_with_owner = $3 || substr(name_with_owner, length($2) + 1),
			updated_at = now()
		WHERE workspace_id = $1
		  AND lower(name_with_owner) LIKE lower($2) || '/%'
		  AND lower(split_part(name_with_owner, '/', 1)) = lower($2)`,
		workspaceID, oldOwner, newOwner)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FirstNameWithOwner returns the oldest monitor's repository name for the
// workspace, or "" when it has none. Used as a legacy fallback when deriving
// the account login.
func (s *MonitorStore) FirstNameWithOwner(ctx context.Context, workspaceID int64) (string, error) {
	var name string
	err := s.db.conn(ctx).QueryRow(ctx, `
		SELECT name_with_owner FROM repository_monitors
		WHERE workspace_id = $1 ORDER BY id LIMIT 1`, workspaceID).Scan(&name)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}
