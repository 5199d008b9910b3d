// internal/store/slughistory.go
package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"workspace-engine/internal/model"
)

// SlugHistoryStore persists rename records for redirect support.
type SlugHistoryStore struct {
	db *DB
}

func (s *SlugHistoryStore) Record(ctx context.Context, h *model.SlugHistory) error {
	row := s.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO slug_history (workspace_id, old_slug, new_slug, changed_at, redirect_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		h.WorkspaceID, h.OldSlug, h.NewSlug, h.ChangedAt, h.RedirectExpiresAt)
	return row.Scan(&h.ID)
}

// Prune keeps the most recent keep entries for the workspace and discards the
// rest.
func (s *SlugHistoryStore) Prune(ctx context.Context, workspaceID int64, keep int) error {
	_, err := s.db.conn(ctx).Exec(ctx, `
		DELETE FROM slug_history
		WHERE workspace_id = $1 AND id NOT IN (
			SELECT id FROM slug_history
			WHERE workspace_id = $1
			ORDER BY changed_at DESC, id DESC
			LIMIT $2)`, workspaceID, keep)
	return err
}

// ActiveRedirect returns the most recent rename record for oldSlug whose
// redirect has not expired, ignoring purged workspaces. Returns nil when no
// live redirect exists.
func (s *SlugHistoryStore) ActiveRedirect(ctx context.Context, oldSlug string, now time.Time) (*model.SlugHistory, error) {
	var h model.SlugHistory
	err := s.db.conn(ctx).QueryRow(ctx, `
		SELECT h.id, h.workspace_id, h.old_slug, h.new_slug, h.changed_at, h.redirect_expires_at
		FROM slug_history h
		JOIN workspaces w ON w.id = h.workspace_id AND w.status <> 'PURGED'
		WHERE h.old_slug = $1
		  AND (h.redirect_expires_at IS NULL OR h.redirect_expires_at > $2)
		ORDER BY h.changed_at DESC, h.id DESC
		LIMIT 1`, oldSlug, now).
		Scan(&h.ID, &h.WorkspaceID, &h.OldSlug, &h.NewSlug, &h.ChangedAt, &h.RedirectExpiresAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}
