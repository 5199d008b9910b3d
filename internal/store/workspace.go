// internal/store/workspace.go
package store

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const workspaceColumns = `id, slug, display_name, account_login, account_type, provider_mode,
	installation_id, sealed_pat, status, public, installation_linked_at, created_at, updated_at`

// WorkspaceStore persists workspaces.
type WorkspaceStore struct {
	db *DB
}

func scanWorkspace(row pgx.Row) (*model.Workspace, error) {
	var w model.Workspace
	err := row.Scan(&w.ID, &w.Slug, &w.DisplayName, &w.AccountLogin, &w.AccountType,
		&w.ProviderMode, &w.InstallationID, &w.SealedPAT, &w.Status, &w.Public,
		&w.InstallationLinkedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *WorkspaceStore) Create(ctx context.Context, w *model.Workspace) error {
	row := s.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO workspaces (slug, display_name, account_login, account_type, provider_mode,
			installation_id, sealed_pat, status, public, installation_linked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		w.Slug, w.DisplayName, w.AccountLogin, w.AccountType, w.ProviderMode,
		w.InstallationID, w.SealedPAT, w.Status, w.Public, w.InstallationLinkedAt)
	return row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
}

func (s *WorkspaceStore) GetByID(ctx context.Context, id int64) (*model.Workspace, error) {
	w, err := scanWorkspace(s.db.conn(ctx).QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Kind: "workspace", Key: "by id"}
	}
	return w, err
}

// GetBySlug resolves a slug to its workspace. When a purged workspace's slug
// has been re-claimed by a live one, the live workspace wins.
func (s *WorkspaceStore) GetBySlug(ctx context.Context, slug string) (*model.Workspace, error) {
	w, err := scanWorkspace(s.db.conn(ctx).QueryRow(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces WHERE slug = $1
		ORDER BY (status <> 'PURGED') DESC, id LIMIT 1`, slug))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Kind: "workspace", Key: slug}
	}
	return w, err
}

func (s *WorkspaceStore) GetByInstallationID(ctx context.Context, installationID int64) (*model.Workspace, error) {
	w, err := scanWorkspace(s.db.conn(ctx).QueryRow(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces
		WHERE installation_id = $1 AND status <> 'PURGED' LIMIT 1`, installationID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Kind: "workspace", Key: "by installation"}
	}
	return w, err
}

func (s *WorkspaceStore) GetByAccountLogin(ctx context.Context, login string) (*model.Workspace, error) {
	w, err := scanWorkspace(s.db.conn(ctx).QueryRow(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces
		WHERE lower(account_login) = lower($1) AND status <> 'PURGED' LIMIT 1`, login))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Kind: "workspace", Key: login}
	}
	return w, err
}

// List returns every workspace regardless of status. Callers filter.
func (s *WorkspaceStore) List(ctx context.Context) ([]model.Workspace, error) {
	rows, err := s.db.conn(ctx).Query(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *WorkspaceStore) Update(ctx context.Context, w *model.Workspace) error {
	row := s.db.conn(ctx).QueryRow(ctx, `
		UPDATE workspaces SET slug = $2, display_name = $3, account_login = $4,
			account_type = $5, provider_mode = $6, installation_id = $7, sealed_pat = $8,
			status = $9, public = $10, installation_linked_at = $11, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		w.ID, w.Slug, w.DisplayName, w.AccountLogin, w.AccountType, w.ProviderMode,
		w.InstallationID, w.SealedPAT, w.Status, w.Public, w.InstallationLinkedAt)
	err := row.Scan(&w.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return &apperrors.NotFoundError{Kind: "workspace", Key: w.Slug}
	}
	return err
}

func (s *WorkspaceStore) UpdateStatus(ctx context.Context, id int64, status model.WorkspaceStatus) error {
	tag, err := s.db.conn(ctx).Exec(ctx,
		`UPDATE workspaces SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{Kind: "workspace", Key: "by id"}
	}
	return nil
}

// SlugTaken reports whether a non-purged workspace currently claims the slug.
func (s *WorkspaceStore) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var taken bool
	err := s.db.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workspaces WHERE slug = $1 AND status <> 'PURGED')`,
		slug).Scan(&taken)
	return taken, err
}

// AddOwner records the owner membership created alongside a new workspace.
func (s *WorkspaceStore) AddOwner(ctx context.Context, workspaceID, userID int64) error {
	_, err := s.db.conn(ctx).Exec(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, 'owner')
		ON CONFLICT (workspace_id, user_id) DO NOTHING`, workspaceID, userID)
	return err
}
