// internal/store/repository.go
package store

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const repositoryColumns = `id, provider_repo_id, full_name, name, private, description,
	stars_count, forks_count, open_issues_count, created_at, updated_at`

// RepositoryStore persists the shared repository records referenced by
// monitors across workspaces.
type RepositoryStore struct {
	db *DB
}

func scanRepository(row pgx.Row) (*model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.ProviderRepoID, &r.FullName, &r.Name, &r.Private, &r.Description,
		&r.StarsCount, &r.ForksCount, &r.OpenIssuesCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RepositoryStore) FindByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	r, err := scanRepository(s.db.conn(ctx).QueryRow(ctx, `
		SELECT `+repositoryColumns+` FROM repositories
		WHERE lower(full_name) = lower($1)`, fullName))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Kind: "repository", Key: fullName}
	}
	return r, err
}

// Upsert creates or refreshes a repository record keyed by its
// case-insensitive full name.
func (s *RepositoryStore) Upsert(ctx context.Context, r *model.Repository) error {
	row := s.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO repositories (provider_repo_id, full_name, name, private, description,
			stars_count, forks_count, open_issues_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ((lower(full_name))) DO UPDATE SET
			provider_repo_id = EXCLUDED.provider_repo_id,
			full_name = EXCLUDED.full_name,
			name = EXCLUDED.name,
			private = EXCLUDED.private,
			description = COALESCE(EXCLUDED.description, repositories.description),
			stars_count = EXCLUDED.stars_count,
			forks_count = EXCLUDED.forks_count,
			open_issues_count = EXCLUDED.open_issues_count,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		r.ProviderRepoID, r.FullName, r.Name, r.Private, r.Description,
		r.StarsCount, r.ForksCount, r.OpenIssuesCount)
	return row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (s *RepositoryStore) DeleteByFullName(ctx context.Context, fullName string) error {
	_, err := s.db.conn(ctx).Exec(ctx,
		`DELETE FROM repositories WHERE lower(full_name) = lower($1)`, fullName)
	return err
}

// RenameOwner rewrites the owner prefix on every repository record matching
// oldOwner, preserving the name suffix. Returns the number of rows rewritten.
func (s *RepositoryStore) RenameOwner(ctx context.Context, oldOwner, newOwner string) (int64, error) {
	tag, err := s.db.conn(ctx).Exec(ctx, `
		UPDATE repositories
		SET full_name = $2 || substr(full_name, length($1) + 1), updated_at = now()
		WHERE lower(full_name) LIKE lower($1) || '/%'
		  AND lower(split_part(full_name, '/', 1)) = lower($1)`,
		oldOwner, newOwner)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
