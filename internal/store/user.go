// internal/store/user.go
package store

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"workspace-engine/internal/model"
)

// UserStore persists the account records used as workspace owners.
type UserStore struct {
	db *DB
}

// FindOrCreateByExternalID resolves an owner record from provider-supplied
// account data, creating it on first sight and refreshing login/avatar on
// subsequent ones.
func (s *UserStore) FindOrCreateByExternalID(ctx context.Context, externalID int64, login, avatarURL string) (*model.User, error) {
	var u model.User
	err := s.db.conn(ctx).QueryRow(ctx, `
		SELECT id, external_account_id, login, avatar_url, created_at
		FROM users WHERE external_account_id = $1`, externalID).
		Scan(&u.ID, &u.ExternalAccountID, &u.Login, &u.AvatarURL, &u.CreatedAt)
	if err == nil {
		if u.Login != login || u.AvatarURL != avatarURL {
			_, err = s.db.conn(ctx).Exec(ctx,
				`UPDATE users SET login = $2, avatar_url = $3 WHERE id = $1`,
				u.ID, login, avatarURL)
			if err != nil {
				return nil, err
			}
			u.Login, u.AvatarURL = login, avatarURL
		}
		return &u, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	err = s.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (external_account_id, login, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_account_id) DO UPDATE SET login = EXCLUDED.login,
			avatar_url = EXCLUDED.avatar_url
		RETURNING id, external_account_id, login, avatar_url, created_at`,
		externalID, login, avatarURL).
		Scan(&u.ID, &u.ExternalAccountID, &u.Login, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
