package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retina/retina-export-back/internal/domain"
)

type PostgresUsersRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUsersRepository(pool *pgxpool.Pool) *PostgresUsersRepository {
	return &PostgresUsersRepository{pool: pool}
}

func (r *PostgresUsersRepository) UpsertByGoogleID(ctx context.Context, user *domain.User) (*domain.User, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (google_id, email, name, photo_url, access_token, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (google_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			photo_url = EXCLUDED.photo_url,
			access_token = CASE WHEN EXCLUDED.access_token <> '' THEN EXCLUDED.access_token ELSE users.access_token END,
			refresh_token = CASE WHEN EXCLUDED.refresh_token <> '' THEN EXCLUDED.refresh_token ELSE users.refresh_token END,
			updated_at = EXCLUDED.updated_at
		RETURNING id, google_id, email, name, photo_url, access_token, refresh_token, created_at, updated_at
	`, user.GoogleID, user.Email, user.Name, user.PhotoURL, user.AccessToken, user.RefreshToken, now)

	saved, err := scanUserRow(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return saved, nil
}

func (r *PostgresUsersRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, google_id, email, name, photo_url, access_token, refresh_token, created_at, updated_at
		FROM users WHERE id = $1
	`, id)

	user, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (r *PostgresUsersRepository) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE users
		SET access_token = CASE WHEN $2 <> '' THEN $2 ELSE access_token END,
			refresh_token = CASE WHEN $3 <> '' THEN $3 ELSE refresh_token END,
			updated_at = $4
		WHERE id = $1
	`, id, accessToken, refreshToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUserRow(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.GoogleID,
		&user.Email,
		&user.Name,
		&user.PhotoURL,
		&user.AccessToken,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
