package repository

import (
	"context"
	"sync"
	"time"

	"github.com/retina/retina-export-back/internal/domain"
)

// UsersRepository persists Google accounts and their Drive credentials.
// UpdateTokens is the hook the Drive upload client calls whenever Google
// hands back refreshed tokens mid-upload.
type UsersRepository interface {
	UpsertByGoogleID(ctx context.Context, user *domain.User) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error
}

type MemoryUsersRepository struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*domain.User
}

func NewMemoryUsersRepository() *MemoryUsersRepository {
	return &MemoryUsersRepository{
		nextID: 1,
		users:  make(map[int64]*domain.User),
	}
}

func (r *MemoryUsersRepository) UpsertByGoogleID(_ context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range r.users {
		if existing.GoogleID == user.GoogleID {
			existing.Email = user.Email
			existing.Name = user.Name
			existing.PhotoURL = user.PhotoURL
			if user.AccessToken != "" {
				existing.AccessToken = user.AccessToken
			}
			if user.RefreshToken != "" {
				existing.RefreshToken = user.RefreshToken
			}
			existing.UpdatedAt = now
			clone := *existing
			return &clone, nil
		}
	}

	created := *user
	created.ID = r.nextID
	created.CreatedAt = now
	created.UpdatedAt = now
	r.nextID++
	r.users[created.ID] = &created

	clone := created
	return &clone, nil
}

func (r *MemoryUsersRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *MemoryUsersRepository) UpdateTokens(_ context.Context, id int64, accessToken, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	if accessToken != "" {
		user.AccessToken = accessToken
	}
	if refreshToken != "" {
		user.RefreshToken = refreshToken
	}
	user.UpdatedAt = time.Now().UTC()
	return nil
}
