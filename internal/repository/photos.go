package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/retina/retina-export-back/internal/domain"
)

// PhotosRepository reads the store-photo catalog. The export pipeline uses
// FindPhotos with no paging; the catalog endpoint pages through ListPhotos.
type PhotosRepository interface {
	FindPhotos(ctx context.Context, filter domain.PhotoFilter) ([]domain.Photo, error)
	ListPhotos(ctx context.Context, filter domain.PhotoFilter, page, pageSize int) ([]domain.Photo, int, error)
	MasterData(ctx context.Context) ([]domain.MasterDataRow, error)
}

// MemoryPhotosRepository serves a fixed photo set for tests and local runs.
type MemoryPhotosRepository struct {
	mu     sync.RWMutex
	photos []domain.Photo
}

func NewMemoryPhotosRepository(photos []domain.Photo) *MemoryPhotosRepository {
	return &MemoryPhotosRepository{photos: append([]domain.Photo(nil), photos...)}
}

func (r *MemoryPhotosRepository) Add(photo domain.Photo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos = append(r.photos, photo)
}

func (r *MemoryPhotosRepository) FindPhotos(_ context.Context, filter domain.PhotoFilter) ([]domain.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Photo, 0)
	for _, photo := range r.photos {
		if matchesFilter(photo, filter) {
			matched = append(matched, photo)
		}
	}
	return matched, nil
}

func (r *MemoryPhotosRepository) ListPhotos(ctx context.Context, filter domain.PhotoFilter, page, pageSize int) ([]domain.Photo, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	matched, err := r.FindPhotos(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.Photo{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryPhotosRepository) MasterData(_ context.Context) ([]domain.MasterDataRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.MasterDataRow]struct{})
	rows := make([]domain.MasterDataRow, 0)
	for _, photo := range r.photos {
		row := domain.MasterDataRow{
			Area:   photo.Store.Area,
			Region: photo.Store.Region,
			City:   photo.Store.City,
		}
		if _, ok := seen[row]; ok {
			continue
		}
		seen[row] = struct{}{}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Area != rows[j].Area {
			return rows[i].Area < rows[j].Area
		}
		if rows[i].Region != rows[j].Region {
			return rows[i].Region < rows[j].Region
		}
		return rows[i].City < rows[j].City
	})
	return rows, nil
}

func matchesFilter(photo domain.Photo, filter domain.PhotoFilter) bool {
	if filter.StartDate != nil && filter.EndDate != nil {
		if photo.CreatedAt.Before(*filter.StartDate) || photo.CreatedAt.After(*filter.EndDate) {
			return false
		}
	}
	if filter.ImageCategory != "" && photo.ImageCategory != filter.ImageCategory {
		return false
	}
	if filter.Area != "" && photo.Store.Area != filter.Area {
		return false
	}
	if filter.Region != "" && photo.Store.Region != filter.Region {
		return false
	}
	if filter.City != "" && photo.Store.City != filter.City {
		return false
	}
	return true
}
