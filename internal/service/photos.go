package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"time"

	"github.com/retina/retina-export-back/internal/cache"
	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/objstore"
	"github.com/retina/retina-export-back/internal/repository"
)

const (
	masterDataCacheKey = "catalog:master-data"
	masterDataCacheTTL = 10 * time.Minute
)

// PhotosService serves the catalog: paged upload listings, the distinct
// location rows behind the filter dropdowns, and image passthrough from the
// object store.
type PhotosService struct {
	photos repository.PhotosRepository
	store  objstore.ObjectStore
	cache  cache.Cache
	logger *log.Logger
}

func NewPhotosService(photos repository.PhotosRepository, store objstore.ObjectStore, cache cache.Cache, logger *log.Logger) *PhotosService {
	return &PhotosService{photos: photos, store: store, cache: cache, logger: logger}
}

// UploadView is one catalog row as the frontend renders it.
type UploadView struct {
	ID            int64  `json:"id"`
	UploaderCode  string `json:"uploaderSfCode"`
	UploaderEmail string `json:"uploaderEmail"`
	CreatedAt     string `json:"createdAt"`
	ImageCategory string `json:"imageCategory"`
	Filename      string `json:"filename"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	OutletName    string `json:"outletName"`
	OutletCity    string `json:"outletCity"`
	OutletRegion  string `json:"outletRegion"`
	OutletArea    string `json:"outletArea"`
}

// UploadPage is one page of catalog rows with paging metadata.
type UploadPage struct {
	Items      []UploadView `json:"items"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}

func (s *PhotosService) List(ctx context.Context, filter domain.PhotoFilter, page, pageSize int) (*UploadPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	photos, total, err := s.photos.ListPhotos(ctx, filter, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}

	items := make([]UploadView, 0, len(photos))
	for _, photo := range photos {
		items = append(items, UploadView{
			ID:            photo.ID,
			UploaderCode:  photo.UploaderCode,
			UploaderEmail: photo.UploaderEmail,
			CreatedAt:     photo.CreatedAt.UTC().Format(time.RFC3339),
			ImageCategory: photo.ImageCategory,
			Filename:      path.Base(photo.ObjectKey),
			ThumbnailURL:  "/api/image?filename=" + url.QueryEscape(photo.ObjectKey),
			OutletName:    photo.Store.Name,
			OutletCity:    photo.Store.City,
			OutletRegion:  photo.Store.Region,
			OutletArea:    photo.Store.Area,
		})
	}

	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}
	return &UploadPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// MasterData returns the distinct area/region/city rows. The result only
// changes when new outlets appear, so it sits in the cache for a few
// minutes.
func (s *PhotosService) MasterData(ctx context.Context) ([]domain.MasterDataRow, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, masterDataCacheKey); ok {
			var rows []domain.MasterDataRow
			if err := json.Unmarshal(data, &rows); err == nil {
				return rows, nil
			}
			s.logf("discarding malformed master data cache entry")
		}
	}

	rows, err := s.photos.MasterData(ctx)
	if err != nil {
		return nil, fmt.Errorf("load master data: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(rows); err == nil {
			s.cache.Set(ctx, masterDataCacheKey, data, masterDataCacheTTL)
		}
	}
	return rows, nil
}

// Image streams one object from the store. The caller owns the reader.
func (s *PhotosService) Image(ctx context.Context, key string) (io.ReadCloser, *objstore.ObjectInfo, error) {
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("check object: %w", err)
	}
	if !exists {
		return nil, nil, repository.ErrNotFound
	}
	return s.store.Open(ctx, key)
}

func (s *PhotosService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
