package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retina/retina-export-back/internal/domain"
)

type PostgresPhotosRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPhotosRepository(pool *pgxpool.Pool) *PostgresPhotosRepository {
	return &PostgresPhotosRepository{pool: pool}
}

const photoColumns = `
	p.id, p.store_id, p.object_key, p.uploader_code, p.uploader_email, p.image_category, p.created_at,
	s.store_id, s.name, s.city, s.region, s.area`

func (r *PostgresPhotosRepository) FindPhotos(ctx context.Context, filter domain.PhotoFilter) ([]domain.Photo, error) {
	where, args := buildPhotoFilters(filter)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM photos p
		JOIN stores s ON s.store_id = p.store_id
		%s
		ORDER BY p.id ASC
	`, photoColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()
	return collectPhotos(rows)
}

func (r *PostgresPhotosRepository) ListPhotos(ctx context.Context, filter domain.PhotoFilter, page, pageSize int) ([]domain.Photo, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	where, args := buildPhotoFilters(filter)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM photos p JOIN stores s ON s.store_id = p.store_id %s`, where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count photos: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM photos p
		JOIN stores s ON s.store_id = p.store_id
		%s
		ORDER BY p.created_at DESC
		LIMIT $%d OFFSET $%d
	`, photoColumns, where, len(args)+1, len(args)+2)
	listArgs := append(args, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	photos, err := collectPhotos(rows)
	if err != nil {
		return nil, 0, err
	}
	return photos, total, nil
}

func (r *PostgresPhotosRepository) MasterData(ctx context.Context) ([]domain.MasterDataRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT area, region, city
		FROM stores
		GROUP BY area, region, city
		ORDER BY area ASC, region ASC, city ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query master data: %w", err)
	}
	defer rows.Close()

	result := make([]domain.MasterDataRow, 0)
	for rows.Next() {
		var row domain.MasterDataRow
		if err := rows.Scan(&row.Area, &row.Region, &row.City); err != nil {
			return nil, fmt.Errorf("scan master data row: %w", err)
		}
		result = append(result, row)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate master data: %w", rows.Err())
	}
	return result, nil
}

func buildPhotoFilters(filter domain.PhotoFilter) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	argIndex := 1

	if filter.StartDate != nil && filter.EndDate != nil {
		clauses = append(clauses, fmt.Sprintf("p.created_at BETWEEN $%d AND $%d", argIndex, argIndex+1))
		args = append(args, *filter.StartDate, *filter.EndDate)
		argIndex += 2
	}
	if filter.ImageCategory != "" {
		clauses = append(clauses, fmt.Sprintf("p.image_category = $%d", argIndex))
		args = append(args, filter.ImageCategory)
		argIndex++
	}
	if filter.Area != "" {
		clauses = append(clauses, fmt.Sprintf("s.area = $%d", argIndex))
		args = append(args, filter.Area)
		argIndex++
	}
	if filter.Region != "" {
		clauses = append(clauses, fmt.Sprintf("s.region = $%d", argIndex))
		args = append(args, filter.Region)
		argIndex++
	}
	if filter.City != "" {
		clauses = append(clauses, fmt.Sprintf("s.city = $%d", argIndex))
		args = append(args, filter.City)
		argIndex++
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type photoRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectPhotos(rows photoRows) ([]domain.Photo, error) {
	photos := make([]domain.Photo, 0)
	for rows.Next() {
		var photo domain.Photo
		if err := rows.Scan(
			&photo.ID,
			&photo.StoreID,
			&photo.ObjectKey,
			&photo.UploaderCode,
			&photo.UploaderEmail,
			&photo.ImageCategory,
			&photo.CreatedAt,
			&photo.Store.StoreID,
			&photo.Store.Name,
			&photo.Store.City,
			&photo.Store.Region,
			&photo.Store.Area,
		); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate photos: %w", rows.Err())
	}
	return photos, nil
}
