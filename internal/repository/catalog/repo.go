package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

var ErrPhotoNotFound = errors.New("photo not found")

// Repository stores albums and photo records in Postgres.
// Writes always go to the master; GetPhoto may be served by a replica.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateAlbum returns the album named album.Name for its owner, creating it if needed.
// An existing album keeps its id; its batch label is refreshed.
func (r *Repository) CreateAlbum(ctx context.Context, album model.Album) (model.Album, error) {
	query := `
		INSERT INTO albums (owner_id, name, batch_label)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, name) DO UPDATE SET batch_label = EXCLUDED.batch_label
		RETURNING id, created_at
	`

	err := r.db.Master.QueryRowContext(
		ctx, query, album.OwnerID, album.Name, album.BatchLabel,
	).Scan(&album.ID, &album.CreatedAt)
	if err != nil {
		return model.Album{}, fmt.Errorf("create album: %w", err)
	}

	return album, nil
}

// CreatePhoto inserts a photo record. A nil id is replaced by a new one.
func (r *Repository) CreatePhoto(ctx context.Context, rec model.CatalogRecord) (model.CatalogRecord, error) {
	query := `
		INSERT INTO photos (
			id, owner_id, album_id, filename, mime_type, size_bytes, width, height,
			storage_key, storage_url, medium_url, thumbnail_url, degraded
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err := r.db.Master.QueryRowContext(
		ctx, query,
		rec.ID, rec.OwnerID, rec.ParentID, rec.Filename, rec.MimeType, rec.Size, rec.Width, rec.Height,
		rec.StorageKey, rec.StorageURL, rec.MediumURL, rec.ThumbnailURL, rec.Degraded,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return model.CatalogRecord{}, fmt.Errorf("create photo: %w", err)
	}

	return rec, nil
}

const photoColumns = `
	id, owner_id, album_id, filename, mime_type, size_bytes, width, height,
	storage_key, storage_url, medium_url, thumbnail_url, degraded, created_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s scanner) (model.CatalogRecord, error) {
	var rec model.CatalogRecord

	err := s.Scan(
		&rec.ID, &rec.OwnerID, &rec.ParentID, &rec.Filename, &rec.MimeType, &rec.Size, &rec.Width, &rec.Height,
		&rec.StorageKey, &rec.StorageURL, &rec.MediumURL, &rec.ThumbnailURL, &rec.Degraded, &rec.CreatedAt,
	)

	return rec, err
}

// GetPhoto retrieves a photo record by id.
func (r *Repository) GetPhoto(ctx context.Context, id uuid.UUID) (model.CatalogRecord, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = $1`

	rec, err := scanPhoto(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CatalogRecord{}, ErrPhotoNotFound
		}

		return model.CatalogRecord{}, fmt.Errorf("get photo: %w", err)
	}

	return rec, nil
}

// ListAlbumPhotos returns the photos of an album, oldest first.
func (r *Repository) ListAlbumPhotos(ctx context.Context, albumID uuid.UUID) ([]model.CatalogRecord, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE album_id = $1 ORDER BY created_at, filename`

	rows, err := r.db.Master.QueryContext(ctx, query, albumID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var out []model.CatalogRecord
	for rows.Next() {
		rec, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("list photos: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}

	return out, nil
}
