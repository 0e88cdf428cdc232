package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, mock
}

// newRepo returns a repository over a master and one replica. The replica has no
// expectations, so any statement routed to it fails the test.
func newRepo(t *testing.T) (*Repository, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	master, masterMock := newMock(t)
	replica, replicaMock := newMock(t)

	t.Cleanup(func() {
		assert.NoError(t, masterMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	return NewRepository(&dbpg.DB{Master: master, Slaves: []*sql.DB{replica}}), masterMock, replicaMock
}

func TestCreateAlbum_WritesToMaster(t *testing.T) {
	repo, master, _ := newRepo(t)

	id := uuid.New()
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	master.ExpectQuery(`INSERT INTO albums \(owner_id, name, batch_label\)`).
		WithArgs("owner-1", "Wedding", "b1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id.String(), created))

	album, err := repo.CreateAlbum(context.Background(), model.Album{OwnerID: "owner-1", Name: "Wedding", BatchLabel: "b1"})
	require.NoError(t, err)
	assert.Equal(t, id, album.ID)
	assert.Equal(t, created, album.CreatedAt)
	assert.Equal(t, "Wedding", album.Name)
}

func TestCreateAlbum_Error(t *testing.T) {
	repo, master, _ := newRepo(t)

	master.ExpectQuery(`INSERT INTO albums`).WillReturnError(errors.New("read-only transaction"))

	_, err := repo.CreateAlbum(context.Background(), model.Album{OwnerID: "o", Name: "A"})
	assert.ErrorContains(t, err, "create album")
}

func TestCreatePhoto_WritesToMaster(t *testing.T) {
	repo, master, _ := newRepo(t)

	albumID := uuid.New()
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	master.ExpectQuery(`INSERT INTO photos`).
		WithArgs(sqlmock.AnyArg(), "owner-1", albumID, "a.jpg", "image/jpeg", int64(1024), 800, 600,
			"k/original.jpg", "https://cdn/k/original.jpg", "https://cdn/k/medium.jpg", "https://cdn/k/thumbnail.jpg", false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	rec, err := repo.CreatePhoto(context.Background(), model.CatalogRecord{
		OwnerID:      "owner-1",
		ParentID:     albumID,
		Filename:     "a.jpg",
		MimeType:     "image/jpeg",
		Size:         1024,
		Width:        800,
		Height:       600,
		StorageKey:   "k/original.jpg",
		StorageURL:   "https://cdn/k/original.jpg",
		MediumURL:    "https://cdn/k/medium.jpg",
		ThumbnailURL: "https://cdn/k/thumbnail.jpg",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID, "a nil id is generated")
	assert.Equal(t, created, rec.CreatedAt)
}

func photoRow(rec model.CatalogRecord) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "album_id", "filename", "mime_type", "size_bytes", "width", "height",
		"storage_key", "storage_url", "medium_url", "thumbnail_url", "degraded", "created_at",
	}).AddRow(
		rec.ID.String(), rec.OwnerID, rec.ParentID.String(), rec.Filename, rec.MimeType, rec.Size, rec.Width, rec.Height,
		rec.StorageKey, rec.StorageURL, rec.MediumURL, rec.ThumbnailURL, rec.Degraded, rec.CreatedAt,
	)
}

func TestGetPhoto(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(&dbpg.DB{Master: db})

	want := model.CatalogRecord{
		ID:         uuid.New(),
		OwnerID:    "o",
		ParentID:   uuid.New(),
		Filename:   "a.jpg",
		MimeType:   "image/jpeg",
		Size:       10,
		Width:      4,
		Height:     3,
		StorageURL: "data:image/jpeg;base64,AA",
		Degraded:   true,
		CreatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	mock.ExpectQuery(`SELECT .+ FROM photos WHERE id = \$1`).
		WithArgs(want.ID).
		WillReturnRows(photoRow(want))

	got, err := repo.GetPhoto(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPhoto_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(&dbpg.DB{Master: db})

	mock.ExpectQuery(`SELECT .+ FROM photos`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPhoto(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPhotoNotFound)
}

func TestListAlbumPhotos(t *testing.T) {
	repo, master, _ := newRepo(t)

	albumID := uuid.New()
	rec := model.CatalogRecord{ID: uuid.New(), OwnerID: "o", ParentID: albumID, Filename: "a.jpg", CreatedAt: time.Now().UTC()}
	master.ExpectQuery(`SELECT .+ FROM photos WHERE album_id = \$1 ORDER BY created_at, filename`).
		WithArgs(albumID).
		WillReturnRows(photoRow(rec))

	photos, err := repo.ListAlbumPhotos(context.Background(), albumID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "a.jpg", photos[0].Filename)
	assert.Equal(t, albumID, photos[0].ParentID)
}
