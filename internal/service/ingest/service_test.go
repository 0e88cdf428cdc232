package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/processor"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeCatalog struct {
	mu       sync.Mutex
	albums   []model.Album
	photos   []model.CatalogRecord
	albumErr error
}

func (f *fakeCatalog) CreateAlbum(_ context.Context, album model.Album) (model.Album, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.albumErr != nil {
		return model.Album{}, f.albumErr
	}
	for _, a := range f.albums {
		if a.OwnerID == album.OwnerID && a.Name == album.Name {
			return a, nil
		}
	}
	album.ID = uuid.New()
	album.CreatedAt = time.Now()
	f.albums = append(f.albums, album)

	return album, nil
}

func (f *fakeCatalog) CreatePhoto(_ context.Context, rec model.CatalogRecord) (model.CatalogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec.CreatedAt = time.Now()
	f.photos = append(f.photos, rec)

	return rec, nil
}

type processorFunc func(ctx context.Context, in processor.Input) (model.CatalogRecord, error)

func (f processorFunc) Process(ctx context.Context, in processor.Input) (model.CatalogRecord, error) {
	return f(ctx, in)
}

type countingGate struct {
	waits atomic.Int32
	err   error
}

func (g *countingGate) Wait(context.Context) error {
	g.waits.Add(1)
	return g.err
}

func encoded(t *testing.T, format string, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 16 {
		for x := 0; x < w; x += 16 {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x), B: uint8(y), A: 255})
		}
	}

	buf := new(bytes.Buffer)
	switch format {
	case "png":
		require.NoError(t, png.Encode(buf, img))
	default:
		require.NoError(t, jpeg.Encode(buf, img, nil))
	}

	return buf.Bytes()
}

func files(names ...string) []model.FileItem {
	out := make([]model.FileItem, 0, len(names))
	for _, n := range names {
		out = append(out, model.FileItem{Name: n, MimeType: "image/jpeg", Data: []byte(n)})
	}
	return out
}

func okProcessor() processorFunc {
	return func(_ context.Context, in processor.Input) (model.CatalogRecord, error) {
		return model.CatalogRecord{ID: uuid.New(), ParentID: in.ParentID, Filename: in.Filename}, nil
	}
}

func TestIngest_MixedBatch(t *testing.T) {
	catalog := &fakeCatalog{}
	p := processor.New(processor.Config{}, nil, catalog)
	s := NewService(catalog, p, nil, 3)

	payload := model.JobPayload{
		OwnerID:    "owner-1",
		BatchLabel: "wedding-2024",
		ParentName: "Wedding",
		SessionID:  "sess-1",
		Files: []model.FileItem{
			{Name: "a.jpg", MimeType: "image/jpeg", Data: encoded(t, "jpeg", 800, 600)},
			{Name: "b.jpg", MimeType: "image/jpeg", Data: nil},
			{Name: "c.png", MimeType: "image/png", Data: encoded(t, "png", 4000, 3000)},
		},
	}

	result, err := s.Ingest(context.Background(), payload)
	require.NoError(t, err)

	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, []string{"a.jpg", "c.png"}, result.SucceededNames())
	assert.Equal(t, "b.jpg", result.Failed[0].Filename)
	assert.Equal(t, "corrupt_image", result.Failed[0].Kind)

	require.Len(t, catalog.albums, 1)
	assert.Equal(t, "Wedding", catalog.albums[0].Name)
	assert.Equal(t, "wedding-2024", catalog.albums[0].BatchLabel)
	assert.Equal(t, catalog.albums[0].ID, result.AlbumID)

	for _, rec := range result.Succeeded {
		assert.Equal(t, result.AlbumID, rec.ParentID)
		assert.True(t, processor.IsDataURI(rec.StorageURL))
	}
	assert.Equal(t, 4000, result.Succeeded[1].Width)
	assert.Equal(t, 3000, result.Succeeded[1].Height)
}

func TestIngest_EveryFileAccountedFor(t *testing.T) {
	var calls atomic.Int32
	p := processorFunc(func(_ context.Context, in processor.Input) (model.CatalogRecord, error) {
		if calls.Add(1)%3 == 0 {
			return model.CatalogRecord{}, model.ErrCorruptImage
		}
		return model.CatalogRecord{ID: uuid.New(), Filename: in.Filename}, nil
	})

	s := NewService(&fakeCatalog{}, p, nil, 4)

	payload := model.JobPayload{OwnerID: "o", ParentName: "Trip", Files: files("1", "2", "3", "4", "5", "6", "7", "8", "9")}
	result, err := s.Ingest(context.Background(), payload)
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, 6)
	assert.Len(t, result.Failed, 3)
}

func TestIngest_RespectsFileConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	p := processorFunc(func(_ context.Context, in processor.Input) (model.CatalogRecord, error) {
		n := active.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return model.CatalogRecord{ID: uuid.New(), Filename: in.Filename}, nil
	})

	gate := &countingGate{}
	s := NewService(&fakeCatalog{}, p, gate, 2)

	result, err := s.Ingest(context.Background(), model.JobPayload{OwnerID: "o", ParentName: "A", Files: files("a", "b", "c", "d", "e")})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, result.SucceededNames())
	assert.Equal(t, int32(5), gate.waits.Load())
}

func TestIngest_ZeroSuccess(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		wantRetryable bool
	}{
		{
			name:          "all files invalid",
			errs:          []error{model.ErrCorruptImage, model.ErrUnsupportedFormat},
			wantRetryable: false,
		},
		{
			name:          "all uploads failed",
			errs:          []error{model.ErrUploadFailure, model.ErrUploadFailure},
			wantRetryable: true,
		},
		{
			name:          "mixed causes",
			errs:          []error{model.ErrUploadFailure, model.ErrFileTooLarge},
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			byName := map[string]error{"a": tt.errs[0], "b": tt.errs[1]}

			p := processorFunc(func(_ context.Context, in processor.Input) (model.CatalogRecord, error) {
				mu.Lock()
				defer mu.Unlock()
				return model.CatalogRecord{}, byName[in.Filename]
			})

			s := NewService(&fakeCatalog{}, p, nil, 2)

			result, err := s.Ingest(context.Background(), model.JobPayload{OwnerID: "o", ParentName: "A", Files: files("a", "b")})
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrNoFilesIngested)
			assert.Equal(t, tt.wantRetryable, model.IsRetryable(err))
			assert.Len(t, result.Failed, 2)
			assert.NotEqual(t, uuid.Nil, result.AlbumID)
		})
	}
}

func TestIngest_AlbumFailure(t *testing.T) {
	s := NewService(&fakeCatalog{albumErr: errors.New("connection refused")}, okProcessor(), nil, 2)

	_, err := s.Ingest(context.Background(), model.JobPayload{OwnerID: "o", ParentName: "A", Files: files("a")})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCatalogWrite)
	assert.True(t, model.IsRetryable(err))
}

func TestIngest_EmptyBatch(t *testing.T) {
	s := NewService(&fakeCatalog{}, okProcessor(), nil, 2)

	_, err := s.Ingest(context.Background(), model.JobPayload{OwnerID: "o", ParentName: "A"})
	assert.ErrorIs(t, err, model.ErrEmptyBatch)
	assert.False(t, model.IsRetryable(err))
}

func TestIngest_StopsBetweenBatchesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	p := processorFunc(func(_ context.Context, in processor.Input) (model.CatalogRecord, error) {
		calls.Add(1)
		cancel()
		return model.CatalogRecord{ID: uuid.New(), Filename: in.Filename}, nil
	})

	s := NewService(&fakeCatalog{}, p, nil, 2)

	result, err := s.Ingest(ctx, model.JobPayload{OwnerID: "o", ParentName: "A", Files: files("a", "b", "c", "d")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, model.IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load(), "the running batch finishes, the next one never starts")
	assert.Len(t, result.Succeeded, 2)
}

func TestIngest_GateCancellation(t *testing.T) {
	gate := &countingGate{err: context.Canceled}
	s := NewService(&fakeCatalog{}, okProcessor(), gate, 2)

	result, err := s.Ingest(context.Background(), model.JobPayload{OwnerID: "o", ParentName: "A", Files: files("a", "b")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
}

func TestIngest_AlbumNameFallback(t *testing.T) {
	tests := []struct {
		name    string
		payload model.JobPayload
		want    string
	}{
		{name: "parent name", payload: model.JobPayload{ParentName: "Holiday", BatchLabel: "b1"}, want: "Holiday"},
		{name: "batch label", payload: model.JobPayload{BatchLabel: "b1"}, want: "b1"},
		{name: "untitled", payload: model.JobPayload{}, want: untitledAlbum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &fakeCatalog{}
			s := NewService(catalog, okProcessor(), nil, 1)

			tt.payload.OwnerID = "o"
			tt.payload.Files = files("a")

			_, err := s.Ingest(context.Background(), tt.payload)
			require.NoError(t, err)
			require.Len(t, catalog.albums, 1)
			assert.Equal(t, tt.want, catalog.albums[0].Name)
		})
	}
}

func TestRun_WrapsJobID(t *testing.T) {
	s := NewService(&fakeCatalog{}, okProcessor(), nil, 1)

	_, err := s.Run(context.Background(), "job-42", model.JobPayload{OwnerID: "o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-42")
	assert.ErrorIs(t, err, model.ErrEmptyBatch)
}
