package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/api/handlers/ingest"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/repository/catalog"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/scheduler"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeScheduler struct {
	submitErr error
	submitted []model.JobPayload
	priority  int
	jobs      map[string]model.Job
	cancelled string
}

func (f *fakeScheduler) Submit(payload model.JobPayload, priority int) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, payload)
	f.priority = priority
	return "job-1", nil
}

func (f *fakeScheduler) Get(id string) (model.Job, bool) {
	job, ok := f.jobs[id]
	return job, ok
}

func (f *fakeScheduler) Stats() model.QueueStats {
	return model.QueueStats{Waiting: 2, Active: 1, Completed: 5, Failed: 1}
}

func (f *fakeScheduler) StatsForSession(id string) model.QueueStats {
	return model.QueueStats{Waiting: 1, TotalJobs: 1}
}

func (f *fakeScheduler) CancelSession(id string) int {
	f.cancelled = id
	return 3
}

type fakeIngester struct {
	result model.JobResult
	err    error
	got    model.JobPayload
}

func (f *fakeIngester) Ingest(_ context.Context, payload model.JobPayload) (model.JobResult, error) {
	f.got = payload
	return f.result, f.err
}

type fakePhotos struct {
	records map[uuid.UUID]model.CatalogRecord
}

func (f *fakePhotos) GetPhoto(_ context.Context, id uuid.UUID) (model.CatalogRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return model.CatalogRecord{}, catalog.ErrPhotoNotFound
	}
	return rec, nil
}

func (f *fakePhotos) ListAlbumPhotos(_ context.Context, albumID uuid.UUID) ([]model.CatalogRecord, error) {
	var out []model.CatalogRecord
	for _, rec := range f.records {
		if rec.ParentID == albumID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type envelope struct {
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
}

type upload struct {
	name, contentType string
	data              []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()

	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return body, w.FormDataContentType()
}

type fixture struct {
	sched    *fakeScheduler
	ingester *fakeIngester
	photos   *fakePhotos
	handler  http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		sched:    &fakeScheduler{jobs: map[string]model.Job{}},
		ingester: &fakeIngester{},
		photos:   &fakePhotos{records: map[uuid.UUID]model.CatalogRecord{}},
	}
	f.handler = Setup(ingest.NewHandler(f.sched, f.ingester, f.photos, 10<<20, 1<<20))
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" &&
		bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func submitRequest(t *testing.T, fields map[string]string, files ...upload) *http.Request {
	body, ct := multipartBody(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", ct)
	return req
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n0000")

func TestSubmit_Queued(t *testing.T) {
	f := newFixture()

	req := submitRequest(t,
		map[string]string{"owner_id": "o1", "batch_label": "b1", "parent_name": "Trip", "session_id": "s1", "priority": "7"},
		upload{name: "a.jpg", contentType: "image/jpeg", data: []byte("jpeg")},
		upload{name: "b.png", data: pngMagic},
	)

	rec, env := f.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingest.SubmitResponse
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "queued", resp.Status)

	require.Len(t, f.sched.submitted, 1)
	p := f.sched.submitted[0]
	assert.Equal(t, 7, f.sched.priority)
	assert.Equal(t, "o1", p.OwnerID)
	assert.Equal(t, "Trip", p.ParentName)
	require.Len(t, p.Files, 2)
	assert.Equal(t, "image/jpeg", p.Files[0].MimeType)
	assert.Equal(t, "image/png", p.Files[1].MimeType, "sniffed when the part has no type")
}

func TestSubmit_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{name: "queue full", err: fmt.Errorf("submit: %w", model.ErrBackpressureRejected), wantCode: http.StatusTooManyRequests, wantKind: "backpressure_rejected"},
		{name: "shutting down", err: scheduler.ErrClosed, wantCode: http.StatusServiceUnavailable, wantKind: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.sched.submitErr = tt.err

			rec, env := f.do(t, submitRequest(t, map[string]string{"owner_id": "o"}, upload{name: "a.jpg", contentType: "image/jpeg", data: []byte("x")}))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKind, env.Kind)
		})
	}
}

func TestSubmit_BadRequests(t *testing.T) {
	f := newFixture()

	rec, env := f.do(t, submitRequest(t, map[string]string{}, upload{name: "a.jpg", data: []byte("x")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Message, "owner_id")

	rec, env = f.do(t, submitRequest(t, map[string]string{"owner_id": "o"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_batch", env.Kind)

	rec, _ = f.do(t, submitRequest(t, map[string]string{"owner_id": "o", "priority": "high"}, upload{name: "a.jpg", data: []byte("x")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString("plain"))
	rec, _ = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.sched.submitted)
}

func TestSubmit_Sync(t *testing.T) {
	f := newFixture()
	albumID := uuid.New()
	f.ingester.result = model.JobResult{
		AlbumID:   albumID,
		Succeeded: []model.CatalogRecord{{Filename: "a.jpg"}},
		Failed:    []model.FileFailure{{Filename: "b.jpg", Kind: "corrupt_image", Error: "corrupt image: empty file"}},
	}

	rec, env := f.do(t, submitRequest(t, map[string]string{"owner_id": "o", "sync": "true"},
		upload{name: "a.jpg", contentType: "image/jpeg", data: []byte("x")},
		upload{name: "b.jpg", contentType: "image/jpeg"},
	))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.sched.submitted)
	assert.Len(t, f.ingester.got.Files, 2)

	var result model.JobResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, albumID, result.AlbumID)
	assert.Len(t, result.Succeeded, 1)
	assert.Equal(t, "corrupt_image", result.Failed[0].Kind)
}

func TestSubmit_SyncNothingIngested(t *testing.T) {
	f := newFixture()
	f.ingester.result = model.JobResult{Failed: []model.FileFailure{{Filename: "a.jpg", Kind: "corrupt_image"}}}
	f.ingester.err = fmt.Errorf("%w: %w", model.ErrNoFilesIngested, model.ErrCorruptImage)

	rec, env := f.do(t, submitRequest(t, map[string]string{"owner_id": "o", "sync": "true"}, upload{name: "a.jpg", contentType: "image/jpeg"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, env.Result)
}

func TestGetJob(t *testing.T) {
	f := newFixture()
	f.sched.jobs["job-9"] = model.Job{ID: "job-9", Status: model.JobStatusProcessing, MaxAttempts: 3}

	rec, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/job-9", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(env.Result, &job))
	assert.Equal(t, model.JobStatusProcessing, job.Status)

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture()

	rec, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.QueueStats
	require.NoError(t, json.Unmarshal(env.Result, &stats))
	assert.Equal(t, model.QueueStats{Waiting: 2, Active: 1, Completed: 5, Failed: 1}, stats)

	rec, env = f.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Result, &stats))
	assert.Equal(t, 1, stats.TotalJobs)
}

func TestCancelSession(t *testing.T) {
	f := newFixture()

	rec, env := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", f.sched.cancelled)
	assert.JSONEq(t, `{"cancelled":3}`, string(env.Result))
}

func TestPhotos(t *testing.T) {
	f := newFixture()
	albumID, photoID := uuid.New(), uuid.New()
	f.photos.records[photoID] = model.CatalogRecord{ID: photoID, ParentID: albumID, Filename: "a.jpg"}

	rec, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/photos/"+photoID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.CatalogRecord
	require.NoError(t, json.Unmarshal(env.Result, &got))
	assert.Equal(t, "a.jpg", got.Filename)

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/photos/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/photos/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = f.do(t, httptest.NewRequest(http.MethodGet, "/api/albums/"+albumID.String()+"/photos", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.CatalogRecord
	require.NoError(t, json.Unmarshal(env.Result, &list))
	assert.Len(t, list, 1)

	rec, env = f.do(t, httptest.NewRequest(http.MethodGet, "/api/albums/"+uuid.NewString()+"/photos", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Result))
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec, _ = f.do(t, httptest.NewRequest(http.MethodOptions, "/api/jobs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
