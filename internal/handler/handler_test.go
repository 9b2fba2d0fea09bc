package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/sampler"
	"github.com/shyim/sitespeed-compare/internal/service"
	"github.com/shyim/sitespeed-compare/internal/storage"
	"github.com/shyim/sitespeed-compare/internal/utils"
)

type constRunner struct {
	name string
	load float64
}

func (r constRunner) Name() string { return r.name }

func (r constRunner) Run(ctx context.Context, url string) (models.TrialOutcome, error) {
	return models.TrialOutcome{models.LoadComplete: r.load}, nil
}

type fakeStore struct {
	files     map[string][]byte
	downloads int
}

func (s *fakeStore) DownloadResult(ctx context.Context, id, dest string) error {
	s.downloads++
	data, ok := s.files[id]
	if !ok {
		return models.ErrRunNotFound
	}
	return os.WriteFile(dest, data, 0644)
}

func newTestHandler(t *testing.T, token string, store *fakeStore) (*Handler, *service.Service, http.Handler) {
	t.Helper()
	svc, err := service.New(service.Options{
		Factory: func(browser string) (sampler.TrialRunner, error) {
			load := 1.0
			if browser == "firefox" {
				load = 1.5
			}
			return constRunner{name: browser, load: load}, nil
		},
		Sampler: sampler.Config{MinIterations: 3, MaxIterations: 5, ConsistencyThreshold: 0.2},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	h := NewHandler(svc, store, token, nil)
	h.cacheDir = t.TempDir()

	mux := http.NewServeMux()
	h.Routes(mux)
	return h, svc, h.AuthMiddleware(mux)
}

func do(t *testing.T, srv http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	_, _, srv := newTestHandler(t, "secret", &fakeStore{})

	rec := do(t, srv, http.MethodGet, "/api/compare/run-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/compare/run-1", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/compare/run-1", "", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Results are public.
	rec = do(t, srv, http.MethodGet, "/result/run-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompareLifecycle(t *testing.T) {
	_, svc, srv := newTestHandler(t, "", &fakeStore{})

	body := `{"url":"https://example.com","browserA":"chrome","browserB":"firefox"}`
	rec := do(t, srv, http.MethodPost, "/api/compare/run-1", body, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Wait(ctx, "run-1")
	require.NoError(t, err)

	rec = do(t, srv, http.MethodGet, "/api/compare/run-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap service.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, service.StatusSuccess, snap.Status)
	require.NotNil(t, snap.Comparison)
	assert.Equal(t, 3, snap.Comparison.Iterations)

	rec = do(t, srv, http.MethodDelete, "/api/compare/run-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/compare/run-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartCompareErrors(t *testing.T) {
	_, _, srv := newTestHandler(t, "", &fakeStore{})

	rec := do(t, srv, http.MethodPost, "/api/compare/run-1", "{", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/compare/run-1", `{"url":"nope","browserA":"chrome","browserB":"firefox"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "Invalid comparison request", errResp.Error)
	require.NotNil(t, errResp.Details)

	rec = do(t, srv, http.MethodPost, "/api/compare/a..b", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetResultFromArchive(t *testing.T) {
	var archive bytes.Buffer
	require.NoError(t, utils.ZipFiles(&archive, map[string][]byte{
		storage.ExportFile: []byte(`{"version":1}`),
	}))
	store := &fakeStore{files: map[string][]byte{"run-1": archive.Bytes()}}
	_, _, srv := newTestHandler(t, "", store)

	rec := do(t, srv, http.MethodGet, "/result/run-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"version":1}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "public, max-age=604800", rec.Header().Get("Cache-Control"))

	rec = do(t, srv, http.MethodGet, "/result/run-1/"+storage.ExportFile, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.downloads, "second request is served from the cache")

	rec = do(t, srv, http.MethodGet, "/result/run-1/missing.txt", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/result/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type gatedRunner struct {
	name string
	gate chan struct{}
}

func (r gatedRunner) Name() string { return r.name }

func (r gatedRunner) Run(ctx context.Context, url string) (models.TrialOutcome, error) {
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return models.TrialOutcome{models.LoadComplete: 1.0}, nil
}

func TestGetResultHiddenWhileRunning(t *testing.T) {
	var archive bytes.Buffer
	require.NoError(t, utils.ZipFiles(&archive, map[string][]byte{
		storage.ExportFile: []byte(`{"version":1}`),
	}))
	store := &fakeStore{files: map[string][]byte{"run-1": archive.Bytes()}}

	gate := make(chan struct{})
	svc, err := service.New(service.Options{
		Factory: func(browser string) (sampler.TrialRunner, error) {
			return gatedRunner{name: browser, gate: gate}, nil
		},
		Sampler: sampler.Config{MinIterations: 3, MaxIterations: 5, ConsistencyThreshold: 0.2},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	h := NewHandler(svc, store, "", nil)
	h.cacheDir = t.TempDir()
	mux := http.NewServeMux()
	h.Routes(mux)

	rec := do(t, mux, http.MethodPost, "/api/compare/run-1", `{"url":"https://example.com","browserA":"chrome","browserB":"firefox"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, mux, http.MethodGet, "/result/run-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, store.downloads)

	require.NoError(t, svc.Cancel("run-1"))
	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = svc.Wait(ctx, "run-1")
	require.NoError(t, err)

	rec = do(t, mux, http.MethodGet, "/result/run-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
