package handler

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/service"
	"github.com/shyim/sitespeed-compare/internal/storage"
)

// ResultStore fetches archived comparison results.
type ResultStore interface {
	DownloadResult(ctx context.Context, id, destinationPath string) error
}

type Handler struct {
	runs      *service.Service
	store     ResultStore
	authToken string
	cacheDir  string
	logger    *slog.Logger
}

func NewHandler(runs *service.Service, store ResultStore, authToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:      runs,
		store:     store,
		authToken: authToken,
		cacheDir:  filepath.Join(os.TempDir(), "sitespeed-compare-cache"),
		logger:    logger,
	}
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api") && h.authToken != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") || authHeader[7:] != h.authToken {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Routes registers the API on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/compare/{id}", h.HandleStartCompare)
	mux.HandleFunc("GET /api/compare/{id}", h.HandleGetCompare)
	mux.HandleFunc("DELETE /api/compare/{id}", h.HandleDeleteCompare)
	mux.HandleFunc("GET /result/{id}", h.HandleGetResult)
	mux.HandleFunc("GET /result/{id}/{path...}", h.HandleGetResult)
}

func validID(id string) bool {
	return id != "" && !strings.Contains(id, "..") && !strings.ContainsAny(id, `/\`)
}

func (h *Handler) HandleStartCompare(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validID(id) {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	var req models.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Request Body", http.StatusBadRequest)
		return
	}

	snap, err := h.runs.Start(id, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrRunExists):
			renderError(w, "Comparison already running", stringPtr(err.Error()), http.StatusConflict)
		default:
			renderError(w, "Invalid comparison request", stringPtr(err.Error()), http.StatusBadRequest)
		}
		return
	}

	h.logger.Info("comparison accepted", "run_id", id, "url", req.URL, "browser_a", req.BrowserA, "browser_b", req.BrowserB)
	os.Remove(h.cachePath(id))
	renderJSON(w, snap, http.StatusAccepted)
}

func (h *Handler) HandleGetCompare(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validID(id) {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	snap, err := h.runs.Get(id)
	if err != nil {
		renderError(w, "Comparison not found", nil, http.StatusNotFound)
		return
	}
	renderJSON(w, snap, http.StatusOK)
}

func (h *Handler) HandleDeleteCompare(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validID(id) {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	if err := h.runs.Delete(r.Context(), id); err != nil {
		h.logger.Warn("failed to delete comparison", "run_id", id, "error", err)
	}
	os.Remove(h.cachePath(id))

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path := r.PathValue("path")

	if !validID(id) {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	if snap, err := h.runs.Get(id); err == nil && snap.FinishedAt == nil {
		// A run in progress replaces whatever is archived under its id.
		http.NotFound(w, r)
		return
	}

	zipPath := h.cachePath(id)
	if _, err := os.Stat(zipPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(zipPath), 0755); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if err := h.store.DownloadResult(r.Context(), id, zipPath); err != nil {
			if !errors.Is(err, models.ErrRunNotFound) {
				h.logger.Warn("failed to download result", "run_id", id, "error", err)
			}
			http.NotFound(w, r)
			return
		}
	}

	if path == "" {
		path = storage.ExportFile
	}
	path = strings.ReplaceAll(path, "\\", "/")

	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		os.Remove(zipPath)
		http.NotFound(w, r)
		return
	}
	defer archive.Close()

	var file *zip.File
	for _, f := range archive.File {
		if f.Name == path {
			file = f
			break
		}
	}
	if file == nil {
		http.NotFound(w, r)
		return
	}

	rc, err := file.Open()
	if err != nil {
		http.Error(w, "Failed to open file", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=604800")
	w.Header().Set("Last-Modified", file.Modified.UTC().Format(http.TimeFormat))

	io.Copy(w, rc)
}

func (h *Handler) cachePath(id string) string {
	return filepath.Join(h.cacheDir, fmt.Sprintf("%s.zip", id))
}

func renderJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, msg string, details *string, status int) {
	renderJSON(w, models.ErrorResponse{
		Error:   msg,
		Details: details,
	}, status)
}

func stringPtr(v string) *string {
	return &v
}
