package http

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"pigeon/internal/filestore"
	"pigeon/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	var called bool
	handler := CORS("https://chat.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/api/auth/user-info", nil)
		req.Header.Set("Origin", "https://chat.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.True(t, called)
		require.Equal(t, http.StatusTeapot, rec.Code)
		require.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/api/auth/user-info", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.True(t, called)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
		req.Header.Set("Origin", "https://chat.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.False(t, called)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})
}

func TestFileServer(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBboltStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	put := func(id, name, mimeType string, data []byte) {
		hash, size, err := files.Put(bytes.NewReader(data))
		require.NoError(t, err)
		require.NoError(t, store.UpsertFileMetadata(storage.FileMetadata{
			ID:       id,
			Hash:     hash,
			Name:     name,
			MimeType: mimeType,
			Size:     size,
		}))
	}
	put("img", "cat.png", "image/png", []byte("not really a png"))
	put("doc", "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, store.UpsertFileMetadata(storage.FileMetadata{
		ID:   "lost",
		Hash: "0000000000000000000000000000000000000000000000000000000000000000",
		Name: "lost.txt",
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /uploads/{id}", NewFileServerHandler(store, files, slog.New(slog.DiscardHandler)))

	get := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/"+id, nil))
		return rec
	}

	t.Run("image inline", func(t *testing.T) {
		rec := get("img")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		require.Equal(t, `inline; filename=cat.png`, rec.Header().Get("Content-Disposition"))
		require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		require.Equal(t, "not really a png", string(body))
	})

	t.Run("other types as attachment", func(t *testing.T) {
		rec := get("doc")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, `attachment; filename=report.pdf`, rec.Header().Get("Content-Disposition"))
	})

	t.Run("unknown id", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, get("missing").Code)
	})

	t.Run("missing blob", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, get("lost").Code)
	})
}
