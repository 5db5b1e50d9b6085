package http

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"pigeon/internal/filestore"
	"pigeon/internal/models"
	"pigeon/internal/storage"
)

// NewFileServerHandler serves GET /uploads/{id}. Only sniffed image types
// are rendered inline; everything else is served as an attachment.
func NewFileServerHandler(store *storage.BboltStorage, files filestore.FileStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		meta, err := store.GetFileMetadata(id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			logger.Error("failed to load file metadata", "file_id", id, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		blob, err := files.Get(meta.Hash)
		if err != nil {
			logger.Error("failed to open blob", "file_id", id, "hash", meta.Hash, "error", err)
			http.NotFound(w, r)
			return
		}
		defer func() { _ = blob.Close() }()

		disposition := "attachment"
		if strings.HasPrefix(meta.MimeType, "image/") {
			disposition = "inline"
		}

		w.Header().Set("Content-Type", meta.MimeType)
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": meta.Name}))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
		if _, err := io.Copy(w, blob); err != nil {
			logger.Debug("upload stream interrupted", "file_id", id, "error", err)
		}
	}
}
