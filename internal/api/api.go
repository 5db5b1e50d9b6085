package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pigeon/internal/auth"
	"pigeon/internal/filestore"
	"pigeon/internal/storage"
)

const (
	cookieName          = "jwt"
	defaultMaxUpload    = 10 << 20
	maxProfileImageSize = 5 << 20
)

type contextKey string

const userIDKey contextKey = "userID"

type Config struct {
	MaxUploadSize  int64
	VAPIDPublicKey string
	// SecureCookies marks the session cookie Secure and SameSite=None for
	// cross-site HTTPS deployments.
	SecureCookies bool
	Logger        *slog.Logger
}

type API struct {
	auth    *auth.AuthService
	storage *storage.BboltStorage
	files   filestore.FileStore
	cfg     Config
	logger  *slog.Logger
}

func New(authService *auth.AuthService, storage *storage.BboltStorage, files filestore.FileStore, cfg Config) *API {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUpload
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		auth:    authService,
		storage: storage,
		files:   files,
		cfg:     cfg,
		logger:  logger,
	}
}

// RequireAuth rejects requests without a valid session token and stores
// the caller's id in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(getToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "You are not authenticated!")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

func getToken(r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		cookie.MaxAge = -1
	}
	if a.cfg.SecureCookies {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Msg string `json:"msg"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Msg: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
