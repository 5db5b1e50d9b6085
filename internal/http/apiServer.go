package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"pigeon/internal/api"
	"pigeon/internal/auth"
	"pigeon/internal/filestore"
	"pigeon/internal/storage"
	"pigeon/internal/ws"
)

type APIServerConfig struct {
	Addr       string
	Origin     string
	SendBuffer int
	API        api.Config
	Logger     *slog.Logger
}

type APIServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAPIServer wires the public routes. ctx is the parent of every request
// context, so cancelling it also ends long-lived websocket connections.
func NewAPIServer(
	ctx context.Context,
	authService *auth.AuthService,
	hub *ws.Hub,
	store *storage.BboltStorage,
	files filestore.FileStore,
	cfg APIServerConfig,
) *APIServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.API.Logger = logger

	server := ws.NewServer(hub, cfg.Origin, cfg.SendBuffer, logger)
	h := api.New(authService, store, files, cfg.API)

	mux := http.NewServeMux()

	// Auth and profile
	mux.HandleFunc("POST /api/auth/signup", h.SignupHandler)
	mux.HandleFunc("POST /api/auth/login", h.LoginHandler)
	mux.HandleFunc("GET /api/auth/user-info", h.RequireAuth(h.UserInfoHandler))
	mux.HandleFunc("POST /api/auth/update-profile", h.RequireAuth(h.UpdateProfileHandler))
	mux.HandleFunc("POST /api/auth/add-profile-image", h.RequireAuth(h.AddProfileImageHandler))
	mux.HandleFunc("DELETE /api/auth/remove-profile-image", h.RequireAuth(h.RemoveProfileImageHandler))
	mux.HandleFunc("POST /api/auth/logout", h.LogoutHandler)

	// Contacts
	mux.HandleFunc("POST /api/contacts/search", h.RequireAuth(h.SearchContactsHandler))
	mux.HandleFunc("GET /api/contacts/get-contacts-for-dm", h.RequireAuth(h.ContactsForDMHandler))
	mux.HandleFunc("GET /api/contacts/get-all-contacts", h.RequireAuth(h.AllContactsHandler))

	// Messages
	mux.HandleFunc("POST /api/messages/get-messages", h.RequireAuth(h.GetMessagesHandler))
	mux.HandleFunc("POST /api/messages/upload-file", h.RequireAuth(h.UploadFileHandler))

	// Channels
	mux.HandleFunc("POST /api/channel/create-channel", h.RequireAuth(h.CreateChannelHandler))
	mux.HandleFunc("GET /api/channel/get-user-channels", h.RequireAuth(h.UserChannelsHandler))
	mux.HandleFunc("GET /api/channel/get-channel-messages/{channelId}", h.RequireAuth(h.ChannelMessagesHandler))

	// Web push
	mux.HandleFunc("POST /api/push/subscribe", h.RequireAuth(h.PushSubscribeHandler))
	mux.HandleFunc("GET /api/push/vapid-public-key", h.VAPIDPublicKeyHandler)

	mux.HandleFunc("GET /uploads/{id}", NewFileServerHandler(store, files, logger))

	// WebSocket endpoint
	mux.HandleFunc("/socket", server.HandleConnections)

	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}

	return &APIServer{
		logger: logger,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           CORS(cfg.Origin)(mux),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
	}
}

func (s *APIServer) Start() error {
	s.logger.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
