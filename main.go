package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pigeon/internal/api"
	"pigeon/internal/auth"
	"pigeon/internal/commands"
	"pigeon/internal/config"
	"pigeon/internal/filestore"
	"pigeon/internal/http"
	"pigeon/internal/notify"
	"pigeon/internal/presence"
	"pigeon/internal/storage"
	"pigeon/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pigeon", flag.ContinueOnError)
	addUser := fs.String("add-user", "", "Email to create (creates user with a random password and prints details)")
	genVAPID := fs.Bool("gen-vapid", false, "Print a new VAPID key pair for web push and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *genVAPID {
		return commands.GenerateVAPIDKeys(os.Stdout)
	}

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg, os.Stdout)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      cfg.JWTKey,
		TokenExpiry: cfg.TokenExpiry,
	}, bbStorage)
	if err != nil {
		return err
	}

	hubConfig := ws.HubConfig{
		StrictSender: cfg.StrictSender,
		Logger:       logger,
	}
	if cfg.PushEnabled() {
		hubConfig.Notifier = notify.NewWebPush(notify.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
			Timeout:         ws.DefaultNotifyTimeout,
		}, bbStorage, logger)
	}
	hub := ws.NewHub(bbStorage, presence.New(), hubConfig)

	g, gCtx := errgroup.WithContext(ctx)

	adminServer := http.NewAdminServer(authService, hub, cfg.AdminAddr, cfg.BaseURL, logger)
	apiServer := http.NewAPIServer(gCtx, authService, hub, bbStorage, files, http.APIServerConfig{
		Addr:       cfg.APIAddr,
		Origin:     cfg.Origin,
		SendBuffer: cfg.SendBuffer,
		Logger:     logger,
		API: api.Config{
			MaxUploadSize:  cfg.MaxUploadSize,
			VAPIDPublicKey: cfg.VAPIDPublicKey,
			SecureCookies:  cfg.SecureCookies(),
		},
	})

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal) or a server failure
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		hub.Wait()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
