package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/umar/carechat/internal/auth"
	"github.com/umar/carechat/internal/chat"
	"github.com/umar/carechat/internal/config"
	"github.com/umar/carechat/internal/database"
	"github.com/umar/carechat/internal/feed"
	"github.com/umar/carechat/internal/handlers"
	"github.com/umar/carechat/internal/middleware"
	"github.com/umar/carechat/internal/models"
	redisc "github.com/umar/carechat/internal/redis"
	"github.com/umar/carechat/internal/storage"
	"github.com/umar/carechat/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("starting chat server")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize database
	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	if err := database.RunMigrations(db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")
	store := database.NewStore(db)

	// Initialize Redis
	redisClient, err := redisc.InitRedis(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to init Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("connected to Redis")

	// Initialize object storage
	objects, err := storage.NewJetStreamStore(cfg.NATSURL, cfg.PublicBaseURL)
	if err != nil {
		slog.Error("failed to init object storage", "error", err)
		os.Exit(1)
	}
	defer objects.Close()
	slog.Info("connected to NATS JetStream")
	attachments := storage.NewAttachmentClient(objects, cfg.AttachmentBucket)

	// Relay inserts from Postgres onto the room channels
	relay := feed.NewRelay(cfg.DatabaseURL, database.NotifyChannel, redisc.NewPublisher(redisClient), logger.With("component", "relay"))
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("feed relay stopped", "error", err)
		}
	}()

	source := redisc.NewSource(redisClient, logger.With("component", "feed"))
	sanitizer := chat.NewPlainText()
	newView := func(user models.User) ws.Viewer {
		return chat.NewView(chat.Deps{
			Store:    store,
			Feed:     source,
			Uploader: attachments,
			User:     user,
		},
			chat.WithLogger(logger),
			chat.WithComposerOptions(
				chat.WithSanitizer(sanitizer),
				chat.WithMaxAttachmentBytes(cfg.MaxAttachmentBytes),
				chat.WithContentTypeDetector(storage.DetectContentType),
			),
		)
	}

	// Create WebSocket hub; frames carry attachments base64 encoded
	hub := ws.NewHub(newView,
		ws.WithProfiles(store),
		ws.WithReadLimit(cfg.MaxAttachmentBytes*4/3+64<<10),
		ws.WithLogger(logger),
	)

	// Set up router
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(cfg.CORSOrigin))

	// Public routes
	router.HandleFunc("/health", handlers.Health(db, hub.Count)).Methods("GET", "OPTIONS")
	router.HandleFunc("/files/{bucket}/{key:.+}", handlers.ServeFile(objects, cfg.AttachmentBucket)).Methods("GET")

	// WebSocket
	router.HandleFunc("/ws", ws.ServeWS(hub, cfg.JWTSecret)).Methods("GET")

	// Protected routes
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/auth/me", auth.MeHandler(store)).Methods("GET")
	protected.HandleFunc("/rooms", handlers.ListRooms(store)).Methods("GET")
	protected.HandleFunc("/rooms/{id}/messages", handlers.GetMessages(store)).Methods("GET")

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("sessions did not close in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	stop()
	<-relayDone

	slog.Info("server stopped gracefully")
}
