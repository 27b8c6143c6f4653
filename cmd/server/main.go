package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/ai-session-manager/internal/api"
	"github.com/Rrens/ai-session-manager/internal/api/handler"
	"github.com/Rrens/ai-session-manager/internal/config"
	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/logger"
	"github.com/Rrens/ai-session-manager/internal/repository/mongo"
	"github.com/Rrens/ai-session-manager/internal/repository/postgres"
	"github.com/Rrens/ai-session-manager/internal/repository/redis"
	"github.com/Rrens/ai-session-manager/internal/security"
	"github.com/Rrens/ai-session-manager/internal/service"
	"github.com/Rrens/ai-session-manager/internal/session"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logger.Setup(cfg.Logging, os.Getenv("ENV") == "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("archive", cfg.Archive.Driver).
		Msg("Starting AI session manager")

	ctx := context.Background()
	ready := map[string]handler.Pinger{}

	// Redis: snapshot slots and rate limiting
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	ready["redis"] = redisClient

	// Archive and users
	var (
		archive domain.SessionArchive
		users   domain.UserRepository
	)
	switch cfg.Archive.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		archive = postgres.NewSessionArchive(db.Pool)
		users = postgres.NewUserRepository(db.Pool)
		ready["postgres"] = db
	default:
		mongoClient, err := mongo.NewClient(ctx, cfg.Mongo)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Close(closeCtx)
		}()
		if err := mongoClient.EnsureIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
		}
		archive = mongo.NewSessionArchive(mongoClient)
		users = mongo.NewUserRepository(mongoClient)
		ready["mongo"] = mongoClient
	}

	// Credentials are sealed before they reach a snapshot
	credentialKey := cfg.Session.CredentialKey
	if credentialKey == "" {
		log.Warn().Msg("session.credential_key not set, deriving it from the JWT secret")
		credentialKey = cfg.Auth.JWTSecret
	}
	sealer, err := security.NewEncryptorFromSecret(credentialKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize credential encryptor")
	}

	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	limiter := redis.NewRateLimiter(redisClient, cfg.Session.RateLimit.RequestsPerMinute, cfg.Session.RateLimit.Burst)

	manager := session.NewManager(
		redis.NewSnapshotStore(redisClient, cfg.Session.SnapshotTTL),
		sealer,
		cfg.Session.SnapshotTimeout,
	)
	dispatcher := api.NewDispatcher(cfg.LLM)

	router := api.NewRouter(cfg, api.Dependencies{
		Auth:     service.NewAuthService(users, jwtManager),
		Sessions: service.NewSessionService(manager, dispatcher, archive, limiter),
		JWT:      jwtManager,
		Limiter:  limiter,
		Ready:    ready,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
