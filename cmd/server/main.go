package main

import (
	"alcyxob/video-app/internal/api" // Import API package
	"alcyxob/video-app/internal/config"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/notify"
	"alcyxob/video-app/internal/pipeline"
	"alcyxob/video-app/internal/repository"
	"alcyxob/video-app/internal/repository/memory"
	"alcyxob/video-app/internal/repository/mongo"
	"alcyxob/video-app/internal/service"
	"alcyxob/video-app/internal/storage"
	"alcyxob/video-app/internal/stream"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// @title Video Upload API
// @version 1.0
// @description Upload videos, follow their processing in real time and stream them back.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fatal("configuration invalid", errors.New("jwt.secret (JWT_SECRET) must be set"))
	}
	logger.Info("starting video server", "address", cfg.Server.Address, "database", cfg.Database.Driver)

	// --- Repositories ---
	var (
		userRepo    repository.UserRepository
		videoRepo   repository.VideoRepository
		healthCheck func(ctx context.Context) error
	)
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		userRepo = memory.NewUserRepository()
		videoRepo = memory.NewVideoRepository()
	default:
		dbClient, err := mongo.ConnectDB(cfg.Database.URI)
		if err != nil {
			fatal("could not connect to MongoDB", err)
		}
		defer func() {
			logger.Info("disconnecting MongoDB")
			if err := mongo.DisconnectDB(dbClient); err != nil {
				logger.Error("failed to disconnect MongoDB", "error", err)
			}
		}()
		appDB := dbClient.Database(cfg.Database.Name)

		go func() { // Run index creation in background
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
			defer cancel()
			if err := mongo.EnsureIndexes(ctx, appDB); err != nil {
				logger.Error("index creation failed", "error", err)
				return
			}
			logger.Info("database indexes ensured")
		}()

		userRepo = mongo.NewMongoUserRepository(appDB)
		videoRepo = mongo.NewMongoVideoRepository(appDB)
		healthCheck = func(context.Context) error { return mongo.Ping(dbClient) }
	}

	// --- Storage ---
	files, err := storage.NewLocalStore(cfg.Upload.Dir)
	if err != nil {
		fatal("could not prepare upload directory", err)
	}
	var (
		archiver  pipeline.Archiver
		presigner service.Presigner
	)
	if cfg.S3.Enabled() {
		s3Archiver, err := storage.NewS3Archiver(cfg.S3, files, logger)
		if err != nil {
			fatal("failed to initialize S3 archiver", err)
		}
		archiver = s3Archiver
		presigner = s3Archiver
	}

	// --- Notification channel (must exist before any job can run) ---
	hub := notify.NewHub(logger)
	var notifier notify.Notifier = hub
	if cfg.AMQP.URL != "" {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			logger.Warn("AMQP unavailable, events stay local", "error", err)
		} else {
			defer conn.Close()
			publisher, err := notify.NewAMQPPublisher(conn, cfg.AMQP.Exchange, logger)
			if err != nil {
				logger.Warn("AMQP exchange setup failed, events stay local", "error", err)
			} else {
				defer publisher.Close()
				notifier = notify.Fanout{hub, publisher}
			}
		}
	}

	// --- Pipeline ---
	processor, err := pipeline.NewProcessor(pipeline.Config{
		Store:      videoRepo,
		Notifier:   notifier,
		Classifier: pipeline.NewRandomClassifier(cfg.Pipeline.FlagProbability),
		Archiver:   archiver,
		StepDelay:  cfg.Pipeline.StepDelay,
		Logger:     logger,
	})
	if err != nil {
		fatal("could not build processing pipeline", err)
	}
	scheduler := pipeline.NewScheduler(processor, cfg.Pipeline.MaxConcurrent, logger)

	// Jobs do not survive a restart: everything still processing is an orphan.
	reconcileCtx, cancelReconcile := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := processor.Reconcile(reconcileCtx, 0, nil); err != nil {
		logger.Error("startup reconcile failed", "error", err)
	}
	cancelReconcile()

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := pipeline.NewSweeper(processor, scheduler, cfg.Pipeline.SweepInterval, cfg.Pipeline.StaleAfter, logger)
	go sweeper.Run(sweepCtx)

	// --- Rate limiting ---
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting fails open", "error", err)
		}
		cancel()
	}

	// --- Services ---
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	videoService := service.NewVideoService(videoRepo, files, scheduler, presigner, service.UploadPolicy{
		MaxBytes:         cfg.Upload.MaxBytes,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
	}, logger)

	realtime := notify.NewServer(notify.ServerConfig{
		Hub:            hub,
		Verifier:       authService,
		RequireAuth:    cfg.Realtime.RequireAuth,
		AllowedOrigins: api.AllowedOrigins(cfg.Server.FrontendURL),
		SendBuffer:     cfg.Realtime.SendBuffer,
		PingInterval:   cfg.Realtime.PingInterval,
		Logger:         logger,
	})

	// --- Initialize Gin Engine ---
	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default() // Includes Logger and Recovery middleware
	api.SetupRoutes(router, api.Dependencies{
		AuthService:    authService,
		VideoService:   videoService,
		Responder:      stream.NewResponder(logger),
		Realtime:       realtime,
		HealthCheck:    healthCheck,
		Redis:          redisClient,
		RateLimit:      cfg.RateLimit,
		FrontendURL:    cfg.Server.FrontendURL,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Logger:         logger,
	})

	// --- Start HTTP Server ---
	// No write timeout: streams and uploads of large files run for minutes.
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("ListenAndServe error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stopSweeper()
	if err := scheduler.Shutdown(ctxShutdown); err != nil {
		logger.Warn("processing jobs cancelled", "error", err)
	}

	logger.Info("server exiting")
}
