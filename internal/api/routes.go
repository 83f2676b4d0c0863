package api

import (
	"alcyxob/video-app/internal/config"
	"alcyxob/video-app/internal/domain" // Needed for RoleMiddleware
	"alcyxob/video-app/internal/metrics"
	"alcyxob/video-app/internal/service"
	"alcyxob/video-app/internal/stream"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	AuthService    service.AuthService
	VideoService   service.VideoService
	Responder      *stream.Responder
	Realtime       http.Handler // WebSocket endpoint
	HealthCheck    func(ctx context.Context) error
	Redis          *redis.Client // nil disables rate limiting
	RateLimit      config.RateLimitConfig
	FrontendURL    string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// AllowedOrigins returns the browser origins allowed to call the API.
func AllowedOrigins(frontendURL string) []string {
	origins := append([]string{}, defaultOrigins...)
	frontendURL = strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if strings.HasPrefix(frontendURL, "http://") || strings.HasPrefix(frontendURL, "https://") {
		origins = append(origins, frontendURL)
	}
	return origins
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	authHandler := NewAuthHandler(deps.AuthService)
	videoHandler := NewVideoHandler(deps.VideoService, deps.Responder, deps.MaxUploadBytes, deps.Logger)

	authMiddleware := AuthMiddleware(deps.AuthService)
	limiter := NewRateLimiter(RateLimiterConfig{
		RedisClient: deps.Redis,
		Limit:       deps.RateLimit.Limit,
		Window:      deps.RateLimit.Window,
	})

	router.Use(cors.New(cors.Config{
		AllowOrigins:     AllowedOrigins(deps.FrontendURL),
		AllowMethods:     []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Range"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Video Upload API", "status": "running"})
	})
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/health", healthHandler(deps.HealthCheck))
		if deps.Realtime != nil {
			apiV1.GET("/ws", gin.WrapH(deps.Realtime))
		}

		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", limiter, authHandler.Register)
			authGroup.POST("/login", limiter, authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", authHandler.Me)

		videos := protected.Group("/videos")
		{
			videos.POST("/upload", RoleMiddleware(domain.RoleEditor, domain.RoleAdmin), limiter, videoHandler.Upload)
			videos.GET("", videoHandler.List)
			videos.GET("/stream/:id", videoHandler.Stream)
			videos.HEAD("/stream/:id", videoHandler.Stream)
			videos.GET("/:id", videoHandler.Get)
			videos.GET("/:id/download-url", videoHandler.DownloadURL)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "Route not found")
	})
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DEGRADED", "message": "Database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Server is running"})
	}
}
