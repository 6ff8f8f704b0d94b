// Package httpapi exposes the inspector over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
	"github.com/dmitrijs2005/lscinspector/internal/server/services"
)

const requestIDHeader = "X-Request-ID"

// FileService is the analysis surface used by the handlers.
type FileService interface {
	Upload(ctx context.Context, data []byte, fileName string) (*models.UploadedImage, error)
	Analyze(ctx context.Context, ownerID, sourceURL, weightID string) (*models.File, error)
	Demo(ctx context.Context, sourceURL string) (*models.DemoResult, error)
	ListOwned(ctx context.Context, ownerID string) ([]*models.File, error)
	GetOwned(ctx context.Context, ownerID, fileID string) (*models.File, error)
	DeleteOwned(ctx context.Context, ownerID, fileID string) error
	ClearOwned(ctx context.Context, ownerID string) (int, error)
}

// WeightService is the model registry surface.
type WeightService interface {
	Deploy(ctx context.Context, ownerID string, in services.DeployInput) (*models.Weight, error)
	ListOwned(ctx context.Context, ownerID string) ([]*models.Weight, error)
	GetOwned(ctx context.Context, ownerID, weightID string) (*models.Weight, error)
	DeleteOwned(ctx context.Context, ownerID, weightID string) error
}

// UserService is the account surface.
type UserService interface {
	Register(ctx context.Context, userName, email, password string) (*models.Profile, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Me(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID, userName, email string) (*models.Profile, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	ChangeProfileImage(ctx context.Context, userID string, data []byte, fileName string) (*models.Profile, error)
}

// Pinger reports readiness of the record store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds the services behind the HTTP routes.
type Handler struct {
	files          FileService
	weights        WeightService
	users          UserService
	db             Pinger
	secret         []byte
	maxUploadBytes int64
	log            logging.Logger
}

// NewHandler wires a Handler.
func NewHandler(files FileService, weights WeightService, users UserService, db Pinger,
	cfg *config.Config, log logging.Logger) *Handler {
	return &Handler{
		files:          files,
		weights:        weights,
		users:          users,
		db:             db,
		secret:         []byte(cfg.SecretKey),
		maxUploadBytes: cfg.MaxUploadBytes,
		log:            log.With("module", "http"),
	}
}

// NewRouter builds the gin engine with every route under /api/v1.
func NewRouter(h *Handler, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	r.MaxMultipartMemory = h.maxUploadBytes

	if len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/token/refresh", h.Refresh)

			me := authGroup.Group("/me", h.AuthMiddleware())
			me.GET("", h.Me)
			me.PUT("", h.UpdateProfile)
			me.PUT("/password", h.ChangePassword)
			me.PUT("/image", h.ChangeProfileImage)
		}

		// Staging and demo previews are open to anonymous visitors.
		staging := api.Group("/files")
		{
			staging.POST("/upload", h.Upload)
			staging.POST("/demo", h.Demo)
		}

		files := api.Group("/files", h.AuthMiddleware())
		{
			files.POST("/analyze", h.Analyze)
			files.GET("", h.ListFiles)
			files.GET("/:id", h.GetFile)
			files.DELETE("/:id", h.DeleteFile)
			files.DELETE("", h.ClearFiles)
		}

		weights := api.Group("/weights", h.AuthMiddleware())
		{
			weights.POST("", h.DeployWeight)
			weights.GET("", h.ListWeights)
			weights.GET("/:id", h.GetWeight)
			weights.DELETE("/:id", h.DeleteWeight)
		}
	}

	return r
}

// requestLogger tags the request context with a request id, honouring an
// inbound X-Request-ID, and logs the outcome.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), "request_id", rid))

		c.Next()
		h.log.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Health reports whether the record store answers.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "timestamp": time.Now().Format(time.RFC3339)})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}
