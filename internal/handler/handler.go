package handler

import (
	"errors"
	"log/slog"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"dualauth/internal/auth"
	"dualauth/internal/config"
	"dualauth/internal/models"
	"dualauth/internal/service"
)

const (
	serviceName    = "Authentication & API Key System API"
	serviceVersion = "1.0.0"
)

type Handler struct {
	serviceLayer service.Service
	log          *slog.Logger
	opts         Options
}

// Options wires the optional collaborators. Zero value means no rate limiting and no Sentry.
type Options struct {
	Redis     *redis.Client
	RateLimit config.RateLimit
	Sentry    bool

	// TrustedProxies feeds gin's client IP resolution. Nil trusts no proxy.
	TrustedProxies []string
}

type errorResponse struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
	KeyID   string `json:"key_id,omitempty"`
}

func newErrorResponse(c *gin.Context, statusCode int, errMessage string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Message: errMessage})
}

func NewHandler(srvc service.Service, lgr *slog.Logger, opts Options) *Handler {
	return &Handler{
		serviceLayer: srvc,
		log:          lgr,
		opts:         opts,
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()

	if err := router.SetTrustedProxies(h.opts.TrustedProxies); err != nil {
		h.log.Error("invalid trusted proxies, forwarding headers are ignored",
			slog.Any("proxies", h.opts.TrustedProxies),
			slog.Any("error", err),
		)
		_ = router.SetTrustedProxies(nil)
	}

	if h.opts.Sentry {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(requestID(), requestLogger(h.log))
	router.Use(newRateLimiter(h.opts.RateLimit, h.opts.Redis, h.log))

	router.GET("/", h.Index)
	router.GET("/health", h.Health)

	authenticated := h.authenticate()

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/signup", h.Signup)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)

		authGroup.GET("/me", authenticated, h.Me)
		authGroup.POST("/logout", authenticated, h.Logout)
	}

	keys := router.Group("/keys", authenticated)
	{
		keys.POST("/create", h.CreateAPIKey)
		keys.GET("/list", h.ListAPIKeys)
		keys.DELETE("/revoke/:id", h.RevokeAPIKey)
		keys.DELETE("/delete/:id", h.DeleteAPIKey)
	}

	protected := router.Group("/protected", authenticated)
	{
		protected.GET("/user-only", h.UserOnly)
		protected.GET("/service-only", h.requireAuthType(auth.AuthTypeAPIKey), h.ServiceOnly)
		protected.GET("/admin", h.requireRole(models.RoleAdmin), h.AdminOnly)
		protected.GET("/read-only", h.requireScope("read"), h.ReadOnly)
	}

	admin := router.Group("/admin", authenticated, h.requireRole(models.RoleAdmin))
	{
		admin.GET("/users", h.GetAllUsers)
		admin.POST("/roles/assign", h.AssignRole)
	}

	return router
}

var statusByKind = map[auth.Kind]int{
	auth.KindValidation:   http.StatusBadRequest,
	auth.KindUnauthorized: http.StatusUnauthorized,
	auth.KindForbidden:    http.StatusForbidden,
	auth.KindNotFound:     http.StatusNotFound,
}

// abortWithError writes the response for err. Only *auth.Error messages reach the client.
func abortWithError(c *gin.Context, log *slog.Logger, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Kind == auth.KindInternal {
		log.Error("request failed", slog.Any("error", err))
		captureError(c, err)

		newErrorResponse(c, http.StatusInternalServerError, "Internal server error")

		return
	}

	if authErr.Kind == auth.KindUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}

	log.Info("request rejected",
		slog.String("kind", authErr.Kind.String()),
		slog.Any("reason", authErr.Reason),
	)

	newErrorResponse(c, statusByKind[authErr.Kind], authErr.Message)
}

func captureError(c *gin.Context, err error) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
}

// GET /
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": serviceName,
		"version": serviceVersion,
		"endpoints": gin.H{
			"auth":      "/auth/signup, /auth/login, /auth/refresh, /auth/me, /auth/logout",
			"keys":      "/keys/create, /keys/list, /keys/revoke/{key_id}, /keys/delete/{key_id}",
			"protected": "/protected/user-only, /protected/service-only, /protected/admin, /protected/read-only",
			"admin":     "/admin/users, /admin/roles/assign",
		},
	})
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	const op = "handler.Health"

	log := h.log.With(slog.String("op", op))

	if err := h.serviceLayer.Ping(c.Request.Context()); err != nil {
		log.Error("storage ping failed", slog.Any("error", err))

		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
