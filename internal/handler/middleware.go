package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dualauth/internal/auth"
)

const (
	principalKey    = "principal"
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// bearerToken reports the credential from an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "handler.authenticate"

		log := h.log.With(slog.String("op", op), slog.String("request_id", c.GetString(requestIDKey)))

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, log, auth.Unauthorized(auth.ErrMissingCredentials))

			return
		}

		principal, err := h.serviceLayer.Resolve(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, log, err)

			return
		}

		c.Set(principalKey, principal)

		c.Next()
	}
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}

	p, ok := v.(auth.Principal)
	return p, ok
}

// gate builds a middleware from a check on the resolved principal.
func (h *Handler) gate(name string, check func(auth.Principal) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := h.log.With(slog.String("op", "handler."+name), slog.String("request_id", c.GetString(requestIDKey)))

		p, ok := principalFrom(c)
		if !ok {
			abortWithError(c, log, auth.Unauthorized(auth.ErrMissingCredentials))

			return
		}

		if err := check(p); err != nil {
			abortWithError(c, log, err)

			return
		}

		c.Next()
	}
}

func (h *Handler) requireRole(role string) gin.HandlerFunc {
	return h.gate("requireRole", func(p auth.Principal) error { return auth.RequireRole(p, role) })
}

func (h *Handler) requireScope(scope string) gin.HandlerFunc {
	return h.gate("requireScope", func(p auth.Principal) error { return auth.RequireScope(p, scope) })
}

func (h *Handler) requireAuthType(t auth.AuthType) gin.HandlerFunc {
	return h.gate("requireAuthType", func(p auth.Principal) error { return auth.RequireAuthType(p, t) })
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", c.GetString(requestIDKey)),
		)
	}
}
