package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /protected/user-only
func (h *Handler) UserOnly(c *gin.Context) {
	p, _ := principalFrom(c)

	h.log.Info("protected route accessed",
		slog.String("op", "handler.UserOnly"),
		slog.String("user_id", p.User.ID.String()),
		slog.String("auth_type", string(p.AuthType)),
	)

	c.JSON(http.StatusOK, gin.H{
		"message":      "This is a protected route",
		"user_email":   p.User.Email,
		"auth_type":    p.AuthType,
		"scopes":       p.Scopes,
		"role":         p.User.Role,
		"access_level": "user",
	})
}

// GET /protected/service-only
func (h *Handler) ServiceOnly(c *gin.Context) {
	p, _ := principalFrom(c)

	c.JSON(http.StatusOK, gin.H{
		"message":      "This is a service route",
		"user_email":   p.User.Email,
		"auth_type":    p.AuthType,
		"scopes":       p.Scopes,
		"key_id":       p.KeyID,
		"access_level": "service",
	})
}

// GET /protected/admin
func (h *Handler) AdminOnly(c *gin.Context) {
	p, _ := principalFrom(c)

	c.JSON(http.StatusOK, gin.H{
		"message":      "This is an admin route",
		"user_email":   p.User.Email,
		"auth_type":    p.AuthType,
		"role":         p.User.Role,
		"access_level": "admin",
	})
}

// GET /protected/read-only
func (h *Handler) ReadOnly(c *gin.Context) {
	p, _ := principalFrom(c)

	c.JSON(http.StatusOK, gin.H{
		"message":      "You have read access",
		"user_email":   p.User.Email,
		"auth_type":    p.AuthType,
		"scopes":       p.Scopes,
		"access_level": "read",
	})
}
