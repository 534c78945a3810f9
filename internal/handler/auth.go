package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dualauth/internal/auth"
	"dualauth/internal/models"
)

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	models.User
	AuthType auth.AuthType `json:"auth_type"`
	Scopes   auth.Scopes   `json:"scopes"`
}

// POST /auth/signup
func (h *Handler) Signup(c *gin.Context) {
	const op = "handler.Signup"

	log := h.log.With(slog.String("op", op))

	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, "Invalid request body: email and password are required")

		return
	}

	user, err := h.serviceLayer.Signup(c.Request.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	log.Info("user signed up", slog.String("user_id", user.ID.String()), slog.String("role", user.Role))

	c.JSON(http.StatusCreated, user)
}

// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, "Invalid request body: email and password are required")

		return
	}

	pair, err := h.serviceLayer.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, pair)
}

// POST /auth/refresh
// The token is read from the JSON body, falling back to ?refresh_token=.
func (h *Handler) Refresh(c *gin.Context) {
	const op = "handler.Refresh"

	log := h.log.With(slog.String("op", op))

	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Debug("refresh body ignored", slog.Any("error", err))
		}
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = strings.TrimSpace(c.Query("refresh_token"))
	}

	pair, err := h.serviceLayer.Refresh(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, pair)
}

// GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	p, _ := principalFrom(c)

	c.JSON(http.StatusOK, meResponse{
		User:     p.User,
		AuthType: p.AuthType,
		Scopes:   p.Scopes,
	})
}

// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	const op = "handler.Logout"

	log := h.log.With(slog.String("op", op))

	p, _ := principalFrom(c)

	n, err := h.serviceLayer.Logout(c.Request.Context(), p.User.ID)
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	log.Info("user logout", slog.String("user_id", p.User.ID.String()), slog.Int64("revoked", n))

	c.JSON(http.StatusOK, gin.H{"message": "Logged out", "revoked_tokens": n})
}
