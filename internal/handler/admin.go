package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type assignRoleRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// GET /admin/users
func (h *Handler) GetAllUsers(c *gin.Context) {
	const op = "handler.GetAllUsers"

	log := h.log.With(slog.String("op", op))

	users, err := h.serviceLayer.ListUsers(c.Request.Context())
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, users)
}

// POST /admin/roles/assign
func (h *Handler) AssignRole(c *gin.Context) {
	const op = "handler.AssignRole"

	log := h.log.With(slog.String("op", op))

	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to bind JSON in assign role", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, "Invalid request body: user_id and role are required")

		return
	}

	userID, err := uuid.FromString(req.UserID)
	if err != nil {
		newErrorResponse(c, http.StatusBadRequest, "Invalid user_id")

		return
	}

	user, err := h.serviceLayer.AssignRole(c.Request.Context(), userID, req.Role)
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	p, _ := principalFrom(c)
	log.Info("user role changed",
		slog.String("user_id", user.ID.String()),
		slog.String("role", user.Role),
		slog.String("by", p.User.ID.String()),
	)

	c.JSON(http.StatusOK, user)
}
