package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"

	"dualauth/internal/auth"
	"dualauth/internal/service"
)

type createKeyRequest struct {
	Name          *string `json:"name"`
	ExpiresInDays *int    `json:"expires_in_days"`
	Scopes        string  `json:"scopes"`
}

type createdKeyResponse struct {
	ID        uuid.UUID  `json:"id"`
	Key       string     `json:"key"`
	Name      *string    `json:"name"`
	UserID    uuid.UUID  `json:"user_id"`
	IsActive  bool       `json:"is_active"`
	Scopes    string     `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// POST /keys/create
func (h *Handler) CreateAPIKey(c *gin.Context) {
	const op = "handler.CreateAPIKey"

	log := h.log.With(slog.String("op", op))

	var req createKeyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Info("failed to read request body", slog.Any("error", err))

			newErrorResponse(c, http.StatusBadRequest, "Invalid request body")

			return
		}
	}

	p, _ := principalFrom(c)

	created, err := h.serviceLayer.CreateAPIKey(c.Request.Context(), p, service.CreateAPIKeyInput{
		Name:          req.Name,
		ExpiresInDays: req.ExpiresInDays,
		Scopes:        req.Scopes,
	})
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	key := created.APIKey
	log.Info("api key created", slog.String("user_id", key.UserID.String()), slog.String("key_id", key.ID.String()))

	c.JSON(http.StatusCreated, createdKeyResponse{
		ID:        key.ID,
		Key:       created.Key,
		Name:      key.Name,
		UserID:    key.UserID,
		IsActive:  key.IsActive,
		Scopes:    key.Scopes,
		ExpiresAt: key.ExpiresAt,
		CreatedAt: key.CreatedAt,
	})
}

// GET /keys/list
func (h *Handler) ListAPIKeys(c *gin.Context) {
	const op = "handler.ListAPIKeys"

	log := h.log.With(slog.String("op", op))

	p, _ := principalFrom(c)

	keys, err := h.serviceLayer.ListAPIKeys(c.Request.Context(), p.User.ID)
	if err != nil {
		abortWithError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, keys)
}

// DELETE /keys/revoke/:id
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	const op = "handler.RevokeAPIKey"

	log := h.log.With(slog.String("op", op))

	keyID, ok := keyIDParam(c, log)
	if !ok {
		return
	}

	p, _ := principalFrom(c)

	if _, err := h.serviceLayer.RevokeAPIKey(c.Request.Context(), p.User.ID, keyID); err != nil {
		abortWithError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "API key revoked successfully", KeyID: keyID.String()})
}

// DELETE /keys/delete/:id
func (h *Handler) DeleteAPIKey(c *gin.Context) {
	const op = "handler.DeleteAPIKey"

	log := h.log.With(slog.String("op", op))

	keyID, ok := keyIDParam(c, log)
	if !ok {
		return
	}

	p, _ := principalFrom(c)

	if err := h.serviceLayer.DeleteAPIKey(c.Request.Context(), p.User.ID, keyID); err != nil {
		abortWithError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "API key deleted successfully", KeyID: keyID.String()})
}

// keyIDParam treats a malformed id like any id the caller does not own.
func keyIDParam(c *gin.Context, log *slog.Logger) (uuid.UUID, bool) {
	keyID, err := uuid.FromString(c.Param("id"))
	if err != nil {
		abortWithError(c, log, auth.NotFound("API key not found"))

		return uuid.Nil, false
	}

	return keyID, true
}
