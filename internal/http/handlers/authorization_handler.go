package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"
	"github.com/Dhoini/subscription-service/pkg/req"
	"github.com/Dhoini/subscription-service/pkg/res"
)

// Authorizer операции с разовыми авторизациями платежа
type Authorizer interface {
	CreateAuthorization(ctx context.Context, in domain.CreateAuthorizationInput) (*domain.AuthorizationResult, error)
	GetAuthorization(ctx context.Context, id string) (*domain.PaymentAuthorization, error)
}

// AuthorizationHandler обрабатывает HTTP запросы к авторизациям платежа.
type AuthorizationHandler struct {
	authorizer Authorizer
	log        *logger.Logger
}

// NewAuthorizationHandler создает новый экземпляр AuthorizationHandler.
func NewAuthorizationHandler(authorizer Authorizer, log *logger.Logger) *AuthorizationHandler {
	return &AuthorizationHandler{
		authorizer: authorizer,
		log:        log,
	}
}

// CreateAuthorization обрабатывает POST /authorizations
func (h *AuthorizationHandler) CreateAuthorization(c *gin.Context) {
	body, err := req.Decode[domain.CreateAuthorizationInput](c.Request.Body)
	if err != nil {
		h.log.Warnw("Failed to decode request body", "error", err)
		res.Error(c, http.StatusBadRequest, string(domain.KindValidation), "Invalid request format", nil)
		return
	}

	fields, err := req.IsValid(body)
	if err != nil || len(fields) > 0 {
		h.log.Warnw("Request body validation failed", "fields", fields, "error", err)
		res.Error(c, http.StatusBadRequest, string(domain.KindValidation), "Invalid request data", fields)
		return
	}

	out, err := h.authorizer.CreateAuthorization(c.Request.Context(), body)
	if err != nil {
		respondError(c, h.log, "CreateAuthorization", err)
		return
	}

	res.JSON(c, http.StatusCreated, out)
}

// GetAuthorization обрабатывает GET /authorizations/:id
func (h *AuthorizationHandler) GetAuthorization(c *gin.Context) {
	id := c.Param("id")

	auth, err := h.authorizer.GetAuthorization(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, "GetAuthorization", err)
		return
	}

	res.JSON(c, http.StatusOK, auth)
}
