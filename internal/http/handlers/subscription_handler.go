package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/internal/repository"
	"github.com/Dhoini/subscription-service/pkg/logger"
	"github.com/Dhoini/subscription-service/pkg/req"
	"github.com/Dhoini/subscription-service/pkg/res"
)

// Provisioner запускает сагу подключения подписки
type Provisioner interface {
	Provision(ctx context.Context, in domain.ProvisionInput) (*domain.ProvisionResult, error)
}

// RecordReader чтение локальных записей подписок
type RecordReader interface {
	FindByCustomer(ctx context.Context, email string) (*domain.LocalSubscriptionRecord, error)
}

// SubscriptionHandler обрабатывает HTTP запросы, связанные с подписками.
type SubscriptionHandler struct {
	provisioner Provisioner
	records     RecordReader
	log         *logger.Logger
}

// NewSubscriptionHandler создает новый экземпляр SubscriptionHandler.
func NewSubscriptionHandler(provisioner Provisioner, records RecordReader, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		provisioner: provisioner,
		records:     records,
		log:         log,
	}
}

// CreateSubscription обрабатывает POST /subscriptions
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	body, err := req.Decode[domain.ProvisionInput](c.Request.Body)
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

	out, err := h.provisioner.Provision(c.Request.Context(), body)
	if err != nil {
		respondError(c, h.log, "Provision", err)
		return
	}

	res.JSON(c, http.StatusCreated, out)
}

// GetSubscription обрабатывает GET /subscriptions?email=
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	email := repository.NormalizeEmail(c.Query("email"))
	if email == "" {
		res.Error(c, http.StatusBadRequest, string(domain.KindValidation), "email query parameter is required", nil)
		return
	}

	rec, err := h.records.FindByCustomer(c.Request.Context(), email)
	if err != nil {
		respondError(c, h.log, "FindByCustomer", err)
		return
	}

	res.JSON(c, http.StatusOK, rec)
}
