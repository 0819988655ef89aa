package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/internal/services"
	"github.com/Dhoini/subscription-service/pkg/logger"
	"github.com/Dhoini/subscription-service/pkg/res"
)

const (
	// DefaultMaxBodyBytes ограничение на размер тела вебхука
	DefaultMaxBodyBytes = int64(65536)
	signatureHeader     = "Stripe-Signature"
)

// Reconciler применяет доставку вебхука к локальным записям
type Reconciler interface {
	Reconcile(ctx context.Context, rawBody []byte, signatureHeader string) (*services.ReconcileResult, error)
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	reconciler   Reconciler
	maxBodyBytes int64
	log          *logger.Logger
}

// NewWebhookHandler maxBodyBytes <= 0 означает DefaultMaxBodyBytes.
func NewWebhookHandler(reconciler Reconciler, maxBodyBytes int64, log *logger.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookHandler{
		reconciler:   reconciler,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// HandleStripeWebhook обрабатывает POST /webhooks/stripe.
// Тело читается один раз и передается дальше байт в байт: подпись считается по нему.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Warnw("Webhook body too large", "limit", tooLarge.Limit)
			res.Error(c, http.StatusRequestEntityTooLarge, string(domain.KindMalformedPayload), "Request body too large", nil)
			return
		}
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.Error(c, http.StatusBadRequest, string(domain.KindMalformedPayload), "Cannot read request body", nil)
		return
	}

	sig := c.GetHeader(signatureHeader)
	if sig == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		res.Error(c, http.StatusBadRequest, string(domain.KindAuthenticity), "Missing Stripe-Signature header", nil)
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), payload, sig)
	if err != nil {
		respondError(c, h.log, "Reconcile", err)
		return
	}

	res.JSON(c, http.StatusOK, result)
}
