package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"
	"github.com/Dhoini/subscription-service/pkg/res"
)

// statusFor сопоставляет вид доменной ошибки с HTTP статусом.
// store_write отдается как 500, чтобы процессор повторил доставку вебхука.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindAuthenticity, domain.KindMalformedPayload:
		return http.StatusBadRequest
	case domain.KindNotReady:
		return http.StatusConflict
	case domain.KindUnknownPlan, domain.KindMissingPaymentMethod:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindProcessor:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет ответ об ошибке. Посторонние ошибки не раскрываются клиенту.
func respondError(c *gin.Context, log *logger.Logger, op string, err error) {
	kind := domain.KindOf(err)
	if kind == "" && errors.Is(err, domain.ErrNotFound) {
		kind = domain.KindNotFound
	}
	status := statusFor(kind)

	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "operation", op, "kind", string(kind), "error", err)
	} else {
		log.Warnw("Request rejected", "operation", op, "kind", string(kind), "error", err)
	}

	if kind == "" {
		res.Error(c, status, "internal_error", "Internal server error", nil)
		return
	}
	msg := domain.MessageOf(err)
	if kind == domain.KindNotFound && domain.KindOf(err) == "" {
		msg = "Subscription record not found"
	}
	res.Error(c, status, string(kind), msg, nil)
}
