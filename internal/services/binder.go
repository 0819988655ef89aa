package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// PaymentMethodBinder привязывает подтвержденный метод оплаты к клиенту
// и делает его методом по умолчанию для счетов.
type PaymentMethodBinder struct {
	methods     PaymentMethodGateway
	callTimeout time.Duration
	log         *logger.Logger
}

// NewPaymentMethodBinder создает binder
func NewPaymentMethodBinder(methods PaymentMethodGateway, callTimeout time.Duration, log *logger.Logger) *PaymentMethodBinder {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &PaymentMethodBinder{methods: methods, callTimeout: callTimeout, log: log}
}

// Bind повторный вызов безопасен: уже привязанный метод не привязывается снова,
// установка метода по умолчанию идемпотентна у процессора.
func (b *PaymentMethodBinder) Bind(ctx context.Context, customerID, paymentMethodID string) (*domain.PaymentMethodBinding, error) {
	if err := requiredID("customer_id", customerID); err != nil {
		return nil, err
	}
	if err := requiredID("payment_method_id", paymentMethodID); err != nil {
		return nil, err
	}

	getCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	pm, err := b.methods.GetPaymentMethod(getCtx, paymentMethodID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("bind payment method: %w", err)
	}

	if pm.CustomerID != customerID {
		attachCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
		err := b.methods.AttachPaymentMethod(attachCtx, paymentMethodID, customerID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("bind payment method: %w", err)
		}
	} else {
		b.log.Debugw("Payment method already attached", "paymentMethodID", paymentMethodID, "stripeCustomerID", customerID)
	}

	defaultCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	if err := b.methods.SetDefaultPaymentMethod(defaultCtx, customerID, paymentMethodID); err != nil {
		return nil, fmt.Errorf("bind payment method: %w", err)
	}

	return &domain.PaymentMethodBinding{
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
		IsDefault:       true,
	}, nil
}
