package domain

// AuthorizationStatus статус разовой авторизации платежа (PaymentIntent)
type AuthorizationStatus string

const (
	AuthorizationRequiresPaymentMethod AuthorizationStatus = "requires_payment_method"
	AuthorizationRequiresConfirmation  AuthorizationStatus = "requires_confirmation"
	AuthorizationRequiresAction        AuthorizationStatus = "requires_action"
	AuthorizationProcessing            AuthorizationStatus = "processing"
	AuthorizationSucceeded             AuthorizationStatus = "succeeded"
	AuthorizationCanceled              AuthorizationStatus = "canceled"
)

// Ключи метаданных авторизации и подписки
const (
	MetadataPlanID        = "plan_id"
	MetadataInterval      = "interval"
	MetadataCustomerEmail = "customer_email"
)

// PaymentAuthorization разовое намерение списания. Меняется только процессором.
type PaymentAuthorization struct {
	ID              string              `json:"id"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Status          AuthorizationStatus `json:"status"`
	CustomerID      string              `json:"customer_id,omitempty"`
	PaymentMethodID string              `json:"payment_method_id,omitempty"`
	ClientSecret    string              `json:"-"`
	Metadata        map[string]string   `json:"metadata,omitempty"`
}

// Succeeded true только для статуса succeeded.
func (a *PaymentAuthorization) Succeeded() bool {
	return a.Status == AuthorizationSucceeded
}

// CreateAuthorizationInput параметры создания авторизации
type CreateAuthorizationInput struct {
	Amount        int64             `json:"amount" validate:"required,gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	CustomerEmail string            `json:"customer_email" validate:"required,email"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// AuthorizationResult то, что нужно клиенту для подтверждения вне сервиса
type AuthorizationResult struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}
