package domain

// ProvisioningState шаг саги подключения подписки
type ProvisioningState string

const (
	StateAuthorizationPending  ProvisioningState = "authorization_pending"
	StateAuthorizationVerified ProvisioningState = "authorization_verified"
	StateMethodBound           ProvisioningState = "method_bound"
	StateSubscriptionCreated   ProvisioningState = "subscription_created"
	StateFailed                ProvisioningState = "failed"
)

// ProvisionInput входные данные саги
type ProvisionInput struct {
	PlanID          string `json:"plan_id" validate:"required"`
	Interval        string `json:"interval" validate:"required"`
	AuthorizationID string `json:"authorization_id" validate:"required"`
	CustomerEmail   string `json:"customer_email" validate:"required"`
}

// ProvisionResult результат саги; status=incomplete - валидный результат,
// подтверждение первого счета остается за клиентом.
type ProvisionResult struct {
	SubscriptionID string             `json:"subscription_id"`
	Status         SubscriptionStatus `json:"status"`
	ClientSecret   string             `json:"client_secret"`
}
