package domain

// Customer клиент на стороне процессора. Уникальность по email обеспечивается
// поиском перед созданием, а не ограничением базы данных.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// PaymentMethod метод оплаты процессора. CustomerID пуст, пока метод ни к кому не привязан.
type PaymentMethod struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id,omitempty"`
}

// PaymentMethodBinding связь клиента и метода оплаты.
// У клиента не более одного метода по умолчанию: новая привязка вытесняет старую.
type PaymentMethodBinding struct {
	CustomerID      string `json:"customer_id"`
	PaymentMethodID string `json:"payment_method_id"`
	IsDefault       bool   `json:"is_default"`
}
