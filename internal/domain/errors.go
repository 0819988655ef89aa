package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind машиночитаемый вид ошибки, отдается клиенту вместе с сообщением.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation_error"
	KindNotReady             ErrorKind = "not_ready"
	KindUnknownPlan          ErrorKind = "unknown_plan"
	KindMissingPaymentMethod ErrorKind = "missing_payment_method"
	KindAuthenticity         ErrorKind = "authenticity_error"
	KindMalformedPayload     ErrorKind = "malformed_payload"
	KindProcessor            ErrorKind = "processor_error"
	KindStoreWrite           ErrorKind = "store_write_error"
	KindNotFound             ErrorKind = "not_found"
)

// Application errors
var (
	// ErrValidation неверные входные данные
	ErrValidation = errors.New("invalid input data")

	// ErrNotReady внешнее предусловие еще не выполнено (авторизация не в статусе succeeded)
	ErrNotReady = errors.New("precondition not met")

	// ErrUnknownPlan план/интервал не сконфигурирован
	ErrUnknownPlan = errors.New("subscription plan not configured")

	// ErrMissingPaymentMethod у авторизации нет метода оплаты
	ErrMissingPaymentMethod = errors.New("payment method not found")

	// ErrAuthenticity не удалось проверить подпись вебхука
	ErrAuthenticity = errors.New("webhook validation failed")

	// ErrMalformedPayload тело вебхука не разбирается
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrProcessor ошибка платежного процессора
	ErrProcessor = errors.New("payment processor error")

	// ErrStoreWrite не удалось сохранить локальную запись
	ErrStoreWrite = errors.New("store write failed")

	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")
)

var sentinels = map[ErrorKind]error{
	KindValidation:           ErrValidation,
	KindNotReady:             ErrNotReady,
	KindUnknownPlan:          ErrUnknownPlan,
	KindMissingPaymentMethod: ErrMissingPaymentMethod,
	KindAuthenticity:         ErrAuthenticity,
	KindMalformedPayload:     ErrMalformedPayload,
	KindProcessor:            ErrProcessor,
	KindStoreWrite:           ErrStoreWrite,
	KindNotFound:             ErrNotFound,
}

// Error ошибка с видом, человекочитаемым сообщением и исходной причиной.
type Error struct {
	Kind        ErrorKind
	Message     string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *Error) Unwrap() error {
	return e.OriginalErr
}

// Is сопоставляет ошибку с сентинелом ее вида, чтобы работал errors.Is(err, ErrNotReady).
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), OriginalErr: err}
}

// NewValidationError ошибка валидации входных данных
func NewValidationError(format string, args ...interface{}) *Error {
	return newError(KindValidation, nil, format, args...)
}

// NewNotReadyError авторизация еще не завершена
func NewNotReadyError(format string, args ...interface{}) *Error {
	return newError(KindNotReady, nil, format, args...)
}

// NewUnknownPlanError план не сконфигурирован
func NewUnknownPlanError(planID, interval string) *Error {
	return newError(KindUnknownPlan, nil, "plan %q with interval %q is not configured", planID, interval)
}

// NewMissingPaymentMethodError авторизация без метода оплаты
func NewMissingPaymentMethodError(authorizationID string) *Error {
	return newError(KindMissingPaymentMethod, nil, "authorization %s carries no payment method", authorizationID)
}

// NewAuthenticityError подпись вебхука не совпала
func NewAuthenticityError(err error) *Error {
	return newError(KindAuthenticity, err, "webhook signature verification failed")
}

// NewMalformedPayloadError тело вебхука некорректно
func NewMalformedPayloadError(err error, format string, args ...interface{}) *Error {
	return newError(KindMalformedPayload, err, format, args...)
}

// NewProcessorError ошибка процессора; сообщение процессора не маскируется
func NewProcessorError(err error, format string, args ...interface{}) *Error {
	return newError(KindProcessor, err, format, args...)
}

// NewStoreWriteError не удалось записать локальную запись
func NewStoreWriteError(err error, format string, args ...interface{}) *Error {
	return newError(KindStoreWrite, err, format, args...)
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *Error {
	return newError(KindNotFound, nil, "%s with ID %s not found", entity, id)
}

// KindOf возвращает вид доменной ошибки или пустую строку для посторонних ошибок.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// MessageOf возвращает человекочитаемое сообщение доменной ошибки без причины.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// ValidationError представляет ошибку валидации одного поля
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields возвращает список полей с ошибками
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// Err сворачивает набор в одну ошибку вида validation_error; nil если ошибок нет.
func (e ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Field + " " + v.Message
	}
	return NewValidationError("%s", strings.Join(parts, "; "))
}
