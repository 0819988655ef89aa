package repository

import (
	"errors"

	"github.com/Dhoini/subscription-service/internal/domain"
)

var (
	// ErrNotFound запись не найдена; совпадает с доменной ошибкой, чтобы errors.Is работал на всех слоях
	ErrNotFound = domain.ErrNotFound

	// ErrInvalidData неверные данные
	ErrInvalidData = errors.New("invalid data")

	// ErrConflict запись изменилась после чтения; условная запись не выполнена
	ErrConflict = errors.New("record changed concurrently")
)
