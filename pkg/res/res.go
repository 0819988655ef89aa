package res

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse представляет формат JSON-ответа для ошибок.
type ErrorResponse struct {
	Error   string `json:"error"`             // Сообщение об ошибке (для пользователя)
	Kind    string `json:"kind,omitempty"`    // Вид ошибки (для программной обработки)
	Details any    `json:"details,omitempty"` // Детали ошибки (например, ошибки валидации)
}

// JSON отправляет JSON-ответ с заданным статусом.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Error отправляет JSON ответ ошибки и прерывает цепочку обработчиков.
func Error(c *gin.Context, status int, kind, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Kind: kind, Details: details})
}
