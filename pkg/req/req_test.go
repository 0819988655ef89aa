package req

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Email  string `json:"customer_email" validate:"required,email"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

func TestDecodeAndValidate(t *testing.T) {
	p, err := Decode[payload](strings.NewReader(`{"customer_email":"a@b.com","amount":2499}`))
	require.NoError(t, err)
	fields, err := IsValid(p)
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = Decode[payload](strings.NewReader(`{"amount":`))
	assert.Error(t, err)
}

func TestIsValid_ReportsJSONFieldNames(t *testing.T) {
	fields, err := IsValid(payload{Email: "not-an-email"})
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "customer_email", fields[0].Field)
	assert.Equal(t, "must be a valid email", fields[0].Message)
	assert.Equal(t, "amount", fields[1].Field)
	assert.Equal(t, "required", fields[1].Tag)
}
