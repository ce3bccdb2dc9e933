package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigitsFromCurrencyTable(t *testing.T) {
	svc := NewService("EUR")

	assert.Equal(t, int32(2), svc.Digits("EUR"))
	assert.Equal(t, int32(2), svc.Digits("usd"))
	assert.Equal(t, int32(0), svc.Digits("JPY"))
	assert.Equal(t, int32(3), svc.Digits("KWD"))
	assert.Equal(t, int32(2), svc.Digits(""), "empty code uses fallback")
	assert.Equal(t, int32(DefaultDigits), svc.Digits("ZZZ"))
}

func TestRoundAndIsZero(t *testing.T) {
	svc := NewService("EUR")

	require.True(t, svc.Round("EUR", decimal.RequireFromString("10.005")).Equal(decimal.RequireFromString("10.01")))
	require.True(t, svc.Round("JPY", decimal.RequireFromString("10.5")).Equal(decimal.NewFromInt(11)))

	assert.True(t, svc.IsZero("EUR", decimal.RequireFromString("0.004")))
	assert.False(t, svc.IsZero("EUR", decimal.RequireFromString("0.005")))
	assert.True(t, svc.IsZero("JPY", decimal.RequireFromString("0.4")))
}

func TestOverridesTakePrecedence(t *testing.T) {
	svc := NewService("EUR").WithDigits("eur", 4)

	assert.Equal(t, int32(4), svc.Digits("EUR"))
	assert.False(t, svc.IsZero("EUR", decimal.RequireFromString("0.0004").Add(decimal.RequireFromString("0.0001"))))
}
