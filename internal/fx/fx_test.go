package fx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testRates = map[string]float64{
	"USD": 1,
	"HKD": 7.8,
	"MOP": 8.03,
	"CNY": 7.2,
}

func TestConvert_ToBase(t *testing.T) {
	n := New("USD", testRates)

	got := n.ToBase(decimal.NewFromInt(780), "HKD")
	assert.True(t, got.Equal(decimal.NewFromInt(100)), "780 HKD = 100 USD, got %s", got)
}

func TestConvert_CrossCurrency(t *testing.T) {
	n := New("USD", testRates)

	// 780 HKD -> 100 USD -> 720 CNY
	got := n.Convert(decimal.NewFromInt(780), "HKD", "CNY")
	assert.True(t, got.Equal(decimal.NewFromInt(720)), "got %s", got)
}

func TestConvert_SameCurrencyUntouched(t *testing.T) {
	n := New("USD", testRates)

	amount := decimal.RequireFromString("123.456789")
	assert.True(t, n.Convert(amount, "HKD", "HKD").Equal(amount))
}

func TestConvert_RoundTripStable(t *testing.T) {
	n := New("USD", testRates)

	amount := decimal.NewFromInt(1000)
	back := n.Convert(n.Convert(amount, "USD", "MOP"), "MOP", "USD")
	assert.True(t, back.Sub(amount).Abs().LessThan(decimal.NewFromFloat(1e-10)), "got %s", back)
}

func TestRate_UnknownCurrencyFallsBackToOne(t *testing.T) {
	n := New("USD", testRates)

	assert.True(t, n.Rate("XXX").Equal(decimal.NewFromInt(1)))

	amount := decimal.NewFromInt(55)
	assert.True(t, n.ToBase(amount, "XXX").Equal(amount), "unknown currency is treated as base")
}

func TestBase(t *testing.T) {
	assert.Equal(t, "USD", New("USD", testRates).Base())
}
