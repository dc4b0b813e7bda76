// Package fx converts monetary amounts between currencies through a static
// rate table expressed relative to one base currency.
package fx

import (
	"github.com/shopspring/decimal"
)

type Normalizer struct {
	base  string
	rates map[string]decimal.Decimal
}

// New builds a Normalizer from a rate table. The table is injected rather
// than read from a package-level variable so tests can pin their own rates.
func New(base string, rates map[string]float64) *Normalizer {
	n := &Normalizer{
		base:  base,
		rates: make(map[string]decimal.Decimal, len(rates)),
	}
	for currency, rate := range rates {
		n.rates[currency] = decimal.NewFromFloat(rate)
	}
	return n
}

func (n *Normalizer) Base() string {
	return n.base
}

// Rate returns units of currency per one unit of base. Unknown currencies
// resolve to 1.0, i.e. they are treated as already being in the base
// currency. That is a deliberate fallback: valuation must always produce a
// number, and an unregistered currency is a data problem to fix upstream.
func (n *Normalizer) Rate(currency string) decimal.Decimal {
	if rate, ok := n.rates[currency]; ok && !rate.IsZero() {
		return rate
	}
	return decimal.NewFromInt(1)
}

// Convert moves amount from one currency to another: amount / rate(from) * rate(to).
func (n *Normalizer) Convert(amount decimal.Decimal, from, to string) decimal.Decimal {
	if from == to {
		return amount
	}
	return amount.Div(n.Rate(from)).Mul(n.Rate(to))
}

// ToBase converts amount into the base (settlement) currency.
func (n *Normalizer) ToBase(amount decimal.Decimal, from string) decimal.Decimal {
	return n.Convert(amount, from, n.base)
}
