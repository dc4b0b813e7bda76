package ledger

import (
	"testing"
	"time"

	"portfolio-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(model.DayFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tx(id int64, dt time.Time, typ model.TransactionType, accountID, assetID int64, qty, total string) model.Transaction {
	return model.Transaction{
		TransactionID: id,
		Date:          dt,
		Type:          typ,
		AccountID:     accountID,
		AssetID:       assetID,
		Quantity:      dec(qty),
		Total:         dec(total),
	}
}

// Deposit 10000, buy 10 @ 150 then 5 @ 200, sell 3: the remaining 12 shares
// keep the weighted-average cost of 166.67 (2500/15 per share basis removed
// at sale).
func TestReplay_WeightedAverageCost(t *testing.T) {
	txs := []model.Transaction{
		tx(1, day("2024-01-01"), model.Deposit, 1, 0, "0", "10000"),
		tx(2, day("2024-01-02"), model.Buy, 1, 7, "10", "1500"),
		tx(3, day("2024-01-03"), model.Buy, 1, 7, "5", "1000"),
		tx(4, day("2024-01-04"), model.Sell, 1, 7, "3", "540"),
	}

	state := Replay(txs, EndOfDay(day("2024-01-04")))

	pos := state.Holdings[PositionKey{AccountID: 1, AssetID: 7}]
	assert.True(t, pos.Quantity.Equal(dec("12")), "quantity = %s", pos.Quantity)

	// avg cost before the sale: 2500 / 15
	wantBasis := dec("2500").Sub(dec("2500").Div(dec("15")).Mul(dec("3")))
	assert.True(t, pos.CostBasis.Equal(wantBasis), "cost basis = %s, want %s", pos.CostBasis, wantBasis)
	assert.True(t, pos.AvgCost().Sub(dec("166.6666666666666667")).Abs().LessThan(dec("0.0001")))

	// cash: 10000 - 1500 - 1000 + 540
	assert.True(t, state.Cash[1].Equal(dec("8040")), "cash = %s", state.Cash[1])
}

func TestReplay_CutoffIsEndOfDayInclusive(t *testing.T) {
	lateSameDay := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	nextDay := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	txs := []model.Transaction{
		tx(1, lateSameDay, model.Deposit, 1, 0, "0", "100"),
		tx(2, nextDay, model.Deposit, 1, 0, "0", "50"),
	}

	state := Replay(txs, EndOfDay(day("2024-03-10")))

	assert.True(t, state.Cash[1].Equal(dec("100")), "next-day entry must be excluded")
}

func TestReplay_SameDayKeepsInsertionOrder(t *testing.T) {
	d := day("2024-05-01")

	// Buy before deposit on the same day: cash dips negative mid-day and
	// the deposit restores it. End state depends only on the total order.
	txs := []model.Transaction{
		tx(1, d, model.Buy, 1, 3, "2", "300"),
		tx(2, d, model.Deposit, 1, 0, "0", "1000"),
	}

	state := Replay(txs, EndOfDay(d))

	assert.True(t, state.Cash[1].Equal(dec("700")))
	assert.True(t, state.Holdings[PositionKey{AccountID: 1, AssetID: 3}].Quantity.Equal(dec("2")))
}

func TestCashEffect_AllTypes(t *testing.T) {
	credits := []model.TransactionType{model.Deposit, model.Sell, model.Interest, model.Dividend}
	debits := []model.TransactionType{model.Withdraw, model.Buy, model.Fee}

	for _, typ := range credits {
		assert.Equal(t, 1, CashEffect(typ), string(typ))
	}
	for _, typ := range debits {
		assert.Equal(t, -1, CashEffect(typ), string(typ))
	}
	assert.Equal(t, 0, CashEffect(model.TransactionType("UNKNOWN")))
}

func TestApply_CashOnlyTypesTouchNoHoldings(t *testing.T) {
	state := NewState()

	state.Apply(tx(1, day("2024-01-01"), model.Deposit, 1, 0, "0", "500"))
	state.Apply(tx(2, day("2024-01-02"), model.Interest, 1, 0, "0", "5"))
	state.Apply(tx(3, day("2024-01-03"), model.Dividend, 1, 0, "0", "12"))
	state.Apply(tx(4, day("2024-01-04"), model.Fee, 1, 0, "0", "2"))
	state.Apply(tx(5, day("2024-01-05"), model.Withdraw, 1, 0, "0", "100"))

	assert.Empty(t, state.Holdings)
	assert.True(t, state.Cash[1].Equal(dec("415")), "cash = %s", state.Cash[1])
	assert.True(t, state.Deposits[1].Equal(dec("400")), "net deposits = %s", state.Deposits[1])
}

// Selling from an empty position must not panic and must leave the negative
// quantity visible rather than clamping it.
func TestApply_OversellGoesNegativeWithoutPanic(t *testing.T) {
	state := NewState()

	require.NotPanics(t, func() {
		state.Apply(tx(1, day("2024-01-01"), model.Sell, 1, 3, "5", "500"))
	})

	pos := state.Holdings[PositionKey{AccountID: 1, AssetID: 3}]
	assert.True(t, pos.Quantity.Equal(dec("-5")))
	assert.True(t, pos.CostBasis.IsZero(), "no basis to reduce on an empty position")

	_, open := state.OpenPositions()[PositionKey{AccountID: 1, AssetID: 3}]
	assert.False(t, open, "negative positions are not open")
}

func TestOpenPositions_NearZeroQuantityIsClosed(t *testing.T) {
	state := NewState()
	state.Apply(tx(1, day("2024-01-01"), model.Buy, 1, 3, "1", "100"))
	state.Apply(tx(2, day("2024-01-02"), model.Sell, 1, 3, "0.99995", "99.995"))

	assert.Empty(t, state.OpenPositions(), "residual 5e-5 counts as closed")
}

func TestPositionsByAsset_AggregatesAcrossAccounts(t *testing.T) {
	state := NewState()
	state.Apply(tx(1, day("2024-01-01"), model.Buy, 1, 3, "10", "1000"))
	state.Apply(tx(2, day("2024-01-01"), model.Buy, 2, 3, "5", "600"))

	byAsset := state.PositionsByAsset()
	require.Len(t, byAsset, 1)
	assert.True(t, byAsset[3].Quantity.Equal(dec("15")))
	assert.True(t, byAsset[3].CostBasis.Equal(dec("1600")))
}

func TestAvgCost_ZeroQuantityIsZero(t *testing.T) {
	var pos Position
	assert.True(t, pos.AvgCost().IsZero())
}

func TestEndOfDay(t *testing.T) {
	got := EndOfDay(time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC), got)
}
