// Package ledger deterministically reconstructs holdings and cash balances by
// replaying the transaction ledger in date order up to a cutoff. It is a pure
// package: no I/O, no clocks, just ledger in, state out.
package ledger

import (
	"time"

	"portfolio-engine/internal/model"

	"github.com/shopspring/decimal"
)

// closeEpsilon: positions at or below this quantity count as fully closed.
var closeEpsilon = decimal.NewFromFloat(1e-4)

type PositionKey struct {
	AccountID int64
	AssetID   int64
}

// Position carries the weighted-average bookkeeping for one (account, asset)
// pair: CostBasis always reflects the average cost of what remains.
type Position struct {
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
}

// AvgCost is CostBasis per unit. Zero when the position holds nothing.
func (p Position) AvgCost() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Decimal{}
	}
	return p.CostBasis.Div(p.Quantity)
}

// Open reports whether the position is still materially open.
func (p Position) Open() bool {
	return p.Quantity.GreaterThan(closeEpsilon)
}

type State struct {
	Holdings map[PositionKey]Position
	Cash     map[int64]decimal.Decimal // account -> balance in account currency
	Deposits map[int64]decimal.Decimal // account -> net deposits (DEPOSIT - WITHDRAW)
}

func NewState() State {
	return State{
		Holdings: make(map[PositionKey]Position),
		Cash:     make(map[int64]decimal.Decimal),
		Deposits: make(map[int64]decimal.Decimal),
	}
}

// CashEffect is the single definition of how each transaction type moves the
// account balance: +1 credits cash, -1 debits it. Both the live entry path
// and historical replay go through this function, so the two can never
// disagree on what a FEE or a DIVIDEND does.
func CashEffect(t model.TransactionType) int {
	switch t {
	case model.Deposit, model.Sell, model.Interest, model.Dividend:
		return 1
	case model.Withdraw, model.Buy, model.Fee:
		return -1
	default:
		return 0
	}
}

// EndOfDay returns the inclusive replay cutoff for a calendar day: 23:59:59
// UTC. The convention is fixed here and used by every caller.
func EndOfDay(t time.Time) time.Time {
	d := model.Day(t)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC)
}

// Apply folds one transaction into the state.
func (s State) Apply(tx model.Transaction) {
	switch CashEffect(tx.Type) {
	case 1:
		s.Cash[tx.AccountID] = s.Cash[tx.AccountID].Add(tx.Total)
	case -1:
		s.Cash[tx.AccountID] = s.Cash[tx.AccountID].Sub(tx.Total)
	}

	switch tx.Type {
	case model.Deposit:
		s.Deposits[tx.AccountID] = s.Deposits[tx.AccountID].Add(tx.Total)
	case model.Withdraw:
		s.Deposits[tx.AccountID] = s.Deposits[tx.AccountID].Sub(tx.Total)
	case model.Buy:
		if tx.AssetID == 0 {
			return
		}
		key := PositionKey{AccountID: tx.AccountID, AssetID: tx.AssetID}
		pos := s.Holdings[key]
		pos.Quantity = pos.Quantity.Add(tx.Quantity)
		pos.CostBasis = pos.CostBasis.Add(tx.Total)
		s.Holdings[key] = pos
	case model.Sell:
		if tx.AssetID == 0 {
			return
		}
		key := PositionKey{AccountID: tx.AccountID, AssetID: tx.AssetID}
		pos := s.Holdings[key]
		if pos.Quantity.IsPositive() {
			// Reduce cost basis at the weighted-average cost computed
			// immediately before the sale.
			pos.CostBasis = pos.CostBasis.Sub(pos.AvgCost().Mul(tx.Quantity))
		}
		// Quantity may go negative here: that is a ledger inconsistency to
		// surface upstream, not something to clamp silently.
		pos.Quantity = pos.Quantity.Sub(tx.Quantity)
		s.Holdings[key] = pos
	}
}

// Replay processes transactions in ledger order through the cutoff instant
// (inclusive). Same-day entries keep their insertion order; the caller is
// expected to pass the ledger sorted by (date, transaction id).
func Replay(txs []model.Transaction, cutoff time.Time) State {
	state := NewState()
	for _, tx := range txs {
		if tx.Date.After(cutoff) {
			break
		}
		state.Apply(tx)
	}
	return state
}

// OpenPositions filters out near-zero and negative quantities.
func (s State) OpenPositions() map[PositionKey]Position {
	open := make(map[PositionKey]Position, len(s.Holdings))
	for key, pos := range s.Holdings {
		if pos.Open() {
			open[key] = pos
		}
	}
	return open
}

// PositionsByAsset aggregates open positions across accounts, the shape the
// valuation layer prices.
func (s State) PositionsByAsset() map[int64]Position {
	byAsset := make(map[int64]Position)
	for key, pos := range s.OpenPositions() {
		agg := byAsset[key.AssetID]
		agg.Quantity = agg.Quantity.Add(pos.Quantity)
		agg.CostBasis = agg.CostBasis.Add(pos.CostBasis)
		byAsset[key.AssetID] = agg
	}
	return byAsset
}
