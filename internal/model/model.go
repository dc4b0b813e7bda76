package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayFormat is the canonical key for anything indexed by calendar day.
const DayFormat = "2006-01-02"

// DayKey normalizes a timestamp to its calendar-day key in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// Day truncates a timestamp to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type TransactionType string

const (
	Deposit  TransactionType = "DEPOSIT"
	Withdraw TransactionType = "WITHDRAW"
	Buy      TransactionType = "BUY"
	Sell     TransactionType = "SELL"
	Interest TransactionType = "INTEREST"
	Dividend TransactionType = "DIVIDEND"
	Fee      TransactionType = "FEE"
)

type Account struct {
	AccountID int64
	Name      string
	Type      string
	Currency  string
	Balance   decimal.Decimal
}

type Asset struct {
	AssetID  int64
	Symbol   string
	Name     string
	Currency string
	Tags     []string
}

// Transaction is one immutable ledger entry. Total is always expressed in the
// owning account's currency; conversion from the traded asset's currency
// happens at entry time, never at replay time. AssetID is 0 for cash-only
// entries.
type Transaction struct {
	TransactionID int64
	Date          time.Time
	Type          TransactionType
	AccountID     int64
	AssetID       int64
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	Total         decimal.Decimal
	Notes         string
}

// PricePoint is one cached close: at most one row per (asset, day).
type PricePoint struct {
	AssetID int64
	Symbol  string
	Date    time.Time
	Price   decimal.Decimal
}

// PriceMap indexes closes by day key, then symbol.
type PriceMap map[string]map[string]decimal.Decimal

func (m PriceMap) Get(day time.Time, symbol string) (decimal.Decimal, bool) {
	prices, ok := m[DayKey(day)]
	if !ok {
		return decimal.Decimal{}, false
	}
	p, ok := prices[symbol]
	return p, ok
}

func (m PriceMap) Set(dayKey, symbol string, price decimal.Decimal) {
	prices, ok := m[dayKey]
	if !ok {
		prices = make(map[string]decimal.Decimal)
		m[dayKey] = prices
	}
	prices[symbol] = price
}

// Price resolution sources, most to least trustworthy.
const (
	PriceSourceHistory = "history" // cached close for the exact day
	PriceSourceLive    = "live"    // live quote, only when valuing today
	PriceSourceCarry   = "carry"   // latest close on or before the day
	PriceSourceCost    = "cost"    // position average cost, last resort
)

type Holding struct {
	AssetID        int64
	Symbol         string
	Name           string
	Currency       string
	Quantity       decimal.Decimal
	AvgCost        decimal.Decimal
	CostBasis      decimal.Decimal
	CurrentPrice   decimal.Decimal
	PriceSource    string
	MarketValue    decimal.Decimal // in the asset's native currency
	MarketValueUSD decimal.Decimal // converted to the settlement currency
}

type Valuation struct {
	Date             time.Time
	TotalEquity      decimal.Decimal
	TotalCash        decimal.Decimal
	TotalInvested    decimal.Decimal
	TotalMarketValue decimal.Decimal
	HoldingsCount    int
	Currency         string
	Holdings         []Holding
}

// PortfolioSnapshot is a derived, disposable record: at most one per calendar
// day, fully reconstructible from the ledger plus the price cache.
type PortfolioSnapshot struct {
	Date          time.Time
	TotalEquity   decimal.Decimal
	TotalCash     decimal.Decimal
	TotalInvested decimal.Decimal
	HoldingsCount int
	Currency      string
}

type SymbolInfo struct {
	Symbol   string
	Name     string
	Currency string
	Valid    bool
}
