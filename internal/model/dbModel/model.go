package dbModel

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Account struct {
	AccountID int64           `db:"account_id"`
	Name      string          `db:"name"`
	Type      string          `db:"type"`
	Currency  string          `db:"currency"`
	Balance   decimal.Decimal `db:"balance"`
	CreatedAt time.Time       `db:"dt_create"`
	UpdatedAt time.Time       `db:"dt_update"`
}

type Asset struct {
	AssetID   int64          `db:"asset_id"`
	Symbol    string         `db:"symbol"`
	Name      sql.NullString `db:"name"`
	Currency  string         `db:"currency"`
	Tags      pq.StringArray `db:"tags"`
	CreatedAt time.Time      `db:"dt_create"`
}

type Transaction struct {
	TransactionID int64               `db:"transaction_id"`
	Date          time.Time           `db:"dt"`
	Type          string              `db:"type"`
	AccountID     int64               `db:"account_id"`
	AssetID       sql.NullInt64       `db:"asset_id"`
	Quantity      decimal.NullDecimal `db:"quantity"`
	Price         decimal.NullDecimal `db:"price"`
	Fee           decimal.NullDecimal `db:"fee"`
	Total         decimal.Decimal     `db:"total"`
	Notes         sql.NullString      `db:"notes"`
	CreatedAt     time.Time           `db:"dt_create"`
}

type PricePoint struct {
	AssetID int64           `db:"asset_id"`
	Symbol  string          `db:"symbol"`
	Date    time.Time       `db:"price_date"`
	Price   decimal.Decimal `db:"price"`
}

type PortfolioSnapshot struct {
	Date          time.Time       `db:"snapshot_date"`
	TotalEquity   decimal.Decimal `db:"total_equity"`
	TotalCash     decimal.Decimal `db:"total_cash"`
	TotalInvested decimal.Decimal `db:"total_invested"`
	HoldingsCount int             `db:"holdings_count"`
	Currency      string          `db:"currency"`
}
