package dbConverter

import (
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/model/dbModel"

	"github.com/shopspring/decimal"
)

func ConvertAccount(a dbModel.Account) model.Account {
	return model.Account{
		AccountID: a.AccountID,
		Name:      a.Name,
		Type:      a.Type,
		Currency:  a.Currency,
		Balance:   a.Balance,
	}
}

func ConvertAsset(a dbModel.Asset) model.Asset {
	return model.Asset{
		AssetID:  a.AssetID,
		Symbol:   a.Symbol,
		Name:     a.Name.String,
		Currency: a.Currency,
		Tags:     []string(a.Tags),
	}
}

func ConvertTransaction(t dbModel.Transaction) model.Transaction {
	tx := model.Transaction{
		TransactionID: t.TransactionID,
		Date:          t.Date,
		Type:          model.TransactionType(t.Type),
		AccountID:     t.AccountID,
		Total:         t.Total,
		Notes:         t.Notes.String,
	}
	if t.AssetID.Valid {
		tx.AssetID = t.AssetID.Int64
	}
	tx.Quantity = nullDecimal(t.Quantity)
	tx.Price = nullDecimal(t.Price)
	tx.Fee = nullDecimal(t.Fee)
	return tx
}

func ConvertPricePoint(p dbModel.PricePoint) model.PricePoint {
	return model.PricePoint{
		AssetID: p.AssetID,
		Symbol:  p.Symbol,
		Date:    model.Day(p.Date),
		Price:   p.Price,
	}
}

func ConvertSnapshot(s dbModel.PortfolioSnapshot) model.PortfolioSnapshot {
	return model.PortfolioSnapshot{
		Date:          model.Day(s.Date),
		TotalEquity:   s.TotalEquity,
		TotalCash:     s.TotalCash,
		TotalInvested: s.TotalInvested,
		HoldingsCount: s.HoldingsCount,
		Currency:      s.Currency,
	}
}

func nullDecimal(d decimal.NullDecimal) decimal.Decimal {
	if d.Valid {
		return d.Decimal
	}
	return decimal.Decimal{}
}
