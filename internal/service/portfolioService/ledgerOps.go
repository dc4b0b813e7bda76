package portfolioService

import (
	"context"
	"errors"
	"log/slog"

	"portfolio-engine/data/repository"
	"portfolio-engine/internal/externalApi"
	"portfolio-engine/internal/ledger"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/service"
	"portfolio-engine/utils"

	"github.com/shopspring/decimal"
)

// AddTransaction validates and appends one ledger entry, adjusts the cached
// account balance incrementally, and queues a snapshot rebuild from the entry
// date so history catches up in the background.
func (s *PortfolioService) AddTransaction(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.AddTransaction"

	slog.Debug("AddTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("type", string(tx.Type)))
	defer func() {
		slog.Debug("AddTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	account, err := s.repo.GetAccount(ctx, tx.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Transaction{}, service.ErrNotFound
		}
		slog.Error("got error from repo.GetAccount", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}

	if tx.Type == model.Buy || tx.Type == model.Sell {
		if tx.AssetID == 0 {
			return model.Transaction{}, service.ErrAssetRequired
		}
		if _, ok := s.assetByID(ctx, tx.AssetID); !ok {
			return model.Transaction{}, service.ErrNotFound
		}
	}

	// Every cash-debiting type is funds-checked, fees included: a FEE that
	// exceeds the balance is rejected the same way a withdrawal or buy is.
	effect := ledger.CashEffect(tx.Type)
	if effect < 0 && account.Balance.LessThan(tx.Total) {
		slog.Info(
			"transaction rejected, insufficient funds",
			slog.String("rqID", rqID),
			slog.String("op", op),
			slog.Int64("accountID", tx.AccountID),
			slog.String("balance", account.Balance.String()),
			slog.String("total", tx.Total.String()),
		)
		return model.Transaction{}, service.ErrInsufficientFunds
	}

	id, err := s.repo.InsertTransaction(ctx, tx)
	if err != nil {
		slog.Error("got error from repo.InsertTransaction", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}
	tx.TransactionID = id

	newBalance := account.Balance.Add(tx.Total.Mul(decimal.NewFromInt(int64(effect))))
	if err := s.repo.UpdateAccountBalance(ctx, tx.AccountID, newBalance); err != nil {
		// The ledger row is already in; the rebuild below re-derives the
		// balance, so log instead of failing the whole entry.
		slog.Error("got error from repo.UpdateAccountBalance", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	s.EnqueueRebuild(tx.Date)

	return tx, nil
}

// DeleteTransaction removes a ledger entry, reverses its balance delta and
// queues a rebuild from the entry's date.
func (s *PortfolioService) DeleteTransaction(ctx context.Context, transactionID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.DeleteTransaction"

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		slog.Debug("DeleteTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		slog.Error("got error from repo.GetTransaction", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	if err := s.repo.DeleteTransaction(ctx, transactionID); err != nil {
		slog.Error("got error from repo.DeleteTransaction", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	account, err := s.repo.GetAccount(ctx, tx.AccountID)
	if err == nil {
		effect := ledger.CashEffect(tx.Type)
		reversed := account.Balance.Sub(tx.Total.Mul(decimal.NewFromInt(int64(effect))))
		if err := s.repo.UpdateAccountBalance(ctx, tx.AccountID, reversed); err != nil {
			slog.Error("got error from repo.UpdateAccountBalance", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}

	s.EnqueueRebuild(tx.Date)

	return nil
}

// RegisterAsset validates a symbol against the quote provider and stores it
// with its native currency. Registering an already-known symbol returns the
// existing asset.
func (s *PortfolioService) RegisterAsset(ctx context.Context, symbol string) (model.Asset, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.RegisterAsset"

	slog.Debug("RegisterAsset start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	defer func() {
		slog.Debug("RegisterAsset finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if existing, err := s.repo.GetAssetBySymbol(ctx, symbol); err == nil {
		return existing, nil
	}

	info, err := s.prices.ValidateSymbol(ctx, symbol)
	if err != nil {
		if errors.Is(err, service.ErrUnknownSymbol) || errors.Is(err, externalApi.ErrNotFound) {
			return model.Asset{}, service.ErrUnknownSymbol
		}
		slog.Error("got error from prices.ValidateSymbol", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Asset{}, err
	}

	asset := model.Asset{
		Symbol:   info.Symbol,
		Name:     info.Name,
		Currency: info.Currency,
	}

	id, err := s.repo.InsertAsset(ctx, asset)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return s.repo.GetAssetBySymbol(ctx, symbol)
		}
		slog.Error("got error from repo.InsertAsset", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Asset{}, err
	}
	asset.AssetID = id

	return asset, nil
}

// TagAsset replaces the tag set of a registered asset. Tags are free-form
// labels (sector, strategy, whatever the owner groups by) and play no role in
// valuation.
func (s *PortfolioService) TagAsset(ctx context.Context, symbol string, tags []string) (model.Asset, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.TagAsset"

	slog.Debug("TagAsset start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	defer func() {
		slog.Debug("TagAsset finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	asset, err := s.repo.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Asset{}, service.ErrNotFound
		}
		slog.Error("got error from repo.GetAssetBySymbol", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Asset{}, err
	}

	if err := s.repo.UpdateAssetTags(ctx, asset.AssetID, tags); err != nil {
		slog.Error("got error from repo.UpdateAssetTags", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Asset{}, err
	}
	asset.Tags = tags

	return asset, nil
}

func (s *PortfolioService) assetByID(ctx context.Context, assetID int64) (model.Asset, bool) {
	byID, err := s.assetsByID(ctx)
	if err != nil {
		return model.Asset{}, false
	}
	asset, ok := byID[assetID]
	return asset, ok
}
