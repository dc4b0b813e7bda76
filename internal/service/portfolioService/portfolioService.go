// Package portfolioService holds the valuation engine and the snapshot
// reconciler: everything needed to answer "what was total equity worth on any
// given day, in the settlement currency".
package portfolioService

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"portfolio-engine/config"
	"portfolio-engine/data/repository"
	"portfolio-engine/internal/fx"
	"portfolio-engine/internal/ledger"
	"portfolio-engine/internal/model"
	"portfolio-engine/utils"

	"github.com/shopspring/decimal"
)

type Repository interface {
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, accountID int64) (model.Account, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error

	GetAssets(ctx context.Context) ([]model.Asset, error)
	GetAssetBySymbol(ctx context.Context, symbol string) (model.Asset, error)
	InsertAsset(ctx context.Context, asset model.Asset) (int64, error)
	UpdateAssetTags(ctx context.Context, assetID int64, tags []string) error

	InsertTransaction(ctx context.Context, tx model.Transaction) (int64, error)
	GetTransaction(ctx context.Context, transactionID int64) (model.Transaction, error)
	DeleteTransaction(ctx context.Context, transactionID int64) error
	GetTransactionsOrdered(ctx context.Context) ([]model.Transaction, error)
	GetFirstTransactionDate(ctx context.Context) (time.Time, error)

	GetLatestPriceOnOrBefore(ctx context.Context, assetID int64, day time.Time) (model.PricePoint, error)

	SnapshotExists(ctx context.Context, day time.Time) (bool, error)
	GetSnapshotDays(ctx context.Context, from, to time.Time) (map[string]struct{}, error)
	GetSnapshots(ctx context.Context, from, to time.Time) ([]model.PortfolioSnapshot, error)
	InsertSnapshot(ctx context.Context, snapshot model.PortfolioSnapshot) error
	DeleteSnapshotsFrom(ctx context.Context, day time.Time) error
}

type PriceGateway interface {
	EnsurePrices(ctx context.Context, assets []model.Asset, from, to time.Time) (model.PriceMap, error)
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	ValidateSymbol(ctx context.Context, symbol string) (model.SymbolInfo, error)
}

// priceResolver turns an open position into a price and the source it came
// from. The live path resolves against the price cache table, the reconciler
// against a pre-fetched map.
type priceResolver func(asset model.Asset, pos ledger.Position) (decimal.Decimal, string)

type ReportGenerator interface {
	Generate(ctx context.Context, snapshots []model.PortfolioSnapshot) (fileBytes []byte, fileExtension string, err error)
}

type PortfolioService struct {
	cfg        *config.Config
	repo       Repository
	prices     PriceGateway
	normalizer *fx.Normalizer
	reports    ReportGenerator

	// Rebuild requests are coalesced to the earliest affected date and
	// drained by a single goroutine, so overlapping rebuilds never race
	// within one process.
	mu          sync.Mutex
	pendingFrom time.Time
	rebuildCh   chan struct{}
}

func New(cfg *config.Config, repo Repository, prices PriceGateway, normalizer *fx.Normalizer, reports ReportGenerator) *PortfolioService {
	return &PortfolioService{
		cfg:        cfg,
		repo:       repo,
		prices:     prices,
		normalizer: normalizer,
		reports:    reports,
		rebuildCh:  make(chan struct{}, 1),
	}
}

// HoldingsAt reconstructs the open positions as of end-of-day on the given
// date, each priced through the fallback chain (cached close for the day,
// live quote when the date is today, latest close on or before, then average
// cost).
func (s *PortfolioService) HoldingsAt(ctx context.Context, date time.Time) ([]model.Holding, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.HoldingsAt"

	slog.Debug("HoldingsAt start", slog.String("rqID", rqID), slog.String("op", op), slog.String("day", model.DayKey(date)))
	defer func() {
		slog.Debug("HoldingsAt finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	txs, err := s.repo.GetTransactionsOrdered(ctx)
	if err != nil {
		slog.Error("got error from repo.GetTransactionsOrdered", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	assetsByID, err := s.assetsByID(ctx)
	if err != nil {
		return nil, err
	}

	state := ledger.Replay(txs, ledger.EndOfDay(date))

	return s.holdingsFromState(ctx, state, assetsByID, s.dbResolver(ctx, date)), nil
}

// ValueAt computes the full valuation for end-of-day on the given date:
// total equity, cash, invested capital and the open holdings count, all in
// the settlement currency.
func (s *PortfolioService) ValueAt(ctx context.Context, date time.Time) (model.Valuation, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.ValueAt"

	slog.Debug("ValueAt start", slog.String("rqID", rqID), slog.String("op", op), slog.String("day", model.DayKey(date)))
	defer func() {
		slog.Debug("ValueAt finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	txs, err := s.repo.GetTransactionsOrdered(ctx)
	if err != nil {
		slog.Error("got error from repo.GetTransactionsOrdered", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Valuation{}, err
	}

	accounts, err := s.accountsByID(ctx)
	if err != nil {
		return model.Valuation{}, err
	}

	assetsByID, err := s.assetsByID(ctx)
	if err != nil {
		return model.Valuation{}, err
	}

	state := ledger.Replay(txs, ledger.EndOfDay(date))
	holdings := s.holdingsFromState(ctx, state, assetsByID, s.dbResolver(ctx, date))

	return s.valuationFromState(ctx, state, holdings, accounts, date), nil
}

// holdingsFromState prices every open position as of the given day using the
// persistent price cache; missing assets are logged and skipped rather than
// aborting the whole valuation.
func (s *PortfolioService) holdingsFromState(ctx context.Context, state ledger.State, assetsByID map[int64]model.Asset, resolve priceResolver) []model.Holding {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.holdingsFromState"

	positions := state.PositionsByAsset()
	holdings := make([]model.Holding, 0, len(positions))

	for assetID, pos := range positions {
		asset, ok := assetsByID[assetID]
		if !ok {
			slog.Warn("transaction references unknown asset", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("assetID", assetID))
			continue
		}

		price, source := resolve(asset, pos)

		marketValue := pos.Quantity.Mul(price)
		holdings = append(holdings, model.Holding{
			AssetID:        assetID,
			Symbol:         asset.Symbol,
			Name:           asset.Name,
			Currency:       asset.Currency,
			Quantity:       pos.Quantity,
			AvgCost:        pos.AvgCost(),
			CostBasis:      pos.CostBasis,
			CurrentPrice:   price,
			PriceSource:    source,
			MarketValue:    marketValue,
			MarketValueUSD: s.normalizer.ToBase(marketValue, asset.Currency),
		})
	}

	return holdings
}

// dbResolver is the fallback chain against the price cache table: exact
// close for the day, then - when valuing today, before any close has been
// cached - the live quote, then the latest close on or before the day, then
// average cost. It never fails: worst case the position is valued at its own
// cost.
func (s *PortfolioService) dbResolver(ctx context.Context, date time.Time) priceResolver {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.dbResolver"

	valuingToday := model.DayKey(date) == model.DayKey(time.Now())

	return func(asset model.Asset, pos ledger.Position) (decimal.Decimal, string) {
		row, err := s.repo.GetLatestPriceOnOrBefore(ctx, asset.AssetID, date)
		if err == nil && model.DayKey(row.Date) == model.DayKey(date) {
			return row.Price, model.PriceSourceHistory
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("got error from repo.GetLatestPriceOnOrBefore", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}

		if valuingToday {
			// CurrentPrice collapses failures to zero, never an error.
			if live, liveErr := s.prices.CurrentPrice(ctx, asset.Symbol); liveErr == nil && live.IsPositive() {
				return live, model.PriceSourceLive
			}
		}

		if err == nil {
			return row.Price, model.PriceSourceCarry
		}
		return pos.AvgCost(), model.PriceSourceCost
	}
}

// valuationFromState aggregates cash, market value and invested capital into
// the settlement currency. TotalInvested is net deposits (deposits minus
// withdrawals); the same definition serves the live and historical paths.
func (s *PortfolioService) valuationFromState(ctx context.Context, state ledger.State, holdings []model.Holding, accounts map[int64]model.Account, date time.Time) model.Valuation {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.valuationFromState"

	valuation := model.Valuation{
		Date:          model.Day(date),
		Currency:      s.normalizer.Base(),
		Holdings:      holdings,
		HoldingsCount: len(holdings),
	}

	accountCurrency := func(accountID int64) string {
		account, ok := accounts[accountID]
		if !ok {
			// Degraded result: value the orphaned cash as settlement
			// currency instead of dropping it.
			slog.Warn("transaction references unknown account", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
			return s.normalizer.Base()
		}
		return account.Currency
	}

	for accountID, cash := range state.Cash {
		valuation.TotalCash = valuation.TotalCash.Add(s.normalizer.ToBase(cash, accountCurrency(accountID)))
	}
	for accountID, deposits := range state.Deposits {
		valuation.TotalInvested = valuation.TotalInvested.Add(s.normalizer.ToBase(deposits, accountCurrency(accountID)))
	}
	for _, holding := range holdings {
		valuation.TotalMarketValue = valuation.TotalMarketValue.Add(holding.MarketValueUSD)
	}

	valuation.TotalEquity = valuation.TotalCash.Add(valuation.TotalMarketValue)

	return valuation
}

func (s *PortfolioService) accountsByID(ctx context.Context) (map[int64]model.Account, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	accounts, err := s.repo.GetAccounts(ctx)
	if err != nil {
		slog.Error("got error from repo.GetAccounts", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return nil, err
	}

	byID := make(map[int64]model.Account, len(accounts))
	for _, account := range accounts {
		byID[account.AccountID] = account
	}
	return byID, nil
}

func (s *PortfolioService) assetsByID(ctx context.Context) (map[int64]model.Asset, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	assets, err := s.repo.GetAssets(ctx)
	if err != nil {
		slog.Error("got error from repo.GetAssets", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return nil, err
	}

	byID := make(map[int64]model.Asset, len(assets))
	for _, asset := range assets {
		byID[asset.AssetID] = asset
	}
	return byID, nil
}
