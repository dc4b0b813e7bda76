// Package priceService is the gateway in front of the market data provider:
// it keeps the persistent price-history cache warm, fetches only what is
// missing, and degrades to cached data when the provider is down.
package priceService

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"portfolio-engine/config"
	"portfolio-engine/internal/externalApi"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/service"
	"portfolio-engine/utils"

	"github.com/shopspring/decimal"
)

type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	DailyHistory(ctx context.Context, symbols []string, from, to time.Time) (model.PriceMap, error)
	Validate(ctx context.Context, symbol string) (model.SymbolInfo, error)
}

type Repository interface {
	GetPriceRows(ctx context.Context, assetIDs []int64, from, to time.Time) ([]model.PricePoint, error)
	UpsertPriceRows(ctx context.Context, points []model.PricePoint) error
}

type Cache interface {
	GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetQuote(ctx context.Context, symbol string, price decimal.Decimal) error
}

type PriceService struct {
	cfg      *config.Config
	repo     Repository
	cache    Cache
	provider Provider
}

func New(cfg *config.Config, repo Repository, cache Cache, provider Provider) *PriceService {
	return &PriceService{
		cfg:      cfg,
		repo:     repo,
		cache:    cache,
		provider: provider,
	}
}

// EnsurePrices guarantees the price cache materially covers [from, to] for
// the given assets and returns the merged, forward-filled map. Per-symbol
// coverage below rangeDays*CoverageRatio triggers a re-fetch; the provider is
// called once for the whole stale batch. Provider failures are logged and
// swallowed: callers get whatever the cache holds and fall back to average
// cost for the rest.
func (s *PriceService) EnsurePrices(ctx context.Context, assets []model.Asset, from, to time.Time) (model.PriceMap, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.EnsurePrices"

	slog.Debug(
		"EnsurePrices start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Int("assets", len(assets)),
		slog.String("from", model.DayKey(from)),
		slog.String("to", model.DayKey(to)),
	)
	defer func() {
		slog.Debug("EnsurePrices finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if len(assets) == 0 {
		return model.PriceMap{}, nil
	}

	days := daysBetween(from, to)

	assetIDs := make([]int64, 0, len(assets))
	symbolByID := make(map[int64]string, len(assets))
	for _, asset := range assets {
		assetIDs = append(assetIDs, asset.AssetID)
		symbolByID[asset.AssetID] = asset.Symbol
	}

	cached, err := s.repo.GetPriceRows(ctx, assetIDs, from, to)
	if err != nil {
		slog.Error("got error from repo.GetPriceRows", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	merged := make(model.PriceMap, len(days))
	coveredDays := make(map[string]int, len(assets))
	for _, row := range cached {
		merged.Set(model.DayKey(row.Date), row.Symbol, row.Price)
		coveredDays[row.Symbol]++
	}

	// Expected trading-day count: calendar days scaled down for weekends and
	// holidays. Symbols already at or above it are skipped, which means a
	// "mostly covered" symbol may keep a few stale holes until the next wide
	// rebuild touches it. The compare stays in float: truncating first would
	// make everything count as covered on short ranges (a 1-day range must
	// still fetch a symbol with zero cached days).
	expected := float64(len(days)) * s.cfg.Pricing.CoverageRatio

	var stale []string
	for _, asset := range assets {
		if float64(coveredDays[asset.Symbol]) < expected {
			stale = append(stale, asset.Symbol)
		}
	}

	if len(stale) > 0 {
		fetched, err := s.provider.DailyHistory(ctx, stale, from, to)
		if err != nil {
			// Never propagate provider failures: valuation degrades to
			// cached prices and cost fallbacks instead of failing outright.
			slog.Error("got error from provider.DailyHistory", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			fetched = nil
		}

		for day, prices := range fetched {
			for symbol, price := range prices {
				merged.Set(day, symbol, price)
			}
		}

		s.forwardFill(merged, stale, days)

		if err := s.persist(ctx, merged, stale, assets, days); err != nil {
			slog.Error("got error persisting fetched prices", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}

	// Covered symbols still get their in-memory gaps carried forward so the
	// day loop downstream sees an explicit value wherever one is derivable.
	s.forwardFill(merged, allSymbols(assets), days)

	return merged, nil
}

// forwardFill carries the most recent close over weekend and holiday gaps.
// Days before a symbol's first close stay absent: no data is represented as
// no entry, never as a fabricated default.
func (s *PriceService) forwardFill(prices model.PriceMap, symbols []string, days []string) {
	last := make(map[string]decimal.Decimal, len(symbols))
	for _, day := range days {
		for _, symbol := range symbols {
			if price, ok := prices[day][symbol]; ok {
				last[symbol] = price
				continue
			}
			if price, ok := last[symbol]; ok {
				prices.Set(day, symbol, price)
			}
		}
	}
}

func (s *PriceService) persist(ctx context.Context, merged model.PriceMap, stale []string, assets []model.Asset, days []string) error {
	idBySymbol := make(map[string]int64, len(assets))
	for _, asset := range assets {
		idBySymbol[asset.Symbol] = asset.AssetID
	}

	staleSet := make(map[string]struct{}, len(stale))
	for _, symbol := range stale {
		staleSet[symbol] = struct{}{}
	}

	var points []model.PricePoint
	for _, day := range days {
		date, err := time.Parse(model.DayFormat, day)
		if err != nil {
			return err
		}
		for symbol, price := range merged[day] {
			if _, ok := staleSet[symbol]; !ok {
				continue
			}
			points = append(points, model.PricePoint{
				AssetID: idBySymbol[symbol],
				Symbol:  symbol,
				Date:    date,
				Price:   price,
			})
		}
	}

	return s.repo.UpsertPriceRows(ctx, points)
}

// CurrentPrice resolves a live quote through the redis cache, then the
// provider. Failures collapse to zero: the caller applies its own last-resort
// fallback.
func (s *PriceService) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.CurrentPrice"

	slog.Debug("CurrentPrice start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	defer func() {
		slog.Debug("CurrentPrice finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	}()

	price, err := s.cache.GetQuote(ctx, symbol)
	if err == nil {
		return price, nil
	}

	price, err = s.provider.CurrentPrice(ctx, symbol)
	if err != nil {
		slog.Warn("can't get current price from provider", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol), slog.String("err", err.Error()))
		return decimal.Decimal{}, nil
	}

	go s.cache.SetQuote(context.WithoutCancel(ctx), symbol, price)

	return price, nil
}

func (s *PriceService) ValidateSymbol(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.ValidateSymbol"

	slog.Debug("ValidateSymbol start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	defer func() {
		slog.Debug("ValidateSymbol finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	}()

	info, err := s.provider.Validate(ctx, symbol)
	if err != nil {
		if errors.Is(err, externalApi.ErrNotFound) {
			return model.SymbolInfo{Symbol: symbol}, service.ErrUnknownSymbol
		}
		slog.Error("got error from provider.Validate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.SymbolInfo{}, err
	}

	return info, nil
}

func daysBetween(from, to time.Time) []string {
	var days []string
	for day := model.Day(from); !day.After(model.Day(to)); day = day.AddDate(0, 0, 1) {
		days = append(days, model.DayKey(day))
	}
	return days
}

func allSymbols(assets []model.Asset) []string {
	symbols := make([]string, 0, len(assets))
	for _, asset := range assets {
		symbols = append(symbols, asset.Symbol)
	}
	return symbols
}
