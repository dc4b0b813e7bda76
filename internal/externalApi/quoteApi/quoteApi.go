package quoteApi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"portfolio-engine/config"
	"portfolio-engine/internal/externalApi"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/model/quoteModel"
	"portfolio-engine/utils"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// QuoteApi talks to a Yahoo-style chart API. History calls are best-effort:
// a symbol that fails is skipped and the rest of the batch still comes back.
type QuoteApi struct {
	client *resty.Client
}

func New(cfg *config.Config) *QuoteApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.QuoteApi.Url)
	return &QuoteApi{client: client}
}

func (a *QuoteApi) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	slog.Debug("start QuoteApi.CurrentPrice request", slog.String("rqID", rqID), slog.String("symbol", symbol))

	result, err := a.fetchChart(ctx, symbol, map[string]string{
		"range":    "1d",
		"interval": "1d",
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	if result.Meta.RegularMarketPrice > 0 {
		return decimal.NewFromFloat(result.Meta.RegularMarketPrice), nil
	}

	// Fall back to the last close in the chart series.
	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		if close := chartClose(result, i); close != nil {
			return decimal.NewFromFloat(*close), nil
		}
	}

	slog.Warn("QuoteApi.CurrentPrice got no usable price", slog.String("rqID", rqID), slog.String("symbol", symbol))
	return decimal.Decimal{}, externalApi.ErrEmptyResult
}

// DailyHistory downloads daily closes for every symbol across [from, to] and
// merges them into one day-indexed map. Partial failures produce partial
// results, never an error for the whole batch.
func (a *QuoteApi) DailyHistory(ctx context.Context, symbols []string, from, to time.Time) (model.PriceMap, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	slog.Debug(
		"start QuoteApi.DailyHistory request",
		slog.String("rqID", rqID),
		slog.Any("symbols", symbols),
		slog.String("from", model.DayKey(from)),
		slog.String("to", model.DayKey(to)),
	)

	params := map[string]string{
		"interval": "1d",
		"period1":  fmt.Sprintf("%d", model.Day(from).Unix()),
		"period2":  fmt.Sprintf("%d", model.Day(to).AddDate(0, 0, 1).Unix()),
	}

	prices := make(model.PriceMap)
	for _, symbol := range symbols {
		result, err := a.fetchChart(ctx, symbol, params)
		if err != nil {
			slog.Warn(
				"QuoteApi.DailyHistory skipping symbol",
				slog.String("rqID", rqID),
				slog.String("symbol", symbol),
				slog.String("err", err.Error()),
			)
			continue
		}

		for i, ts := range result.Timestamp {
			close := chartClose(result, i)
			if close == nil {
				continue
			}
			day := model.DayKey(time.Unix(ts, 0))
			prices.Set(day, symbol, decimal.NewFromFloat(*close))
		}
	}

	slog.Debug("QuoteApi.DailyHistory request complete", slog.String("rqID", rqID), slog.Int("days", len(prices)))

	return prices, nil
}

func (a *QuoteApi) Validate(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	slog.Debug("start QuoteApi.Validate request", slog.String("rqID", rqID), slog.String("symbol", symbol))

	result, err := a.fetchChart(ctx, symbol, map[string]string{
		"range":    "1d",
		"interval": "1d",
	})
	if err != nil {
		return model.SymbolInfo{}, err
	}

	return model.SymbolInfo{
		Symbol:   symbol,
		Name:     result.Meta.ShortName,
		Currency: result.Meta.Currency,
		Valid:    true,
	}, nil
}

func (a *QuoteApi) fetchChart(ctx context.Context, symbol string, params map[string]string) (quoteModel.RawChartResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	url := fmt.Sprintf("/v8/finance/chart/%s", symbol)

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(url)

	if err != nil {
		slog.Error("error while dialing QuoteApi", slog.String("err", err.Error()), slog.String("rqID", rqID), slog.String("symbol", symbol))
		return quoteModel.RawChartResult{}, err
	}

	if resp.StatusCode() == 404 {
		return quoteModel.RawChartResult{}, externalApi.ErrNotFound
	}

	rawChart := quoteModel.RawChart{}
	err = json.Unmarshal(resp.Body(), &rawChart)
	if err != nil {
		slog.Error("can't unmarshall response into quoteModel.RawChart", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return quoteModel.RawChartResult{}, err
	}

	if rawChart.Chart.Error != nil {
		if rawChart.Chart.Error.Code == "Not Found" {
			return quoteModel.RawChartResult{}, externalApi.ErrNotFound
		}
		return quoteModel.RawChartResult{}, fmt.Errorf("provider error %s: %s", rawChart.Chart.Error.Code, rawChart.Chart.Error.Description)
	}

	if len(rawChart.Chart.Result) == 0 {
		return quoteModel.RawChartResult{}, externalApi.ErrNotFound
	}

	return rawChart.Chart.Result[0], nil
}

func chartClose(result quoteModel.RawChartResult, i int) *float64 {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	closes := result.Indicators.Quote[0].Close
	if i < 0 || i >= len(closes) {
		return nil
	}
	return closes[i]
}
