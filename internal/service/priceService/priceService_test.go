package priceService

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfolio-engine/config"
	"portfolio-engine/internal/externalApi"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockProvider) DailyHistory(ctx context.Context, symbols []string, from, to time.Time) (model.PriceMap, error) {
	args := m.Called(ctx, symbols, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.PriceMap), args.Error(1)
}

func (m *MockProvider) Validate(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(model.SymbolInfo), args.Error(1)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetPriceRows(ctx context.Context, assetIDs []int64, from, to time.Time) ([]model.PricePoint, error) {
	args := m.Called(ctx, assetIDs, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PricePoint), args.Error(1)
}

func (m *MockRepository) UpsertPriceRows(ctx context.Context, points []model.PricePoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockCache) SetQuote(ctx context.Context, symbol string, price decimal.Decimal) error {
	args := m.Called(ctx, symbol, price)
	return args.Error(0)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pricing.CoverageRatio = 0.6
	return cfg
}

func day(s string) time.Time {
	t, err := time.Parse(model.DayFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

var errCacheMiss = errors.New("cache miss")

func TestEnsurePrices_FetchesStaleBatchOnce(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	provider := new(MockProvider)

	assets := []model.Asset{
		{AssetID: 1, Symbol: "AAPL", Currency: "USD"},
		{AssetID: 2, Symbol: "0700.HK", Currency: "HKD"},
	}
	from, to := day("2024-01-01"), day("2024-01-10")

	repo.On("GetPriceRows", ctx, []int64{1, 2}, from, to).Return([]model.PricePoint{}, nil)

	fetched := model.PriceMap{}
	fetched.Set("2024-01-02", "AAPL", decimal.NewFromInt(185))
	fetched.Set("2024-01-02", "0700.HK", decimal.NewFromInt(290))
	fetched.Set("2024-01-05", "AAPL", decimal.NewFromInt(186))
	provider.On("DailyHistory", ctx, []string{"AAPL", "0700.HK"}, from, to).Return(fetched, nil).Once()

	var persisted []model.PricePoint
	repo.On("UpsertPriceRows", ctx, mock.Anything).Run(func(args mock.Arguments) {
		persisted = args.Get(1).([]model.PricePoint)
	}).Return(nil)

	s := New(testConfig(), repo, nil, provider)

	prices, err := s.EnsurePrices(ctx, assets, from, to)
	require.NoError(t, err)

	// Jan 3-4 carry the Jan 2 close forward, Jan 5 has its own.
	p, ok := prices.Get(day("2024-01-04"), "AAPL")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(185)))

	p, ok = prices.Get(day("2024-01-05"), "AAPL")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(186)))

	// Days before the first close stay absent.
	_, ok = prices.Get(day("2024-01-01"), "AAPL")
	assert.False(t, ok)

	// The forward-filled series is what gets persisted: 9 AAPL days
	// (Jan 2-10) plus 9 carried 0700.HK days.
	assert.Len(t, persisted, 18)

	provider.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestEnsurePrices_CoveredSymbolsSkipProvider(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	provider := new(MockProvider)

	assets := []model.Asset{{AssetID: 1, Symbol: "AAPL"}}
	from, to := day("2024-01-01"), day("2024-01-05")

	// 4 of 5 days cached, expected = 5*0.6 = 3.
	cached := []model.PricePoint{
		{AssetID: 1, Symbol: "AAPL", Date: day("2024-01-01"), Price: decimal.NewFromInt(180)},
		{AssetID: 1, Symbol: "AAPL", Date: day("2024-01-02"), Price: decimal.NewFromInt(181)},
		{AssetID: 1, Symbol: "AAPL", Date: day("2024-01-03"), Price: decimal.NewFromInt(182)},
		{AssetID: 1, Symbol: "AAPL", Date: day("2024-01-05"), Price: decimal.NewFromInt(184)},
	}
	repo.On("GetPriceRows", ctx, []int64{1}, from, to).Return(cached, nil)

	s := New(testConfig(), repo, nil, provider)

	prices, err := s.EnsurePrices(ctx, assets, from, to)
	require.NoError(t, err)

	provider.AssertNotCalled(t, "DailyHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpsertPriceRows", mock.Anything, mock.Anything)

	// The in-memory gap on Jan 4 is still carried forward for callers.
	p, ok := prices.Get(day("2024-01-04"), "AAPL")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(182)))
}

// A single-day range with nothing cached must still fetch: this is the shape
// every same-day rebuild produces after a ledger entry.
func TestEnsurePrices_OneDayRangeUncoveredFetches(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	provider := new(MockProvider)

	assets := []model.Asset{{AssetID: 1, Symbol: "AAPL"}}
	today := day("2024-06-10")

	repo.On("GetPriceRows", ctx, []int64{1}, today, today).Return([]model.PricePoint{}, nil)

	fetched := model.PriceMap{}
	fetched.Set("2024-06-10", "AAPL", decimal.NewFromInt(185))
	provider.On("DailyHistory", ctx, []string{"AAPL"}, today, today).Return(fetched, nil).Once()
	repo.On("UpsertPriceRows", ctx, mock.Anything).Return(nil)

	s := New(testConfig(), repo, nil, provider)

	prices, err := s.EnsurePrices(ctx, assets, today, today)
	require.NoError(t, err)

	p, ok := prices.Get(today, "AAPL")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(185)))
	provider.AssertExpectations(t)
}

func TestEnsurePrices_BelowRatioCoverageFetches(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	provider := new(MockProvider)

	assets := []model.Asset{{AssetID: 1, Symbol: "AAPL"}}
	from, to := day("2024-01-01"), day("2024-01-03")

	// 1 of 3 days cached: 33% coverage is below the 60% ratio even though
	// both truncate to the same whole day count.
	cached := []model.PricePoint{
		{AssetID: 1, Symbol: "AAPL", Date: day("2024-01-01"), Price: decimal.NewFromInt(180)},
	}
	repo.On("GetPriceRows", ctx, []int64{1}, from, to).Return(cached, nil)
	provider.On("DailyHistory", ctx, []string{"AAPL"}, from, to).Return(model.PriceMap{}, nil).Once()
	repo.On("UpsertPriceRows", ctx, mock.Anything).Return(nil)

	s := New(testConfig(), repo, nil, provider)

	_, err := s.EnsurePrices(ctx, assets, from, to)
	require.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestEnsurePrices_ProviderFailureDegradesToCache(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	provider := new(MockProvider)

	assets := []model.Asset{{AssetID: 1, Symbol: "AAPL"}}
	from, to := day("2024-01-01"), day("2024-01-10")

	cached := []model.PricePoint{
		{AssetID: 1, Symbol: "AAPL", Date: day("2024-01-02"), Price: decimal.NewFromInt(185)},
	}
	repo.On("GetPriceRows", ctx, []int64{1}, from, to).Return(cached, nil)
	provider.On("DailyHistory", ctx, []string{"AAPL"}, from, to).Return(nil, errors.New("rate limited"))
	repo.On("UpsertPriceRows", ctx, mock.Anything).Return(nil)

	s := New(testConfig(), repo, nil, provider)

	prices, err := s.EnsurePrices(ctx, assets, from, to)
	require.NoError(t, err, "provider failures must not surface")

	p, ok := prices.Get(day("2024-01-10"), "AAPL")
	require.True(t, ok, "cached close still carried forward")
	assert.True(t, p.Equal(decimal.NewFromInt(185)))
}

func TestEnsurePrices_NoAssets(t *testing.T) {
	s := New(testConfig(), new(MockRepository), nil, new(MockProvider))

	prices, err := s.EnsurePrices(context.Background(), nil, day("2024-01-01"), day("2024-01-02"))
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestCurrentPrice_CacheHit(t *testing.T) {
	ctx := context.Background()
	cache := new(MockCache)
	provider := new(MockProvider)

	cache.On("GetQuote", ctx, "AAPL").Return(decimal.NewFromInt(190), nil)

	s := New(testConfig(), nil, cache, provider)

	price, err := s.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(190)))
	provider.AssertNotCalled(t, "CurrentPrice", mock.Anything, mock.Anything)
}

func TestCurrentPrice_CacheMissGoesToProvider(t *testing.T) {
	ctx := context.Background()
	cache := new(MockCache)
	provider := new(MockProvider)

	cache.On("GetQuote", ctx, "AAPL").Return(decimal.Decimal{}, errCacheMiss)
	provider.On("CurrentPrice", ctx, "AAPL").Return(decimal.NewFromInt(191), nil)
	// Cache fill happens on a detached goroutine; it may or may not land
	// before the test finishes.
	cache.On("SetQuote", mock.Anything, "AAPL", mock.Anything).Return(nil).Maybe()

	s := New(testConfig(), nil, cache, provider)

	price, err := s.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(191)))
}

func TestCurrentPrice_ProviderFailureYieldsZero(t *testing.T) {
	ctx := context.Background()
	cache := new(MockCache)
	provider := new(MockProvider)

	cache.On("GetQuote", ctx, "AAPL").Return(decimal.Decimal{}, errCacheMiss)
	provider.On("CurrentPrice", ctx, "AAPL").Return(decimal.Decimal{}, errors.New("timeout"))

	s := New(testConfig(), nil, cache, provider)

	price, err := s.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}

func TestValidateSymbol_Unknown(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)

	provider.On("Validate", ctx, "NOPE").Return(model.SymbolInfo{}, externalApi.ErrNotFound)

	s := New(testConfig(), nil, nil, provider)

	_, err := s.ValidateSymbol(ctx, "NOPE")
	assert.ErrorIs(t, err, service.ErrUnknownSymbol)
}

func TestValidateSymbol_Known(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)

	info := model.SymbolInfo{Symbol: "AAPL", Name: "Apple Inc.", Currency: "USD", Valid: true}
	provider.On("Validate", ctx, "AAPL").Return(info, nil)

	s := New(testConfig(), nil, nil, provider)

	got, err := s.ValidateSymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, info, got)
}
