package portfolioService

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"portfolio-engine/data/repository"
	"portfolio-engine/internal/ledger"
	"portfolio-engine/internal/model"
	"portfolio-engine/utils"

	"github.com/shopspring/decimal"
)

type reconcileMode int

const (
	// modeBackfill only fills days with no snapshot; it never deletes.
	modeBackfill reconcileMode = iota
	// modeRebuild deletes every snapshot on or after the start date first.
	modeRebuild
)

// RecordDailySnapshot creates today's snapshot if none exists yet. It is the
// idempotent entry point for the daily scheduler job.
func (s *PortfolioService) RecordDailySnapshot(ctx context.Context) (model.PortfolioSnapshot, bool, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.RecordDailySnapshot"

	slog.Debug("RecordDailySnapshot start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("RecordDailySnapshot finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	today := model.Day(time.Now())

	exists, err := s.repo.SnapshotExists(ctx, today)
	if err != nil {
		slog.Error("got error from repo.SnapshotExists", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioSnapshot{}, false, err
	}
	if exists {
		slog.Info("snapshot already recorded for today", slog.String("rqID", rqID), slog.String("op", op), slog.String("day", model.DayKey(today)))
		return model.PortfolioSnapshot{}, false, nil
	}

	valuation, err := s.ValueAt(ctx, today)
	if err != nil {
		return model.PortfolioSnapshot{}, false, err
	}

	snapshot := snapshotFromValuation(valuation)
	if err := s.repo.InsertSnapshot(ctx, snapshot); err != nil {
		return model.PortfolioSnapshot{}, false, err
	}

	return snapshot, true, nil
}

// Backfill populates snapshots from the first transaction date through today,
// only for days that have none. Running it twice is a no-op the second time.
func (s *PortfolioService) Backfill(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.Backfill"

	slog.Debug("Backfill start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("Backfill finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	first, err := s.repo.GetFirstTransactionDate(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Info("ledger is empty, nothing to backfill", slog.String("rqID", rqID), slog.String("op", op))
			return nil
		}
		slog.Error("got error from repo.GetFirstTransactionDate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return s.reconcile(ctx, first, modeBackfill)
}

// RebuildFrom deletes all snapshots on or after the given date and
// regenerates one per day through today. Call it whenever historical truth
// changes: a backdated transaction, an edit, a deletion.
func (s *PortfolioService) RebuildFrom(ctx context.Context, from time.Time) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.RebuildFrom"

	slog.Debug("RebuildFrom start", slog.String("rqID", rqID), slog.String("op", op), slog.String("from", model.DayKey(from)))
	defer func() {
		slog.Debug("RebuildFrom finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	return s.reconcile(ctx, from, modeRebuild)
}

// reconcile is the shared day-by-day loop. It pre-warms the price cache for
// every asset the ledger has ever referenced, rolls one replayed state
// forward through the range, and writes one snapshot per day. Already-written
// days survive a mid-run failure, so re-running converges rather than
// requiring atomicity.
func (s *PortfolioService) reconcile(ctx context.Context, from time.Time, mode reconcileMode) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.reconcile"

	start := model.Day(from)
	today := model.Day(time.Now())
	if start.After(today) {
		return nil
	}

	txs, err := s.repo.GetTransactionsOrdered(ctx)
	if err != nil {
		slog.Error("got error from repo.GetTransactionsOrdered", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	accounts, err := s.accountsByID(ctx)
	if err != nil {
		return err
	}

	assetsByID, err := s.assetsByID(ctx)
	if err != nil {
		return err
	}

	// Price coverage must be ensured for every asset ever traded before the
	// day loop starts, otherwise early days would be valued off stale rows.
	referenced := referencedAssets(ctx, txs, assetsByID)
	priceMap, err := s.prices.EnsurePrices(ctx, referenced, start, today)
	if err != nil {
		slog.Error("got error from prices.EnsurePrices", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}
	carry := s.carrySeeds(ctx, referenced, priceMap, start)

	var existing map[string]struct{}
	switch mode {
	case modeRebuild:
		if err := s.repo.DeleteSnapshotsFrom(ctx, start); err != nil {
			return err
		}
	case modeBackfill:
		existing, err = s.repo.GetSnapshotDays(ctx, start, today)
		if err != nil {
			return err
		}
	}

	// Roll transactions strictly before the range into the opening state.
	state := ledger.NewState()
	idx := 0
	for idx < len(txs) && txs[idx].Date.Before(start) {
		state.Apply(txs[idx])
		idx++
	}

	inserted := 0
	for day := start; !day.After(today); day = day.AddDate(0, 0, 1) {
		cutoff := ledger.EndOfDay(day)
		for idx < len(txs) && !txs[idx].Date.After(cutoff) {
			state.Apply(txs[idx])
			idx++
		}

		if mode == modeBackfill {
			if _, ok := existing[model.DayKey(day)]; ok {
				continue
			}
		}

		holdings := s.holdingsFromState(ctx, state, assetsByID, s.mapResolver(priceMap, carry, day))
		valuation := s.valuationFromState(ctx, state, holdings, accounts, day)

		if err := s.repo.InsertSnapshot(ctx, snapshotFromValuation(valuation)); err != nil {
			slog.Error(
				"snapshot insert failed mid-run, already-written days are kept",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("day", model.DayKey(day)),
				slog.String("err", err.Error()),
			)
			return err
		}
		inserted++
	}

	if mode == modeRebuild {
		s.refreshAccountBalances(ctx, state, accounts)
	}

	slog.Info("reconcile completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("inserted", inserted), slog.String("from", model.DayKey(start)))

	return nil
}

// refreshAccountBalances re-derives the cached balance column from the fully
// replayed state. The column is a performance cache only; replay stays the
// source of truth.
func (s *PortfolioService) refreshAccountBalances(ctx context.Context, state ledger.State, accounts map[int64]model.Account) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.refreshAccountBalances"

	for accountID := range accounts {
		if err := s.repo.UpdateAccountBalance(ctx, accountID, state.Cash[accountID]); err != nil {
			slog.Error("got error from repo.UpdateAccountBalance", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID), slog.String("err", err.Error()))
		}
	}
}

// EnqueueRebuild schedules a rebuild starting no later than the given date.
// Requests arriving while one is pending coalesce to the earliest date, and a
// single reconciler goroutine drains them, which serializes rebuilds within
// the process.
func (s *PortfolioService) EnqueueRebuild(from time.Time) {
	s.mu.Lock()
	if s.pendingFrom.IsZero() || from.Before(s.pendingFrom) {
		s.pendingFrom = model.Day(from)
	}
	s.mu.Unlock()

	select {
	case s.rebuildCh <- struct{}{}:
	default:
	}
}

// RunReconciler drains queued rebuild requests until the context is done.
// Start it once from main.
func (s *PortfolioService) RunReconciler(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.rebuildCh:
			s.mu.Lock()
			from := s.pendingFrom
			s.pendingFrom = time.Time{}
			s.mu.Unlock()

			if from.IsZero() {
				continue
			}

			runCtx := utils.CtxWithRequestID(ctx)
			if err := s.RebuildFrom(runCtx, from); err != nil {
				slog.Error("queued rebuild failed", slog.String("from", model.DayKey(from)), slog.String("err", err.Error()))
			}
		}
	}
}

// ExportHistory renders the snapshot series for [from, to] as a spreadsheet.
func (s *PortfolioService) ExportHistory(ctx context.Context, from, to time.Time) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.ExportHistory"

	slog.Debug("ExportHistory start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("ExportHistory finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	snapshots, err := s.repo.GetSnapshots(ctx, from, to)
	if err != nil {
		slog.Error("got error from repo.GetSnapshots", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	return s.reports.Generate(ctx, snapshots)
}

// mapResolver prices positions out of a pre-fetched, forward-filled price
// map. A map miss means the symbol has no in-range close up to that day, so
// the pre-range carry seed answers next; average cost is the last resort.
func (s *PortfolioService) mapResolver(prices model.PriceMap, carry map[string]decimal.Decimal, day time.Time) priceResolver {
	return func(asset model.Asset, pos ledger.Position) (decimal.Decimal, string) {
		if price, ok := prices.Get(day, asset.Symbol); ok {
			return price, model.PriceSourceHistory
		}
		if price, ok := carry[asset.Symbol]; ok {
			return price, model.PriceSourceCarry
		}
		return pos.AvgCost(), model.PriceSourceCost
	}
}

// carrySeeds fetches the latest cached close on or before the range start for
// every symbol the price map cannot answer on the start day. The forward-fill
// inside the price map covers every day after a symbol's first in-range
// close, so one seed per uncovered symbol closes the gap before it.
func (s *PortfolioService) carrySeeds(ctx context.Context, assets []model.Asset, prices model.PriceMap, start time.Time) map[string]decimal.Decimal {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.carrySeeds"

	carry := make(map[string]decimal.Decimal)
	for _, asset := range assets {
		if _, ok := prices.Get(start, asset.Symbol); ok {
			continue
		}
		row, err := s.repo.GetLatestPriceOnOrBefore(ctx, asset.AssetID, start)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				slog.Error("got error from repo.GetLatestPriceOnOrBefore", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", asset.Symbol), slog.String("err", err.Error()))
			}
			continue
		}
		carry[asset.Symbol] = row.Price
	}
	return carry
}

func referencedAssets(ctx context.Context, txs []model.Transaction, assetsByID map[int64]model.Asset) []model.Asset {
	rqID := utils.GetRequestIDFromCtx(ctx)

	seen := make(map[int64]struct{})
	var assets []model.Asset
	for _, tx := range txs {
		if tx.AssetID == 0 {
			continue
		}
		if _, ok := seen[tx.AssetID]; ok {
			continue
		}
		seen[tx.AssetID] = struct{}{}

		asset, ok := assetsByID[tx.AssetID]
		if !ok {
			slog.Warn("ledger references unknown asset, skipping price warm-up", slog.String("rqID", rqID), slog.Int64("assetID", tx.AssetID))
			continue
		}
		assets = append(assets, asset)
	}
	return assets
}

func snapshotFromValuation(v model.Valuation) model.PortfolioSnapshot {
	return model.PortfolioSnapshot{
		Date:          v.Date,
		TotalEquity:   v.TotalEquity,
		TotalCash:     v.TotalCash,
		TotalInvested: v.TotalInvested,
		HoldingsCount: v.HoldingsCount,
		Currency:      v.Currency,
	}
}
