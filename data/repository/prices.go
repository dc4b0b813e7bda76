package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"portfolio-engine/internal/converter/dbConverter"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/model/dbModel"
	"portfolio-engine/utils"

	"github.com/shopspring/decimal"
)

// GetPriceRows selects the cached closes for the given assets within
// [from, to], joined with symbols, ordered by day.
func (r *Postgres) GetPriceRows(ctx context.Context, assetIDs []int64, from, to time.Time) (rows []model.PricePoint, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPriceRows"
	query := `
		SELECT p.asset_id, a.symbol, p.price_date, p.price
		FROM price_history p
		JOIN assets a USING(asset_id)
		WHERE p.asset_id = ANY($1)
		AND p.price_date >= $2
		AND p.price_date <= $3
		ORDER BY p.price_date, p.asset_id
		`

	slog.Debug(
		"GetPriceRows start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Any("assetIDs", assetIDs),
		slog.String("from", model.DayKey(from)),
		slog.String("to", model.DayKey(to)),
	)
	defer func() {
		if err != nil {
			slog.Error("GetPriceRows failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPriceRows completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(rows)))
		}
	}()

	dbRows, err := r.db.QueryxContext(ctx, query, assetIDs, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}

	defer dbRows.Close()

	for dbRows.Next() {
		var row dbModel.PricePoint
		err = dbRows.StructScan(&row)
		if err != nil {
			return nil, err
		}
		rows = append(rows, dbConverter.ConvertPricePoint(row))
	}

	return rows, nil
}

// GetLatestPriceOnOrBefore returns the newest cached close at or before the
// given day, the lookup behind the "carry" tier of price resolution.
func (r *Postgres) GetLatestPriceOnOrBefore(ctx context.Context, assetID int64, day time.Time) (row model.PricePoint, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetLatestPriceOnOrBefore"
	query := `
		SELECT p.asset_id, a.symbol, p.price_date, p.price
		FROM price_history p
		JOIN assets a USING(asset_id)
		WHERE p.asset_id = $1
		AND p.price_date <= $2
		ORDER BY p.price_date DESC
		LIMIT 1
		`

	slog.Debug("GetLatestPriceOnOrBefore start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("assetID", assetID), slog.String("day", model.DayKey(day)))
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Error("GetLatestPriceOnOrBefore failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetLatestPriceOnOrBefore completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbRow := dbModel.PricePoint{}
	err = r.db.QueryRowxContext(ctx, query, assetID, model.Day(day)).StructScan(&dbRow)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PricePoint{}, ErrNotFound
		}
		return model.PricePoint{}, err
	}

	return dbConverter.ConvertPricePoint(dbRow), nil
}

// UpsertPriceRows merges fetched closes into the cache. Existing rows are
// rewritten only when the new price moves past the epsilon, which keeps the
// merge idempotent and avoids churning unchanged rows.
func (r *Postgres) UpsertPriceRows(ctx context.Context, points []model.PricePoint) (err error) {
	if len(points) == 0 {
		return nil
	}

	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpsertPriceRows"
	query := `
		INSERT INTO price_history(asset_id, price_date, price)
		SELECT u.asset_id, u.price_date, u.price
		FROM UNNEST(
			$1::bigint[],
			$2::date[],
			$3::decimal[]
		) AS u(asset_id, price_date, price)
		ON CONFLICT (asset_id, price_date) DO UPDATE
		SET price = EXCLUDED.price
		WHERE abs(price_history.price - EXCLUDED.price) > 0.0001
		`

	assetIDs := make([]int64, 0, len(points))
	days := make([]time.Time, 0, len(points))
	prices := make([]decimal.Decimal, 0, len(points))

	for _, point := range points {
		assetIDs = append(assetIDs, point.AssetID)
		days = append(days, model.Day(point.Date))
		prices = append(prices, point.Price)
	}

	slog.Debug("UpsertPriceRows start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(points)))
	defer func() {
		if err != nil {
			slog.Error("UpsertPriceRows failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpsertPriceRows completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.db.ExecContext(ctx, query, assetIDs, days, prices)
	if err != nil {
		return err
	}

	return nil
}
