package repository

import (
	"context"
	"log/slog"
	"time"

	"portfolio-engine/internal/converter/dbConverter"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/model/dbModel"
	"portfolio-engine/utils"
)

func (r *Postgres) SnapshotExists(ctx context.Context, day time.Time) (exists bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.SnapshotExists"
	query := `SELECT EXISTS(SELECT 1 FROM portfolio_snapshots WHERE snapshot_date = $1)`

	slog.Debug("SnapshotExists start", slog.String("rqID", rqID), slog.String("op", op), slog.String("day", model.DayKey(day)))
	defer func() {
		if err != nil {
			slog.Error("SnapshotExists failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SnapshotExists completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.db.QueryRowContext(ctx, query, model.Day(day)).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// GetSnapshotDays returns the set of days in [from, to] that already carry a
// snapshot; backfill uses it to skip covered days.
func (r *Postgres) GetSnapshotDays(ctx context.Context, from, to time.Time) (days map[string]struct{}, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetSnapshotDays"
	query := `
		SELECT snapshot_date
		FROM portfolio_snapshots
		WHERE snapshot_date >= $1 AND snapshot_date <= $2
		`

	slog.Debug("GetSnapshotDays start", slog.String("rqID", rqID), slog.String("op", op), slog.String("from", model.DayKey(from)), slog.String("to", model.DayKey(to)))
	defer func() {
		if err != nil {
			slog.Error("GetSnapshotDays failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetSnapshotDays completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(days)))
		}
	}()

	rows, err := r.db.QueryxContext(ctx, query, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	days = make(map[string]struct{})
	for rows.Next() {
		var day time.Time
		err = rows.Scan(&day)
		if err != nil {
			return nil, err
		}
		days[model.DayKey(day)] = struct{}{}
	}

	return days, nil
}

func (r *Postgres) GetSnapshots(ctx context.Context, from, to time.Time) (snapshots []model.PortfolioSnapshot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetSnapshots"
	query := `
		SELECT snapshot_date, total_equity, total_cash, total_invested, holdings_count, currency
		FROM portfolio_snapshots
		WHERE snapshot_date >= $1 AND snapshot_date <= $2
		ORDER BY snapshot_date
		`

	slog.Debug("GetSnapshots start", slog.String("rqID", rqID), slog.String("op", op), slog.String("from", model.DayKey(from)), slog.String("to", model.DayKey(to)))
	defer func() {
		if err != nil {
			slog.Error("GetSnapshots failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetSnapshots completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(snapshots)))
		}
	}()

	rows, err := r.db.QueryxContext(ctx, query, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var snapshot dbModel.PortfolioSnapshot
		err = rows.StructScan(&snapshot)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, dbConverter.ConvertSnapshot(snapshot))
	}

	return snapshots, nil
}

// InsertSnapshot writes one snapshot, overwriting any existing record for the
// same day: the one-snapshot-per-day invariant lives in the primary key.
func (r *Postgres) InsertSnapshot(ctx context.Context, snapshot model.PortfolioSnapshot) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertSnapshot"
	query := `
		INSERT INTO portfolio_snapshots(snapshot_date, total_equity, total_cash, total_invested, holdings_count, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			total_equity = EXCLUDED.total_equity,
			total_cash = EXCLUDED.total_cash,
			total_invested = EXCLUDED.total_invested,
			holdings_count = EXCLUDED.holdings_count,
			currency = EXCLUDED.currency
		`

	slog.Debug("InsertSnapshot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("day", model.DayKey(snapshot.Date)))
	defer func() {
		if err != nil {
			slog.Error("InsertSnapshot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertSnapshot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.db.ExecContext(
		ctx,
		query,
		model.Day(snapshot.Date),
		snapshot.TotalEquity,
		snapshot.TotalCash,
		snapshot.TotalInvested,
		snapshot.HoldingsCount,
		snapshot.Currency,
	)
	if err != nil {
		return err
	}

	return nil
}

// DeleteSnapshotsFrom bulk-removes every snapshot on or after the given day.
// Rebuild calls it before regenerating history.
func (r *Postgres) DeleteSnapshotsFrom(ctx context.Context, day time.Time) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteSnapshotsFrom"
	query := `DELETE FROM portfolio_snapshots WHERE snapshot_date >= $1`

	slog.Debug("DeleteSnapshotsFrom start", slog.String("rqID", rqID), slog.String("op", op), slog.String("day", model.DayKey(day)))
	defer func() {
		if err != nil {
			slog.Error("DeleteSnapshotsFrom failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteSnapshotsFrom completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.db.ExecContext(ctx, query, model.Day(day))
	if err != nil {
		return err
	}

	return nil
}
