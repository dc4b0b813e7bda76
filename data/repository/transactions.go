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
)

func (r *Postgres) InsertTransaction(ctx context.Context, tx model.Transaction) (transactionID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransaction"
	query := `
		INSERT INTO transactions(dt, type, account_id, asset_id, quantity, price, fee, total, notes)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8, $9)
		RETURNING transaction_id
		`

	slog.Debug(
		"InsertTransaction start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.String("type", string(tx.Type)),
		slog.Int64("accountID", tx.AccountID),
		slog.String("query", query),
	)
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.db.QueryRowContext(
		ctx,
		query,
		tx.Date,
		string(tx.Type),
		tx.AccountID,
		tx.AssetID,
		tx.Quantity,
		tx.Price,
		tx.Fee,
		tx.Total,
		tx.Notes,
	).Scan(&transactionID)

	if err != nil {
		return 0, err
	}

	return transactionID, nil
}

func (r *Postgres) GetTransaction(ctx context.Context, transactionID int64) (tx model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransaction"
	query := `
		SELECT transaction_id, dt, type, account_id, asset_id, quantity, price, fee, total, notes, dt_create
		FROM transactions
		WHERE transaction_id = $1
		`

	slog.Debug("GetTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		if err != nil {
			slog.Error("GetTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbTx := dbModel.Transaction{}
	err = r.db.QueryRowxContext(ctx, query, transactionID).StructScan(&dbTx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, ErrNotFound
		}
		return model.Transaction{}, err
	}

	return dbConverter.ConvertTransaction(dbTx), nil
}

func (r *Postgres) DeleteTransaction(ctx context.Context, transactionID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteTransaction"
	query := `DELETE FROM transactions WHERE transaction_id = $1`

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		if err != nil {
			slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.db.ExecContext(ctx, query, transactionID)
	if err != nil {
		return err
	}

	return nil
}

// GetTransactionsOrdered returns the whole ledger sorted by (date, id): the
// replay order. Same-day transactions keep their insertion order.
func (r *Postgres) GetTransactionsOrdered(ctx context.Context) (txs []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransactionsOrdered"
	query := `
		SELECT transaction_id, dt, type, account_id, asset_id, quantity, price, fee, total, notes, dt_create
		FROM transactions
		ORDER BY dt, transaction_id
		`

	slog.Debug("GetTransactionsOrdered start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetTransactionsOrdered failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransactionsOrdered completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(txs)))
		}
	}()

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTx dbModel.Transaction
		err = rows.StructScan(&dbTx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, dbConverter.ConvertTransaction(dbTx))
	}

	return txs, nil
}

func (r *Postgres) GetFirstTransactionDate(ctx context.Context) (first time.Time, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetFirstTransactionDate"
	query := `SELECT min(dt) FROM transactions`

	slog.Debug("GetFirstTransactionDate start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Error("GetFirstTransactionDate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetFirstTransactionDate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	var nullable sql.NullTime
	err = r.db.QueryRowContext(ctx, query).Scan(&nullable)
	if err != nil {
		return time.Time{}, err
	}

	if !nullable.Valid {
		return time.Time{}, ErrNotFound
	}

	return nullable.Time, nil
}
