package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"portfolio-engine/config"
	"portfolio-engine/internal/converter/dbConverter"
	"portfolio-engine/internal/model"
	"portfolio-engine/internal/model/dbModel"
	"portfolio-engine/utils"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	db  *sqlx.DB
	cfg *config.Config
}

func NewPostgres(cfg *config.Config, db *sqlx.DB) *Postgres {
	return &Postgres{db: db, cfg: cfg}
}

func (r *Postgres) GetAccounts(ctx context.Context) (accounts []model.Account, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAccounts"
	query := `
		SELECT account_id, name, type, currency, balance, dt_create, dt_update
		FROM accounts
		ORDER BY account_id
		`

	slog.Debug("GetAccounts start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetAccounts failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAccounts completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var account dbModel.Account
		err = rows.StructScan(&account)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, dbConverter.ConvertAccount(account))
	}

	return accounts, nil
}

func (r *Postgres) GetAccount(ctx context.Context, accountID int64) (account model.Account, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAccount"
	query := `
		SELECT account_id, name, type, currency, balance, dt_create, dt_update
		FROM accounts
		WHERE account_id = $1
		`

	slog.Debug("GetAccount start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("GetAccount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAccount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbAccount := dbModel.Account{}
	err = r.db.QueryRowxContext(ctx, query, accountID).StructScan(&dbAccount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, err
	}

	return dbConverter.ConvertAccount(dbAccount), nil
}

func (r *Postgres) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateAccountBalance"
	query := `
		UPDATE accounts
		SET balance = $1, dt_update = now()
		WHERE account_id = $2
		`

	slog.Debug("UpdateAccountBalance start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("UpdateAccountBalance failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateAccountBalance completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.db.ExecContext(ctx, query, balance, accountID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetAssets(ctx context.Context) (assets []model.Asset, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAssets"
	query := `
		SELECT asset_id, symbol, name, currency, tags, dt_create
		FROM assets
		ORDER BY symbol
		`

	slog.Debug("GetAssets start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetAssets failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAssets completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var asset dbModel.Asset
		err = rows.StructScan(&asset)
		if err != nil {
			return nil, err
		}
		assets = append(assets, dbConverter.ConvertAsset(asset))
	}

	return assets, nil
}

func (r *Postgres) GetAssetBySymbol(ctx context.Context, symbol string) (asset model.Asset, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAssetBySymbol"
	query := `
		SELECT asset_id, symbol, name, currency, tags, dt_create
		FROM assets
		WHERE symbol = $1
		`

	slog.Debug("GetAssetBySymbol start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))
	defer func() {
		if err != nil {
			slog.Error("GetAssetBySymbol failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAssetBySymbol completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbAsset := dbModel.Asset{}
	err = r.db.QueryRowxContext(ctx, query, symbol).StructScan(&dbAsset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Asset{}, ErrNotFound
		}
		return model.Asset{}, err
	}

	return dbConverter.ConvertAsset(dbAsset), nil
}

func (r *Postgres) InsertAsset(ctx context.Context, asset model.Asset) (assetID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertAsset"
	query := `INSERT INTO assets(symbol, name, currency, tags) VALUES($1, $2, $3, $4) RETURNING asset_id`

	slog.Debug("InsertAsset start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", asset.Symbol))
	defer func() {
		if err != nil {
			slog.Error("InsertAsset failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertAsset completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.db.QueryRowContext(ctx, query, asset.Symbol, asset.Name, asset.Currency, pq.Array(asset.Tags)).Scan(&assetID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return 0, ErrAlreadyExists
			}
		}
		return 0, err
	}

	return assetID, nil
}

func (r *Postgres) UpdateAssetTags(ctx context.Context, assetID int64, tags []string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateAssetTags"
	query := `UPDATE assets SET tags = $1 WHERE asset_id = $2`

	slog.Debug("UpdateAssetTags start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("assetID", assetID))
	defer func() {
		if err != nil {
			slog.Error("UpdateAssetTags failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateAssetTags completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.db.ExecContext(ctx, query, pq.Array(tags), assetID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
