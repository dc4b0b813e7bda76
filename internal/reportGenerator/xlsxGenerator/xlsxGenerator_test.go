package xlsxGenerator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"portfolio-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerate_EmptySnapshots(t *testing.T) {
	g := New()

	_, _, err := g.Generate(context.Background(), nil)
	assert.Error(t, err)
}

func TestGenerate_RowsPerSnapshot(t *testing.T) {
	g := New()

	snapshots := []model.PortfolioSnapshot{
		{
			Date:          time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			TotalEquity:   decimal.NewFromInt(10300),
			TotalCash:     decimal.NewFromInt(8500),
			TotalInvested: decimal.NewFromInt(10000),
			HoldingsCount: 1,
			Currency:      "USD",
		},
		{
			Date:          time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
			TotalEquity:   decimal.NewFromInt(10450),
			TotalCash:     decimal.NewFromInt(8500),
			TotalInvested: decimal.NewFromInt(10000),
			HoldingsCount: 1,
			Currency:      "USD",
		},
	}

	fileBytes, ext, err := g.Generate(context.Background(), snapshots)
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", ext)
	require.NotEmpty(t, fileBytes)

	f, err := excelize.OpenReader(bytes.NewReader(fileBytes))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4, "title + header + one row per snapshot")

	assert.Equal(t, "2024-06-01", rows[2][0])
	assert.Equal(t, "2024-06-02", rows[3][0])
	assert.Equal(t, "450", rows[3][4], "gain column is equity minus invested")
}
