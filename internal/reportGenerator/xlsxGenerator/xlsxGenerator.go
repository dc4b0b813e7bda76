package xlsxGenerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"portfolio-engine/internal/model"
	"portfolio-engine/utils"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Equity history"

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

// Generate renders the snapshot series as a single-sheet workbook, one row
// per day, oldest first.
func (g *XLSXGenerator) Generate(ctx context.Context, snapshots []model.PortfolioSnapshot) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	if len(snapshots) == 0 {
		return nil, "", errors.New("empty snapshots")
	}

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err := g.fillSheet(ctx, f, snapshots); err != nil {
		return nil, "", err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XLSXGenerator) fillSheet(ctx context.Context, f *excelize.File, snapshots []model.PortfolioSnapshot) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.fillSheet"

	if _, err := f.NewSheet(sheetName); err != nil {
		slog.Error("got error while creating NewSheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	if err := f.MergeCell(sheetName, "A1", "F1"); err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A1", fmt.Sprintf("Portfolio equity, %s", snapshots[0].Currency))

	styleID, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{"#cfe2f3"},
		},
	})
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sheetName, "A1", "A1", styleID); err != nil {
		return fmt.Errorf("failed to apply style: %w", err)
	}

	_ = f.SetCellStr(sheetName, "A2", "date")
	_ = f.SetCellStr(sheetName, "B2", "total equity")
	_ = f.SetCellStr(sheetName, "C2", "cash")
	_ = f.SetCellStr(sheetName, "D2", "invested")
	_ = f.SetCellStr(sheetName, "E2", "gain")
	_ = f.SetCellStr(sheetName, "F2", "holdings")

	for i, snapshot := range snapshots {
		row := i + 3
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", row), model.DayKey(snapshot.Date))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), snapshot.TotalEquity.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), snapshot.TotalCash.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), snapshot.TotalInvested.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), snapshot.TotalEquity.Sub(snapshot.TotalInvested).InexactFloat64())
		_ = f.SetCellInt(sheetName, fmt.Sprintf("F%d", row), snapshot.HoldingsCount)
	}

	return nil
}
