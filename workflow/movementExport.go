package workflow

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/xuri/excelize/v2"
)

const movementSheet = "Movements"

var movementHeadings = []string{
	"Id", "ProductId", "Kind", "Direction", "Quantity", "PreviousQuantity", "NewQuantity",
	"ReferenceType", "ReferenceId", "Reason", "Actor", "Clamped", "CreatedAt",
}

func movementRow(m models.StockMovement) []interface{} {
	return []interface{}{
		m.ID, m.ProductId, string(m.Kind), string(m.Kind.Direction()), m.Quantity, m.PreviousQuantity, m.NewQuantity,
		m.ReferenceType, m.ReferenceId, m.Reason, m.Actor, m.IsClamped, m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// BuildMovementWorkbook lays movements out one per row under a heading row.
func BuildMovementWorkbook(movements []models.StockMovement) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", movementSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(movementSheet, "A1", &movementHeadings); err != nil {
		return nil, err
	}
	for i, m := range movements {
		row := movementRow(m)
		if err := f.SetSheetRow(movementSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ExportMovementHistory writes the newest limit movements of a product as XLSX.
func (s *StockService) ExportMovementHistory(ctx context.Context, productId int, limit int, w io.Writer) (int, error) {
	movements, err := s.GetMovementHistory(ctx, productId, limit)
	if err != nil {
		return 0, err
	}
	f, err := BuildMovementWorkbook(movements)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return 0, err
	}
	return len(movements), nil
}
