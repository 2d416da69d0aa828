package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/sirupsen/logrus"
)

type LedgerIssue string

const (
	LedgerIssueReservedDrift     LedgerIssue = "RESERVED_DRIFT"
	LedgerIssueNegativeAvailable LedgerIssue = "NEGATIVE_AVAILABLE"
	LedgerIssueMovementMismatch  LedgerIssue = "MOVEMENT_MISMATCH"
)

// LedgerFinding is one broken invariant on one product.
type LedgerFinding struct {
	ProductId int         `json:"product_id"`
	Issue     LedgerIssue `json:"issue"`
	Expected  int         `json:"expected"`
	Actual    int         `json:"actual"`
	Detail    string      `json:"detail"`
}

// CheckLedgerInvariants verifies, for every stock record:
// - cached reserved equals the live reservation aggregate
// - on-hand minus live reserved is not negative
// - on-hand equals the NewQuantity of the latest movement (when one exists)
func (s *StockService) CheckLedgerInvariants(ctx context.Context) ([]LedgerFinding, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.CheckLedgerInvariants")
	var err error
	defer func() { endSpan(span, err) }()

	var records []models.StockRecord
	if err = s.db(ctx).Order("product_id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ProductId)
	}
	live, err := models.ActiveReservedQuantities(s.db(ctx), ids, s.now())
	if err != nil {
		return nil, err
	}

	var findings []LedgerFinding
	for _, rec := range records {
		reserved := live[rec.ProductId]
		if rec.ReservedQuantity != reserved {
			findings = append(findings, LedgerFinding{
				ProductId: rec.ProductId,
				Issue:     LedgerIssueReservedDrift,
				Expected:  reserved,
				Actual:    rec.ReservedQuantity,
				Detail:    "cached reserved differs from live reservations",
			})
		}
		if rec.OnHandQuantity-reserved < 0 {
			findings = append(findings, LedgerFinding{
				ProductId: rec.ProductId,
				Issue:     LedgerIssueNegativeAvailable,
				Expected:  0,
				Actual:    rec.OnHandQuantity - reserved,
				Detail:    fmt.Sprintf("on hand %d, reserved %d", rec.OnHandQuantity, reserved),
			})
		}
		last, lastErr := models.LastMovement(s.db(ctx), rec.ProductId)
		if lastErr != nil {
			err = lastErr
			return nil, err
		}
		expectedOnHand := 0
		if last != nil {
			expectedOnHand = last.NewQuantity
		}
		if rec.OnHandQuantity != expectedOnHand {
			findings = append(findings, LedgerFinding{
				ProductId: rec.ProductId,
				Issue:     LedgerIssueMovementMismatch,
				Expected:  expectedOnHand,
				Actual:    rec.OnHandQuantity,
				Detail:    "on hand differs from latest movement",
			})
		}
	}

	s.Logger.WithFields(logrus.Fields{
		"field":    "LedgerChecks",
		"products": len(records),
		"findings": len(findings),
	}).Info("ledger invariant check completed")
	return findings, nil
}
