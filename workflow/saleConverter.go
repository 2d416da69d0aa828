package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type ConversionItem struct {
	Success       bool   `json:"success"`
	ReservationId string `json:"reservation_id"`
	ProductId     int    `json:"product_id"`
	Quantity      int    `json:"quantity"`
	MovementId    int    `json:"movement_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Err           error  `json:"-"`
}

type ConversionResult struct {
	ConvertedCount int              `json:"converted_count"`
	TotalQuantity  int              `json:"total_quantity"`
	Items          []ConversionItem `json:"items"`
}

// AllConverted reports whether nothing is left for a retry to pick up.
func (r ConversionResult) AllConverted() bool {
	for _, item := range r.Items {
		if !item.Success && !errors.Is(item.Err, models.ErrReservationTerminal) {
			return false
		}
	}
	return true
}

// ConvertToSale turns every live hold of holderRef into a SALE movement.
// Each reservation converts in its own transaction; a failed item is left ACTIVE and
// reported, and a retry skips reservations already converted.
func (s *StockService) ConvertToSale(ctx context.Context, holderRef string, actor string) (ConversionResult, error) {
	ctx, span := tracer.Start(ctx, "SaleConverter.ConvertToSale")
	span.SetAttributes(attribute.String("holder.ref", holderRef))
	var err error
	defer func() { endSpan(span, err) }()

	var result ConversionResult
	rows, err := models.ActiveReservationsByHolder(s.db(ctx), holderRef, s.now())
	if err != nil {
		return result, err
	}
	for _, r := range rows {
		item := s.convertReservation(ctx, r, holderRef, actor)
		if item.Success {
			result.ConvertedCount++
			result.TotalQuantity += item.Quantity
		}
		result.Items = append(result.Items, item)
	}

	span.SetAttributes(
		attribute.Int("converted.count", result.ConvertedCount),
		attribute.Int("converted.quantity", result.TotalQuantity),
	)
	s.Logger.WithFields(logrus.Fields{
		"field":           "SaleConverter",
		"holder_ref":      holderRef,
		"converted_count": result.ConvertedCount,
		"total_quantity":  result.TotalQuantity,
		"items":           len(result.Items),
	}).Info("holder reservations converted")
	return result, nil
}

func (s *StockService) convertReservation(ctx context.Context, r models.Reservation, holderRef string, actor string) ConversionItem {
	item := ConversionItem{ReservationId: r.ID, ProductId: r.ProductId, Quantity: r.Quantity}
	err := s.withProductTx(ctx, r.ProductId, func(tx *gorm.DB) error {
		item.Success, item.MovementId, item.Message, item.Err = false, 0, "", nil
		rec, err := models.LockStockRecord(tx, r.ProductId)
		if err != nil {
			return err
		}
		now := s.now()
		current, err := models.FetchReservation(tx, r.ID)
		if err != nil {
			return err
		}
		if !current.IsActiveAt(now) {
			// Lost the race to a release or expiry; nothing to convert.
			item.Err = models.ErrReservationTerminal
			item.Message = models.ErrReservationTerminal.Error() + ": " + string(current.EffectiveStatus(now))
			return nil
		}

		movement, err := s.applyMovementTx(ctx, tx, rec, models.MovementInput{
			ProductId: r.ProductId,
			Kind:      models.MovementKindSale,
			Quantity:  r.Quantity,
			Reason:    "reservation converted",
			Actor:     actor,
			Reference: models.MovementReference{Type: models.ReferenceTypeHolder, Id: holderRef},
		}, r.Quantity, now)
		if err != nil {
			return err
		}

		settlement := holderRef
		ok, err := models.MarkReservationTerminal(tx, r.ID, models.TerminalUpdate{
			Status:               models.ReservationStatusConverted,
			At:                   now,
			SettlementReference:  &settlement,
			SettlementMovementId: &movement.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrConcurrentUpdateConflict
		}
		if _, err := recomputeReservedTx(tx, r.ProductId, now); err != nil {
			return err
		}
		item.Success = true
		item.MovementId = movement.ID
		return nil
	})
	if err != nil {
		item.Success = false
		item.MovementId = 0
		item.Err = err
		item.Message = err.Error()
		config.LogError(s.Logger, "SaleConverter", "convertReservation", "convert reservation", r.ID, err)
	}
	return item
}
