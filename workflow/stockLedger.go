package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/mmdatafocus/stock_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// StockRecordInput provisions the per-product counter row.
type StockRecordInput struct {
	ProductId         int    `json:"product_id" validate:"required,gt=0"`
	InitialQuantity   int    `json:"initial_quantity" validate:"gte=0"`
	LowStockThreshold int    `json:"low_stock_threshold" validate:"gte=0"`
	TrackQuantity     bool   `json:"track_quantity"`
	Actor             string `json:"actor" validate:"max=100"`
}

// GetAvailability reads on-hand from the record and reserved from the live aggregate,
// so holds past expiry are excluded whether or not the sweep has run.
func (s *StockService) GetAvailability(ctx context.Context, productId int) (models.Availability, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.GetAvailability")
	span.SetAttributes(attribute.Int("product.id", productId))
	var err error
	defer func() { endSpan(span, err) }()

	var a models.Availability
	a, _, err = s.loadAvailability(s.db(ctx), productId, s.now())
	return a, err
}

func (s *StockService) loadAvailability(db *gorm.DB, productId int, now time.Time) (models.Availability, *time.Time, error) {
	rec, err := models.FetchStockRecord(db, productId)
	if err != nil {
		return models.Availability{}, nil, err
	}
	live, err := models.ActiveReservedQuantity(db, productId, now)
	if err != nil {
		return models.Availability{}, nil, err
	}
	earliest, err := models.EarliestActiveExpiry(db, productId, now)
	if err != nil {
		return models.Availability{}, nil, err
	}
	return models.ComputeAvailability(*rec, live), earliest, nil
}

// ApplyMovement changes on-hand and appends exactly one movement row in the same transaction.
func (s *StockService) ApplyMovement(ctx context.Context, in models.MovementInput) (*models.StockRecord, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.ApplyMovement")
	span.SetAttributes(
		attribute.Int("product.id", in.ProductId),
		attribute.String("movement.kind", string(in.Kind)),
		attribute.Int("movement.quantity", in.Quantity),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = in.Validate(); err != nil {
		return nil, err
	}

	var rec *models.StockRecord
	err = s.withProductTx(ctx, in.ProductId, func(tx *gorm.DB) error {
		locked, lockErr := models.LockStockRecord(tx, in.ProductId)
		if lockErr != nil {
			return lockErr
		}
		if _, applyErr := s.applyMovementTx(ctx, tx, locked, in, 0, s.now()); applyErr != nil {
			return applyErr
		}
		rec = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// applyMovementTx is the only code path that writes on-hand.
// held is quantity the caller has already set aside for this movement (a reservation being
// converted) and counts toward availability for outbound kinds.
func (s *StockService) applyMovementTx(ctx context.Context, tx *gorm.DB, rec *models.StockRecord, in models.MovementInput, held int, now time.Time) (*models.StockMovement, error) {
	prev := rec.OnHandQuantity
	next := prev + in.Quantity
	clamped := false

	if in.Kind.IsOutbound() {
		live, err := models.ActiveReservedQuantity(tx, rec.ProductId, now)
		if err != nil {
			return nil, err
		}
		available := prev - live + held
		if available < in.Quantity {
			return nil, &models.InsufficientStockError{ProductId: rec.ProductId, Requested: in.Quantity, Available: available}
		}
		next = prev - in.Quantity
		if next < 0 {
			// Floor at zero and raise a drift alert; reaching here means on-hand and holds disagreed.
			next = 0
			clamped = true
			s.Logger.WithFields(logrus.Fields{
				"field":              "StockLedger",
				"product_id":         rec.ProductId,
				"previous_quantity":  prev,
				"requested_quantity": in.Quantity,
				"kind":               in.Kind,
			}).Warn("outbound movement clamped at zero")
		}
	}

	if err := models.SaveOnHand(tx, rec, next); err != nil {
		return nil, err
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	movement := models.StockMovement{
		ProductId:        rec.ProductId,
		Kind:             in.Kind,
		Quantity:         in.Quantity,
		PreviousQuantity: prev,
		NewQuantity:      next,
		ReferenceType:    in.Reference.Type,
		ReferenceId:      in.Reference.Id,
		Reason:           in.Reason,
		Actor:            utils.ActorOrSystem(ctx, in.Actor),
		IsClamped:        clamped,
		CorrelationId:    correlationId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}

	notifications := models.NotificationsForTransition(*rec, prev, next, movement.ID, now, correlationId)
	if clamped {
		drift, err := models.NewDriftNotification(*rec, movement, now)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, drift)
	}
	for i := range notifications {
		if err := tx.Create(&notifications[i]).Error; err != nil {
			return nil, err
		}
	}
	return &movement, nil
}

// RecomputeReserved overwrites the cached reserved quantity with the live aggregate.
// It is a pure set, so redundant or concurrent calls converge on the same value.
func (s *StockService) RecomputeReserved(ctx context.Context, productId int) (int, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.RecomputeReserved")
	span.SetAttributes(attribute.Int("product.id", productId))
	var err error
	defer func() { endSpan(span, err) }()

	var reserved int
	err = s.withProductTx(ctx, productId, func(tx *gorm.DB) error {
		if _, lockErr := models.LockStockRecord(tx, productId); lockErr != nil {
			return lockErr
		}
		var recomputeErr error
		reserved, recomputeErr = recomputeReservedTx(tx, productId, s.now())
		return recomputeErr
	})
	return reserved, err
}

func recomputeReservedTx(tx *gorm.DB, productId int, now time.Time) (int, error) {
	live, err := models.ActiveReservedQuantity(tx, productId, now)
	if err != nil {
		return 0, err
	}
	if err := models.SaveReservedQuantity(tx, productId, live); err != nil {
		return 0, err
	}
	return live, nil
}

// EnsureStockRecord creates the product's record if missing, booking InitialQuantity as an
// INITIAL movement.
// An existing record keeps its on-hand; only threshold and tracking are updated.
func (s *StockService) EnsureStockRecord(ctx context.Context, in StockRecordInput) (*models.StockRecord, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.EnsureStockRecord")
	span.SetAttributes(attribute.Int("product.id", in.ProductId))
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	var rec *models.StockRecord
	err = s.withProductTx(ctx, in.ProductId, func(tx *gorm.DB) error {
		existing, lockErr := models.LockStockRecord(tx, in.ProductId)
		if lockErr == nil {
			if updErr := tx.Model(&models.StockRecord{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
				"low_stock_threshold": in.LowStockThreshold,
				"track_quantity":      in.TrackQuantity,
			}).Error; updErr != nil {
				return updErr
			}
			existing.LowStockThreshold = in.LowStockThreshold
			existing.TrackQuantity = in.TrackQuantity
			rec = existing
			return nil
		}
		if !errors.Is(lockErr, models.ErrStockRecordNotFound) {
			return lockErr
		}

		created := &models.StockRecord{
			ProductId:         in.ProductId,
			LowStockThreshold: in.LowStockThreshold,
			TrackQuantity:     in.TrackQuantity,
		}
		if createErr := tx.Create(created).Error; createErr != nil {
			return createErr
		}
		if in.InitialQuantity > 0 {
			initial := models.MovementInput{
				ProductId: in.ProductId,
				Kind:      models.MovementKindInitial,
				Quantity:  in.InitialQuantity,
				Reason:    "initial stock",
				Actor:     in.Actor,
				Reference: models.MovementReference{Type: models.ReferenceTypeStockRecord, Id: fmt.Sprint(created.ID)},
			}
			if _, applyErr := s.applyMovementTx(ctx, tx, created, initial, 0, s.now()); applyErr != nil {
				return applyErr
			}
		}
		rec = created
		return nil
	})
	if err != nil {
		config.LogError(s.Logger, "StockLedger", "EnsureStockRecord", "provision stock record", in, err)
		return nil, err
	}
	return rec, nil
}
