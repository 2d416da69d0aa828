package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/mmdatafocus/stock_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type ReserveOutcome string

const (
	ReserveOutcomeReserved ReserveOutcome = "RESERVED"
	ReserveOutcomeReplaced ReserveOutcome = "REPLACED"
	// ReserveOutcomeBypassed is returned for untracked products; no row is written.
	ReserveOutcomeBypassed ReserveOutcome = "BYPASSED"
	ReserveOutcomeRejected ReserveOutcome = "REJECTED"
)

const (
	releaseNoteCancelled = "cancelled"
	releaseNoteReplaced  = "replaced"
)

type ReserveRequest struct {
	ProductId  int    `json:"product_id" validate:"required,gt=0"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
	HolderRef  string `json:"holder_ref" validate:"required,max=100"`
	Reason     string `json:"reason" validate:"max=255"`
	TTLMinutes int    `json:"ttl_minutes" validate:"gte=0"`
}

type ReserveItem struct {
	ProductId int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// ReserveResult is a normal outcome; rejection is not an error.
// Err carries models.ErrInsufficientStock or models.ErrProductIneligible when rejected.
type ReserveResult struct {
	Success     bool                `json:"success"`
	Outcome     ReserveOutcome      `json:"outcome"`
	ProductId   int                 `json:"product_id"`
	Quantity    int                 `json:"quantity"`
	Available   int                 `json:"available"`
	Reservation *models.Reservation `json:"reservation,omitempty"`
	Message     string              `json:"message,omitempty"`
	Err         error               `json:"-"`
}

type ReleaseResult struct {
	Success       bool                     `json:"success"`
	ReservationId string                   `json:"reservation_id"`
	ProductId     int                      `json:"product_id"`
	Quantity      int                      `json:"quantity"`
	Status        models.ReservationStatus `json:"status"`
	Message       string                   `json:"message,omitempty"`
}

type ReleaseByHolderResult struct {
	Success       bool            `json:"success"`
	ReleasedCount int             `json:"released_count"`
	TotalQuantity int             `json:"total_quantity"`
	Results       []ReleaseResult `json:"results"`
}

type ExtendResult struct {
	Success     bool                `json:"success"`
	Reservation *models.Reservation `json:"reservation,omitempty"`
	Message     string              `json:"message,omitempty"`
	Err         error               `json:"-"`
}

func rejected(req ReserveRequest, err error, available int) ReserveResult {
	return ReserveResult{
		Outcome:   ReserveOutcomeRejected,
		ProductId: req.ProductId,
		Quantity:  req.Quantity,
		Available: available,
		Message:   err.Error(),
		Err:       err,
	}
}

// Reserve places or replaces the hold of holderRef on a product.
// An existing live hold of the same holder is replaced (released, new row inserted), so the
// availability check credits the old quantity back.
func (s *StockService) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationManager.Reserve")
	span.SetAttributes(
		attribute.Int("product.id", req.ProductId),
		attribute.String("holder.ref", req.HolderRef),
		attribute.Int("reservation.quantity", req.Quantity),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(req); err != nil {
		return ReserveResult{}, err
	}

	info, err := s.Catalog.GetProduct(ctx, req.ProductId)
	if err != nil {
		return ReserveResult{}, err
	}
	if !info.IsActive {
		return rejected(req, models.ErrProductIneligible, 0), nil
	}
	if !info.TrackQuantity {
		return ReserveResult{
			Success:   true,
			Outcome:   ReserveOutcomeBypassed,
			ProductId: req.ProductId,
			Quantity:  req.Quantity,
			Message:   "product does not track quantity",
		}, nil
	}

	var result ReserveResult
	err = s.withProductTx(ctx, req.ProductId, func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.reserveTx(tx, req, s.now())
		return txErr
	})
	if err != nil {
		config.LogError(s.Logger, "ReservationManager", "Reserve", "reserve stock", req, err)
		return ReserveResult{}, err
	}
	return result, nil
}

func (s *StockService) reserveTx(tx *gorm.DB, req ReserveRequest, now time.Time) (ReserveResult, error) {
	rec, err := models.LockStockRecord(tx, req.ProductId)
	if err != nil {
		return ReserveResult{}, err
	}
	if !rec.TrackQuantity {
		return ReserveResult{Success: true, Outcome: ReserveOutcomeBypassed, ProductId: req.ProductId, Quantity: req.Quantity}, nil
	}

	existing, err := models.FindUnreleasedReservation(tx, req.ProductId, req.HolderRef)
	if err != nil {
		return ReserveResult{}, err
	}
	if existing != nil && !existing.IsActiveAt(now) {
		// Lapsed hold found in passing; close it so it is not replaced as if it were live.
		if _, err := models.MarkReservationTerminal(tx, existing.ID, models.TerminalUpdate{
			Status: models.ReservationStatusExpired,
			At:     now,
		}); err != nil {
			return ReserveResult{}, err
		}
		existing = nil
	}

	live, err := models.ActiveReservedQuantity(tx, req.ProductId, now)
	if err != nil {
		return ReserveResult{}, err
	}
	credit := 0
	if existing != nil {
		credit = existing.Quantity
	}
	available := rec.OnHandQuantity - live + credit

	if req.Quantity > available {
		if _, err := recomputeReservedTx(tx, req.ProductId, now); err != nil {
			return ReserveResult{}, err
		}
		return rejected(req, &models.InsufficientStockError{
			ProductId: req.ProductId,
			Requested: req.Quantity,
			Available: available,
		}, available), nil
	}

	if err := models.BumpStockVersion(tx, rec); err != nil {
		return ReserveResult{}, err
	}

	reservation := &models.Reservation{
		ID:        uuid.NewString(),
		ProductId: req.ProductId,
		HolderRef: req.HolderRef,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Status:    models.ReservationStatusActive,
		ExpiresAt: now.Add(s.reservationTTL(req.TTLMinutes)),
	}
	outcome := ReserveOutcomeReserved
	if existing != nil {
		note := releaseNoteReplaced
		ok, err := models.MarkReservationTerminal(tx, existing.ID, models.TerminalUpdate{
			Status:       models.ReservationStatusReleased,
			At:           now,
			Note:         &note,
			ReplacedById: &reservation.ID,
		})
		if err != nil {
			return ReserveResult{}, err
		}
		if !ok {
			return ReserveResult{}, models.ErrConcurrentUpdateConflict
		}
		outcome = ReserveOutcomeReplaced
	}
	if err := tx.Create(reservation).Error; err != nil {
		return ReserveResult{}, err
	}

	reserved, err := recomputeReservedTx(tx, req.ProductId, now)
	if err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{
		Success:     true,
		Outcome:     outcome,
		ProductId:   req.ProductId,
		Quantity:    req.Quantity,
		Available:   rec.OnHandQuantity - reserved,
		Reservation: reservation,
	}, nil
}

// BulkReserve reserves each item independently. Earlier successes are kept when a later item
// fails; callers inspect the results and release what they do not want.
func (s *StockService) BulkReserve(ctx context.Context, items []ReserveItem, holderRef string, reason string, ttlMinutes int) []ReserveResult {
	ctx, span := tracer.Start(ctx, "ReservationManager.BulkReserve")
	span.SetAttributes(attribute.String("holder.ref", holderRef), attribute.Int("items", len(items)))
	defer span.End()

	results := make([]ReserveResult, 0, len(items))
	for _, item := range items {
		req := ReserveRequest{
			ProductId:  item.ProductId,
			Quantity:   item.Quantity,
			HolderRef:  holderRef,
			Reason:     reason,
			TTLMinutes: ttlMinutes,
		}
		res, err := s.Reserve(ctx, req)
		if err != nil {
			res = rejected(req, err, 0)
		}
		results = append(results, res)
	}
	return results
}

// Release cancels one reservation. A reservation that is missing or already terminal
// yields Success=false, never an error.
func (s *StockService) Release(ctx context.Context, reservationId string) (ReleaseResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationManager.Release")
	span.SetAttributes(attribute.String("reservation.id", reservationId))
	var err error
	defer func() { endSpan(span, err) }()

	r, err := models.FetchReservation(s.db(ctx), reservationId)
	if errors.Is(err, models.ErrReservationNotFound) {
		err = nil
		return ReleaseResult{ReservationId: reservationId, Message: models.ErrReservationNotFound.Error()}, nil
	}
	if err != nil {
		return ReleaseResult{}, err
	}
	if r.IsReleased {
		return softTerminal(*r, r.Status), nil
	}

	var result ReleaseResult
	err = s.withProductTx(ctx, r.ProductId, func(tx *gorm.DB) error {
		if _, lockErr := models.LockStockRecord(tx, r.ProductId); lockErr != nil {
			return lockErr
		}
		var txErr error
		result, txErr = releaseTx(tx, *r, s.now())
		return txErr
	})
	if err != nil {
		config.LogError(s.Logger, "ReservationManager", "Release", "release reservation", reservationId, err)
		return ReleaseResult{}, err
	}
	return result, nil
}

func softTerminal(r models.Reservation, status models.ReservationStatus) ReleaseResult {
	return ReleaseResult{
		ReservationId: r.ID,
		ProductId:     r.ProductId,
		Quantity:      r.Quantity,
		Status:        status,
		Message:       fmt.Sprintf("%s: %s", models.ErrReservationTerminal.Error(), status),
	}
}

// releaseTx releases a live reservation or, if it lapsed, records it as EXPIRED.
func releaseTx(tx *gorm.DB, r models.Reservation, now time.Time) (ReleaseResult, error) {
	update := models.TerminalUpdate{Status: models.ReservationStatusReleased, At: now}
	if r.IsActiveAt(now) {
		note := releaseNoteCancelled
		update.Note = &note
	} else {
		update.Status = models.ReservationStatusExpired
	}
	ok, err := models.MarkReservationTerminal(tx, r.ID, update)
	if err != nil {
		return ReleaseResult{}, err
	}
	if _, err := recomputeReservedTx(tx, r.ProductId, now); err != nil {
		return ReleaseResult{}, err
	}
	if !ok {
		current, err := models.FetchReservation(tx, r.ID)
		if err != nil {
			return ReleaseResult{}, err
		}
		return softTerminal(*current, current.Status), nil
	}
	if update.Status != models.ReservationStatusReleased {
		return softTerminal(r, update.Status), nil
	}
	return ReleaseResult{
		Success:       true,
		ReservationId: r.ID,
		ProductId:     r.ProductId,
		Quantity:      r.Quantity,
		Status:        models.ReservationStatusReleased,
	}, nil
}

// ReleaseByHolder releases every live hold of holderRef, one product at a time.
func (s *StockService) ReleaseByHolder(ctx context.Context, holderRef string) (ReleaseByHolderResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationManager.ReleaseByHolder")
	span.SetAttributes(attribute.String("holder.ref", holderRef))
	var err error
	defer func() { endSpan(span, err) }()

	rows, err := models.UnreleasedReservationsByHolder(s.db(ctx), holderRef)
	if err != nil {
		return ReleaseByHolderResult{}, err
	}
	byProduct := make(map[int][]models.Reservation)
	for _, r := range rows {
		byProduct[r.ProductId] = append(byProduct[r.ProductId], r)
	}
	productIds := make([]int, 0, len(byProduct))
	for id := range byProduct {
		productIds = append(productIds, id)
	}
	sort.Ints(productIds)

	var out ReleaseByHolderResult
	for _, productId := range productIds {
		var results []ReleaseResult
		err = s.withProductTx(ctx, productId, func(tx *gorm.DB) error {
			results = results[:0]
			if _, lockErr := models.LockStockRecord(tx, productId); lockErr != nil {
				return lockErr
			}
			now := s.now()
			for _, r := range byProduct[productId] {
				res, txErr := releaseTx(tx, r, now)
				if txErr != nil {
					return txErr
				}
				results = append(results, res)
			}
			return nil
		})
		if err != nil {
			config.LogError(s.Logger, "ReservationManager", "ReleaseByHolder", "release holder reservations", holderRef, err)
			return out, err
		}
		for _, res := range results {
			if res.Success {
				out.ReleasedCount++
				out.TotalQuantity += res.Quantity
			}
			out.Results = append(out.Results, res)
		}
	}
	out.Success = out.ReleasedCount > 0
	s.Logger.WithFields(logrus.Fields{
		"field":          "ReservationManager",
		"holder_ref":     holderRef,
		"released_count": out.ReleasedCount,
		"total_quantity": out.TotalQuantity,
	}).Info("released holder reservations")
	return out, nil
}

// Extend pushes the expiry of a live reservation forward by additionalMinutes.
func (s *StockService) Extend(ctx context.Context, reservationId string, additionalMinutes int) (ExtendResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationManager.Extend")
	span.SetAttributes(attribute.String("reservation.id", reservationId), attribute.Int("additional.minutes", additionalMinutes))
	var err error
	defer func() { endSpan(span, err) }()

	if additionalMinutes <= 0 {
		err = fmt.Errorf("invalid input: additionalMinutes must be positive")
		return ExtendResult{}, err
	}
	r, err := models.FetchReservation(s.db(ctx), reservationId)
	if errors.Is(err, models.ErrReservationNotFound) {
		err = nil
		return ExtendResult{Message: models.ErrReservationNotFound.Error(), Err: models.ErrReservationNotFound}, nil
	}
	if err != nil {
		return ExtendResult{}, err
	}

	var result ExtendResult
	err = s.withProductTx(ctx, r.ProductId, func(tx *gorm.DB) error {
		if _, lockErr := models.LockStockRecord(tx, r.ProductId); lockErr != nil {
			return lockErr
		}
		now := s.now()
		current, fetchErr := models.FetchReservation(tx, reservationId)
		if fetchErr != nil {
			return fetchErr
		}
		if !current.IsActiveAt(now) {
			result = ExtendResult{
				Reservation: current,
				Message:     fmt.Sprintf("%s: %s", models.ErrReservationTerminal.Error(), current.EffectiveStatus(now)),
				Err:         models.ErrReservationTerminal,
			}
			return nil
		}
		newExpiry := current.ExpiresAt.Add(time.Duration(additionalMinutes) * time.Minute)
		ok, extErr := models.ExtendReservation(tx, current.ID, now, newExpiry)
		if extErr != nil {
			return extErr
		}
		if !ok {
			result = ExtendResult{Reservation: current, Message: models.ErrReservationTerminal.Error(), Err: models.ErrReservationTerminal}
			return nil
		}
		current.ExpiresAt = newExpiry
		result = ExtendResult{Success: true, Reservation: current}
		return nil
	})
	if err != nil {
		return ExtendResult{}, err
	}
	return result, nil
}
