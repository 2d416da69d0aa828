package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/mmdatafocus/stock_ledger/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const expiringSoonWindow = 5 * time.Minute

type StockCheckItem struct {
	ProductId int `json:"product_id" validate:"required,gt=0"`
	Quantity  int `json:"quantity" validate:"required,gt=0"`
}

type StockCheck struct {
	ProductId int    `json:"product_id"`
	Requested int    `json:"requested"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	InStock   bool   `json:"in_stock"`
	Tracked   bool   `json:"tracked"`
	Message   string `json:"message,omitempty"`
}

type ReservationStats struct {
	ByStatus         map[models.ReservationStatus]int `json:"by_status"`
	ActiveCount      int                              `json:"active_count"`
	ActiveQuantity   int                              `json:"active_quantity"`
	ActiveHolders    int                              `json:"active_holders"`
	ExpiringSoon     int                              `json:"expiring_soon"`
	AverageActiveQty decimal.Decimal                  `json:"average_active_quantity"`
}

func newStockCheck(a models.Availability, requested int) StockCheck {
	check := StockCheck{
		ProductId: a.ProductId,
		Requested: requested,
		OnHand:    a.OnHand,
		Reserved:  a.Reserved,
		Available: a.Available,
		Tracked:   a.TrackQuantity,
	}
	check.InStock = !a.TrackQuantity || requested <= a.Available
	if !check.InStock {
		check.Message = (&models.InsufficientStockError{ProductId: a.ProductId, Requested: requested, Available: a.Available}).Error()
	}
	return check
}

// untrackedCheck answers for products without a stock record by asking the catalog.
func (s *StockService) untrackedCheck(ctx context.Context, productId int, requested int) (StockCheck, error) {
	info, err := s.Catalog.GetProduct(ctx, productId)
	if err != nil {
		return StockCheck{}, err
	}
	check := StockCheck{ProductId: productId, Requested: requested, Tracked: info.TrackQuantity}
	switch {
	case !info.IsActive:
		check.Message = models.ErrProductIneligible.Error()
	case !info.TrackQuantity:
		check.InStock = true
	default:
		check.Message = models.ErrStockRecordNotFound.Error()
	}
	return check, nil
}

// CheckStock reports whether requested units are available now.
// Served from the availability cache when enabled; entries never outlive the earliest live expiry.
func (s *StockService) CheckStock(ctx context.Context, productId int, requested int) (StockCheck, error) {
	ctx, span := tracer.Start(ctx, "AvailabilityQuery.CheckStock")
	span.SetAttributes(attribute.Int("product.id", productId), attribute.Int("requested", requested))
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(StockCheckItem{ProductId: productId, Quantity: requested}); err != nil {
		return StockCheck{}, err
	}
	if cached := s.cachedAvailability(ctx, productId); cached != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return newStockCheck(*cached, requested), nil
	}

	gen, cacheable := s.cacheGeneration(ctx, productId)
	now := s.now()
	a, earliest, err := s.loadAvailability(s.db(ctx), productId, now)
	if errors.Is(err, models.ErrStockRecordNotFound) {
		var check StockCheck
		check, err = s.untrackedCheck(ctx, productId, requested)
		return check, err
	}
	if err != nil {
		return StockCheck{}, err
	}
	if cacheable {
		s.cacheAvailability(ctx, a, gen, now, earliest)
	}
	return newStockCheck(a, requested), nil
}

// BulkCheckStock checks many products with one batched read for the cache misses.
func (s *StockService) BulkCheckStock(ctx context.Context, items []StockCheckItem) ([]StockCheck, error) {
	ctx, span := tracer.Start(ctx, "AvailabilityQuery.BulkCheckStock")
	span.SetAttributes(attribute.Int("items", len(items)))
	var err error
	defer func() { endSpan(span, err) }()

	for _, item := range items {
		if err = utils.ValidateStruct(item); err != nil {
			return nil, err
		}
	}
	checks := make([]StockCheck, len(items))
	var missIdx []int
	var missIds []int
	for i, item := range items {
		if cached := s.cachedAvailability(ctx, item.ProductId); cached != nil {
			checks[i] = newStockCheck(*cached, item.Quantity)
			continue
		}
		missIdx = append(missIdx, i)
		missIds = append(missIds, item.ProductId)
	}
	if len(missIds) == 0 {
		return checks, nil
	}

	now := s.now()
	loader := newAvailabilityLoader(s.DB, now)
	loaded, errs := loader.LoadMany(ctx, missIds)()
	for n, i := range missIdx {
		item := items[i]
		var loadErr error
		if len(errs) > n {
			loadErr = errs[n]
		}
		if errors.Is(loadErr, models.ErrStockRecordNotFound) {
			if checks[i], err = s.untrackedCheck(ctx, item.ProductId, item.Quantity); err != nil {
				return nil, err
			}
			continue
		}
		if loadErr != nil {
			err = loadErr
			return nil, err
		}
		checks[i] = newStockCheck(*loaded[n], item.Quantity)
	}
	return checks, nil
}

// LowStockList lists tracked products with 0 < on-hand <= threshold.
func (s *StockService) LowStockList(ctx context.Context) ([]models.Availability, error) {
	ctx, span := tracer.Start(ctx, "AvailabilityQuery.LowStockList")
	defer span.End()
	records, err := models.LowStockRecords(s.db(ctx))
	if err != nil {
		return nil, err
	}
	return s.withLiveReserved(ctx, records)
}

// OutOfStockList lists tracked products with nothing on hand.
func (s *StockService) OutOfStockList(ctx context.Context) ([]models.Availability, error) {
	ctx, span := tracer.Start(ctx, "AvailabilityQuery.OutOfStockList")
	defer span.End()
	records, err := models.OutOfStockRecords(s.db(ctx))
	if err != nil {
		return nil, err
	}
	return s.withLiveReserved(ctx, records)
}

func (s *StockService) withLiveReserved(ctx context.Context, records []models.StockRecord) ([]models.Availability, error) {
	ids := make([]int, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ProductId)
	}
	reserved, err := models.ActiveReservedQuantities(s.db(ctx), ids, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]models.Availability, 0, len(records))
	for _, r := range records {
		out = append(out, models.ComputeAvailability(r, reserved[r.ProductId]))
	}
	return out, nil
}

// GetMovementHistory returns the newest movements first; limit <= 0 means 50.
func (s *StockService) GetMovementHistory(ctx context.Context, productId int, limit int) ([]models.StockMovement, error) {
	ctx, span := tracer.Start(ctx, "AvailabilityQuery.GetMovementHistory")
	span.SetAttributes(attribute.Int("product.id", productId), attribute.Int("limit", limit))
	defer span.End()
	return models.MovementHistory(s.db(ctx), productId, limit)
}

func (s *StockService) GetReservationStats(ctx context.Context) (ReservationStats, error) {
	ctx, span := tracer.Start(ctx, "AvailabilityQuery.GetReservationStats")
	var err error
	defer func() { endSpan(span, err) }()

	counts, err := models.CountReservations(s.db(ctx), s.now(), expiringSoonWindow)
	if err != nil {
		return ReservationStats{}, err
	}
	avg := decimal.Zero
	if counts.ActiveCount > 0 {
		avg = decimal.NewFromInt(int64(counts.ActiveQuantity)).
			Div(decimal.NewFromInt(int64(counts.ActiveCount))).
			Round(2)
	}
	return ReservationStats{
		ByStatus:         counts.ByStatus,
		ActiveCount:      counts.ActiveCount,
		ActiveQuantity:   counts.ActiveQuantity,
		ActiveHolders:    counts.ActiveHolders,
		ExpiringSoon:     counts.ExpiringSoon,
		AverageActiveQty: avg,
	}, nil
}
