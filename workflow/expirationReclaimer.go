package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type CleanupResult struct {
	ReleasedCount  int   `json:"released_count"`
	TotalQuantity  int   `json:"total_quantity"`
	ProductIds     []int `json:"product_ids"`
	FailedProducts []int `json:"failed_products,omitempty"`
}

// CleanupExpired marks lapsed holds EXPIRED and recomputes reserved for each affected product.
// Each product is swept under its own lock in one batch update; a failing product is logged
// and picked up again on the next cycle.
func (s *StockService) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	ctx, span := tracer.Start(ctx, "ExpirationReclaimer.CleanupExpired")
	var err error
	defer func() { endSpan(span, err) }()

	var result CleanupResult
	candidates, err := models.ExpiredUnreleasedReservations(s.db(ctx), 0, s.now(), 0)
	if err != nil {
		config.LogError(s.Logger, "ExpirationReclaimer", "CleanupExpired", "list expired reservations", nil, err)
		return result, err
	}
	seen := make(map[int]bool)
	for _, r := range candidates {
		if !seen[r.ProductId] {
			seen[r.ProductId] = true
			result.ProductIds = append(result.ProductIds, r.ProductId)
		}
	}
	sort.Ints(result.ProductIds)

	for _, productId := range result.ProductIds {
		count, quantity, sweepErr := s.sweepProduct(ctx, productId)
		if sweepErr != nil {
			result.FailedProducts = append(result.FailedProducts, productId)
			config.LogError(s.Logger, "ExpirationReclaimer", "CleanupExpired", "sweep product", productId, sweepErr)
			continue
		}
		result.ReleasedCount += count
		result.TotalQuantity += quantity
	}

	span.SetAttributes(
		attribute.Int("released.count", result.ReleasedCount),
		attribute.Int("released.quantity", result.TotalQuantity),
	)
	if result.ReleasedCount > 0 {
		s.Logger.WithFields(logrus.Fields{
			"field":          "ExpirationReclaimer",
			"released_count": result.ReleasedCount,
			"total_quantity": result.TotalQuantity,
			"product_ids":    result.ProductIds,
		}).Info("expired reservations reclaimed")
	}
	return result, nil
}

func (s *StockService) sweepProduct(ctx context.Context, productId int) (int, int, error) {
	var count, quantity int
	err := s.withProductTx(ctx, productId, func(tx *gorm.DB) error {
		count, quantity = 0, 0
		if _, err := models.LockStockRecord(tx, productId); err != nil {
			return err
		}
		now := s.now()
		// Re-read under the lock: a concurrent release or conversion may have closed some rows.
		rows, err := models.ExpiredUnreleasedReservations(tx, productId, now, 0)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
			quantity += r.Quantity
		}
		affected, err := models.ExpireReservations(tx, ids, now)
		if err != nil {
			return err
		}
		if int(affected) != len(ids) {
			return models.ErrConcurrentUpdateConflict
		}
		count = len(ids)
		_, err = recomputeReservedTx(tx, productId, now)
		return err
	})
	return count, quantity, err
}

// ExpirationReclaimer runs CleanupExpired on a fixed interval until ctx is done.
type ExpirationReclaimer struct {
	Service  *StockService
	Interval time.Duration
}

func NewExpirationReclaimer(service *StockService) *ExpirationReclaimer {
	interval := service.Settings.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSettings().SweepInterval
	}
	return &ExpirationReclaimer{Service: service, Interval: interval}
}

func (r *ExpirationReclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		// Errors are logged inside CleanupExpired and retried next tick.
		_, _ = r.Service.CleanupExpired(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
