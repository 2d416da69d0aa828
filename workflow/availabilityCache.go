package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/mmdatafocus/stock_ledger/utils"
	"github.com/sirupsen/logrus"
)

// AvailabilitySnapshot is the cached read model, stored as AvailabilitySnapshot:<productId>.
type AvailabilitySnapshot struct {
	models.Availability
	CachedAt time.Time `json:"cached_at"`
}

// snapshotTTL caps the configured TTL at the earliest live expiry, so a cached value
// never keeps counting a hold that has lapsed.
func snapshotTTL(configured time.Duration, now time.Time, earliestExpiry *time.Time) time.Duration {
	ttl := configured
	if earliestExpiry != nil {
		if untilExpiry := earliestExpiry.Sub(now); untilExpiry < ttl {
			ttl = untilExpiry
		}
	}
	return ttl
}

func (s *StockService) cachedAvailability(ctx context.Context, productId int) *models.Availability {
	if s.Redis == nil || s.Settings.AvailabilityCacheTTL <= 0 {
		return nil
	}
	snap, err := utils.RetrieveRedis[AvailabilitySnapshot](ctx, s.Redis, productId)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":      "AvailabilityCache",
			"product_id": productId,
		}).Warn("availability cache read failed: " + err.Error())
		return nil
	}
	if snap == nil {
		return nil
	}
	return &snap.Availability
}

// cacheGeneration reads the product's cache generation before a database read.
// ok is false when the cache is disabled or unreachable, and the caller must not fill it.
func (s *StockService) cacheGeneration(ctx context.Context, productId int) (gen int64, ok bool) {
	if s.Redis == nil || s.Settings.AvailabilityCacheTTL <= 0 {
		return 0, false
	}
	gen, err := utils.RedisGeneration[AvailabilitySnapshot](ctx, s.Redis, productId)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":      "AvailabilityCache",
			"product_id": productId,
		}).Warn("availability cache generation read failed: " + err.Error())
		return 0, false
	}
	return gen, true
}

// cacheAvailability stores a snapshot read at generation gen. A product mutated since
// then has a newer generation and the snapshot is dropped.
func (s *StockService) cacheAvailability(ctx context.Context, a models.Availability, gen int64, now time.Time, earliestExpiry *time.Time) bool {
	ttl := snapshotTTL(s.Settings.AvailabilityCacheTTL, now, earliestExpiry)
	if ttl <= 0 {
		return false
	}
	snap := AvailabilitySnapshot{Availability: a, CachedAt: now}
	stored, err := utils.StoreRedisAtGeneration(ctx, s.Redis, a.ProductId, &snap, ttl, gen)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":      "AvailabilityCache",
			"product_id": a.ProductId,
		}).Warn("availability cache write failed: " + err.Error())
		return false
	}
	return stored
}

// onProductMutated is the single invalidation point. Every committed change to a
// product's on-hand or reservation set ends here. It bumps the generation so reads
// that started before the commit cannot write their snapshot back.
func (s *StockService) onProductMutated(ctx context.Context, productIds ...int) {
	if s.Redis == nil || len(productIds) == 0 {
		return
	}
	ids := make([]any, 0, len(productIds))
	for _, id := range utils.UniqueSlice(productIds) {
		ids = append(ids, id)
	}
	if err := utils.InvalidateRedisItems[AvailabilitySnapshot](context.WithoutCancel(ctx), s.Redis, ids...); err != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":       "AvailabilityCache",
			"product_ids": productIds,
		}).Error("availability cache invalidation failed: " + err.Error())
	}
}
